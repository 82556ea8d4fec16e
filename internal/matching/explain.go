package matching

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ticketmatch/backend/internal/models"
	"github.com/ticketmatch/backend/internal/roster"
)

const (
	strongProfileThreshold  = 0.3
	immediateAvailThreshold = 0.5
	experiencedThreshold    = 0.5
)

// winnerFragments lists the component scores that crossed a notable threshold.
func winnerFragments(t models.Ticket, c Candidate) []string {
	var parts []string
	if c.Profile > strongProfileThreshold {
		parts = append(parts, "strong line-of-business match")
	}
	if c.Availability.Score > immediateAvailThreshold {
		parts = append(parts, "immediately available")
	}
	if c.Expertise > experiencedThreshold {
		product := strings.TrimSpace(t.PrimaryProduct)
		if product == "" {
			product = "this product"
		}
		parts = append(parts, "experienced with "+product)
	}
	if c.Boosted {
		parts = append(parts, "urgency boost applied")
	}
	return parts
}

func explainWinner(c Candidate) string {
	parts := c.Reasons
	if len(parts) == 0 {
		parts = []string{"best overall compatibility score"}
	}
	who := c.Ambassador.ID
	if name := strings.TrimSpace(c.Ambassador.Name); name != "" {
		who = fmt.Sprintf("%s (%s)", name, c.Ambassador.ID)
	}
	return fmt.Sprintf("Assigned to %s: %s", who, strings.Join(parts, ", "))
}

// CandidateReport is the debug view of one ambassador for one ticket.
type CandidateReport struct {
	AmbassadorID string                 `json:"ambassador_id"`
	Name         string                 `json:"name"`
	Eligible     bool                   `json:"eligible"`
	ReasonCode   string                 `json:"reason_code"`
	Load         int                    `json:"current_tickets"`
	Capacity     int                    `json:"max_active_tickets"`
	Scores       models.ComponentScores `json:"scores"`
	Reasons      []string               `json:"reasons,omitempty"`
}

type Breakdown struct {
	TicketID        string            `json:"ticket_id"`
	At              time.Time         `json:"at"`
	Formula         Formula           `json:"formula"`
	Candidates      []CandidateReport `json:"candidates"`
	Ineligible      map[string]int    `json:"ineligible"`
	WouldPick       *string           `json:"would_pick,omitempty"`
	WouldPickReason string            `json:"would_pick_reason"`
}

// Explain scores every ambassador against one ticket without touching any
// state. Reports are sorted by final score, best first; ties keep input
// order.
func (e *Engine) Explain(snap *roster.Snapshot, ticketID string, at time.Time) (Breakdown, error) {
	var (
		ticket models.Ticket
		found  bool
	)
	for _, t := range snap.Tickets {
		if t.CaseNumber == ticketID {
			ticket, found = t, true
			break
		}
	}
	if !found {
		return Breakdown{}, fmt.Errorf("%w: %s", ErrUnknownTicket, ticketID)
	}
	if at.IsZero() {
		at = e.opts.Now()
	}

	scorer := Scorer{Directory: snap.Directory, Formula: e.opts.Formula}
	all := e.opts.Evaluator.Evaluate(ticket, snap.Directory.All(), snap.Shifts, at)

	var eligible []Candidate
	reports := make([]CandidateReport, 0, len(all))
	for _, av := range all {
		c := buildCandidate(ticket, av, scorer.Score(av.Ambassador.ID, ticket))
		if av.Eligible {
			eligible = append(eligible, c)
		}
		reports = append(reports, CandidateReport{
			AmbassadorID: av.Ambassador.ID,
			Name:         av.Ambassador.Name,
			Eligible:     av.Eligible,
			ReasonCode:   av.ReasonCode,
			Load:         av.Ambassador.CurrentTickets,
			Capacity:     capacityOf(av.Ambassador),
			Scores:       c.Scores(),
			Reasons:      c.Reasons,
		})
	}
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Scores.Final > reports[j].Scores.Final
	})

	out := Breakdown{
		TicketID:   ticketID,
		At:         at,
		Formula:    e.opts.Formula,
		Candidates: reports,
		Ineligible: CountReasons(all),
	}
	sel := ScoreSelector{}.Select(context.Background(), ticket, eligible)
	if sel.Index >= 0 {
		id := eligible[sel.Index].Ambassador.ID
		out.WouldPick = &id
	}
	out.WouldPickReason = sel.Explanation
	return out, nil
}
