// Package ai is the language-model side of matching. A Matcher asks an
// external model to pick an ambassador for a ticket and reports every call
// as a Result whose Status separates transport failures from malformed
// replies. An Analyzer extracts topic, urgency and sentiment from ticket
// text so tickets missing them can be filled in before a pass.
package ai

import (
	"context"
	"errors"
	"time"

	"github.com/ticketmatch/backend/internal/models"
)

type Matcher interface {
	Match(ctx context.Context, req MatchRequest) Result
}

type Status string

const (
	StatusSuccess           Status = "success"
	StatusTransportFailure  Status = "transport_failure"
	StatusMalformedResponse Status = "malformed_response"
)

var ErrMalformed = errors.New("malformed match response")

type Decision struct {
	AmbassadorID string  `json:"ambassador_id"`
	Explanation  string  `json:"explanation"`
	Confidence   float64 `json:"confidence_score"`
}

type Result struct {
	Status    Status
	Decision  Decision
	Err       error
	LatencyMs int64
}

func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

func success(d Decision, start time.Time) Result {
	return Result{Status: StatusSuccess, Decision: d, LatencyMs: time.Since(start).Milliseconds()}
}

func transportFailure(err error, start time.Time) Result {
	return Result{Status: StatusTransportFailure, Err: err, LatencyMs: time.Since(start).Milliseconds()}
}

func malformed(err error, start time.Time) Result {
	if !errors.Is(err, ErrMalformed) {
		err = errors.Join(ErrMalformed, err)
	}
	return Result{Status: StatusMalformedResponse, Err: err, LatencyMs: time.Since(start).Milliseconds()}
}

type TicketPayload struct {
	CaseNumber        string `json:"case_number"`
	LineOfBusiness    string `json:"line_of_business"`
	PrimaryProduct    string `json:"primary_product"`
	CreationTimestamp string `json:"creation_timestamp"`
	CurrentState      string `json:"current_state"`
	Priority          string `json:"priority"`
	Complexity        string `json:"complexity"`
}

type AmbassadorPayload struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Skills          []string `json:"skills"`
	CSATScore       float64  `json:"csat_score"`
	ExpertiseLevel  string   `json:"expertise_level"`
	CurrentWorkload int      `json:"current_workload"`
}

type MatchRequest struct {
	Ticket               TicketPayload       `json:"ticket"`
	AvailableAmbassadors []AmbassadorPayload `json:"available_ambassadors"`
}

func NewMatchRequest(t models.Ticket, available []models.Ambassador) MatchRequest {
	created := ""
	if !t.CreatedAt.IsZero() {
		created = t.CreatedAt.UTC().Format(time.RFC3339)
	}
	priority := t.Priority
	if priority == "" {
		priority = t.Urgency.String()
	}
	complexity := t.Complexity
	if complexity == "" {
		complexity = t.TechnicalProficiency.String()
	}
	state := t.CurrentState
	if state == "" {
		state = "new"
	}

	req := MatchRequest{
		Ticket: TicketPayload{
			CaseNumber:        t.CaseNumber,
			LineOfBusiness:    t.LineOfBusiness,
			PrimaryProduct:    t.PrimaryProduct,
			CreationTimestamp: created,
			CurrentState:      state,
			Priority:          priority,
			Complexity:        complexity,
		},
		AvailableAmbassadors: make([]AmbassadorPayload, 0, len(available)),
	}
	for _, a := range available {
		skills := a.Skills
		if skills == nil {
			skills = []string{}
		}
		req.AvailableAmbassadors = append(req.AvailableAmbassadors, AmbassadorPayload{
			ID:              a.ID,
			Name:            a.Name,
			Skills:          skills,
			CSATScore:       a.CSAT,
			ExpertiseLevel:  a.ExpertiseLevel.String(),
			CurrentWorkload: a.CurrentTickets,
		})
	}
	return req
}
