// Package matching decides which ambassador, if any, takes each ticket of an
// assignment pass.
package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ticketmatch/backend/internal/ledger"
	"github.com/ticketmatch/backend/internal/models"
	"github.com/ticketmatch/backend/internal/roster"
)

const (
	ReasonAssigned       = "ASSIGNED"
	ReasonNoAvailable    = "NO_AVAILABLE_AMBASSADORS"
	ReasonZeroAffinity   = "ZERO_AFFINITY"
	ReasonLLMTransport   = "LLM_TRANSPORT_FAILURE"
	ReasonLLMMalformed   = "LLM_MALFORMED_RESPONSE"
	ReasonLedgerConflict = "LEDGER_CONFLICT"
)

const (
	explainNoAvailable  = "No available ambassadors."
	explainZeroAffinity = "Available ambassadors had zero affinity for this ticket."
)

const (
	profileWeight         = 0.4
	availabilityWeight    = 0.3
	expertiseWeight       = 0.3
	urgencyBoostThreshold = 0.7
	urgencyBoostFactor    = 1.2
	defaultScoringWorkers = 1
)

var (
	ErrAlreadyAssigned = errors.New("ticket is already assigned")
	ErrUnknownTicket   = errors.New("ticket not found in snapshot")
)

// Candidate is one scored (ticket, ambassador) pair. It lives for a single
// ticket evaluation.
type Candidate struct {
	Ambassador   models.Ambassador
	Availability Availability
	Profile      float64
	Expertise    float64
	Total        float64
	Final        float64
	Boosted      bool
	Failed       bool
	Reasons      []string
}

func (c Candidate) Scores() models.ComponentScores {
	return models.ComponentScores{
		Profile:      c.Profile,
		Availability: c.Availability.Score,
		Expertise:    c.Expertise,
		Total:        c.Total,
		Final:        c.Final,
		Boosted:      c.Boosted,
	}
}

// Selection is a strategy's verdict. Index is -1 when nobody was chosen.
type Selection struct {
	Index       int
	Explanation string
	Confidence  float64
	ReasonCode  string
}

func noMatch(code, explanation string) Selection {
	return Selection{Index: -1, ReasonCode: code, Explanation: explanation}
}

// Selector picks a winner among the eligible, already scored candidates of
// one ticket. Candidates arrive in ambassador input order and are never empty.
type Selector interface {
	Name() string
	Select(ctx context.Context, t models.Ticket, candidates []Candidate) Selection
}

type Options struct {
	Evaluator Evaluator
	Formula   Formula
	Selector  Selector
	Workers   int
	Now       func() time.Time
}

type Engine struct {
	opts   Options
	logger zerolog.Logger
}

func NewEngine(opts Options, logger zerolog.Logger) *Engine {
	if opts.Selector == nil {
		opts.Selector = ScoreSelector{}
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultScoringWorkers
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Formula == "" {
		opts.Formula = FormulaExtended
	}
	lg := logger.With().Str("component", "matching").Logger()
	if opts.Formula == FormulaLegacy {
		lg.Warn().Msg("legacy 40/30/30 profile formula is deprecated, prefer extended")
	}
	return &Engine{opts: opts, logger: lg}
}

func (e *Engine) Strategy() string {
	return e.opts.Selector.Name()
}

// With returns a copy of the engine using another strategy or clock. Nil
// arguments keep the current ones.
func (e *Engine) With(sel Selector, now func() time.Time) *Engine {
	cp := *e
	if sel != nil {
		cp.opts.Selector = sel
	}
	if now != nil {
		cp.opts.Now = now
	}
	return &cp
}

// Decision is the outcome of one ticket within a pass.
type Decision struct {
	TicketID   string                  `json:"ticket_id"`
	Record     models.AssignmentRecord `json:"record"`
	Candidates int                     `json:"candidates"`
	Skipped    bool                    `json:"skipped,omitempty"`
}

type PassResult struct {
	At         time.Time      `json:"at"`
	Strategy   string         `json:"strategy"`
	Processed  int            `json:"processed"`
	Assigned   int            `json:"assigned"`
	Unassigned int            `json:"unassigned"`
	Skipped    int            `json:"skipped"`
	Conflicts  int            `json:"conflicts"`
	Reasons    map[string]int `json:"reasons"`
	Decisions  []Decision     `json:"decisions"`
	Elapsed    time.Duration  `json:"elapsed"`
}

// Run performs one assignment pass over the snapshot's tickets in input order.
func (e *Engine) Run(ctx context.Context, snap *roster.Snapshot, led *ledger.Ledger) PassResult {
	return e.NewPass(snap, led).Run(ctx)
}

// MatchTicket runs the pass logic for a single ticket.
func (e *Engine) MatchTicket(ctx context.Context, snap *roster.Snapshot, led *ledger.Ledger, ticketID string) (Decision, error) {
	return e.NewPass(snap, led).MatchTicket(ctx, ticketID)
}

// Pass owns the mutable state of one sweep: the snapshot's ticket states,
// the working ticket counts of every ambassador and the ledger.
type Pass struct {
	engine  *Engine
	snap    *roster.Snapshot
	ledger  *ledger.Ledger
	at      time.Time
	loads   map[string]int
	scoreFn func(ambassadorID string, t models.Ticket) Scores
}

func (e *Engine) NewPass(snap *roster.Snapshot, led *ledger.Ledger) *Pass {
	loads := map[string]int{}
	for _, a := range snap.Directory.All() {
		loads[a.ID] = a.CurrentTickets
	}
	scorer := Scorer{Directory: snap.Directory, Formula: e.opts.Formula}
	return &Pass{
		engine:  e,
		snap:    snap,
		ledger:  led,
		at:      e.opts.Now(),
		loads:   loads,
		scoreFn: scorer.Score,
	}
}

// At is the evaluation instant used for every ticket of the pass.
func (p *Pass) At() time.Time {
	return p.at
}

// Load reports the working ticket count of an ambassador.
func (p *Pass) Load(ambassadorID string) int {
	return p.loads[ambassadorID]
}

func (p *Pass) Run(ctx context.Context) PassResult {
	start := time.Now()
	res := PassResult{
		At:       p.at,
		Strategy: p.engine.Strategy(),
		Reasons:  map[string]int{},
	}

	for i := range p.snap.Tickets {
		t := p.snap.Tickets[i]
		if p.alreadyAssigned(t) {
			p.engine.logger.Debug().Str("ticket_id", t.CaseNumber).Msg("skipping assigned ticket")
			res.Skipped++
			res.Decisions = append(res.Decisions, Decision{TicketID: t.CaseNumber, Skipped: true})
			continue
		}

		d := p.matchIndex(ctx, i)
		res.Processed++
		res.Reasons[d.Record.ReasonCode]++
		switch {
		case d.Record.ReasonCode == ReasonLedgerConflict:
			res.Conflicts++
		case d.Record.Status == models.StatusAssigned:
			res.Assigned++
		default:
			res.Unassigned++
		}
		res.Decisions = append(res.Decisions, d)
	}

	res.Elapsed = time.Since(start)
	p.engine.logger.Info().
		Str("strategy", res.Strategy).
		Int("processed", res.Processed).
		Int("assigned", res.Assigned).
		Int("unassigned", res.Unassigned).
		Int("skipped", res.Skipped).
		Dur("elapsed", res.Elapsed).
		Msg("assignment pass complete")
	return res
}

// MatchTicket evaluates one ticket of the pass. Asking for an assigned ticket
// is a caller bug: it is logged and refused without touching the ledger.
func (p *Pass) MatchTicket(ctx context.Context, ticketID string) (Decision, error) {
	for i := range p.snap.Tickets {
		if p.snap.Tickets[i].CaseNumber != ticketID {
			continue
		}
		if p.alreadyAssigned(p.snap.Tickets[i]) {
			p.engine.logger.Error().Str("ticket_id", ticketID).Msg("refusing to re-match assigned ticket")
			return Decision{TicketID: ticketID, Skipped: true}, ErrAlreadyAssigned
		}
		return p.matchIndex(ctx, i), nil
	}
	return Decision{}, fmt.Errorf("%w: %s", ErrUnknownTicket, ticketID)
}

func (p *Pass) alreadyAssigned(t models.Ticket) bool {
	return t.Assigned || p.ledger.IsAssigned(t.CaseNumber)
}

func (p *Pass) matchIndex(ctx context.Context, idx int) Decision {
	t := p.snap.Tickets[idx]
	lg := p.engine.logger.With().Str("ticket_id", t.CaseNumber).Logger()

	ambassadors := applyLoads(p.snap.Directory.All(), p.loads)
	eligible := p.engine.opts.Evaluator.Eligible(t, ambassadors, p.snap.Shifts, p.at)

	var sel Selection
	candidates := p.scoreCandidates(t, eligible)
	if len(candidates) == 0 {
		sel = noMatch(ReasonNoAvailable, explainNoAvailable)
	} else {
		sel = p.engine.opts.Selector.Select(ctx, t, candidates)
	}

	rec := models.AssignmentRecord{
		TicketID:    t.CaseNumber,
		Explanation: sel.Explanation,
		Status:      models.StatusUnassigned,
		ReasonCode:  sel.ReasonCode,
		Strategy:    p.engine.Strategy(),
		RecordedAt:  p.at,
	}
	if sel.Index < 0 {
		if err := p.ledger.Record(rec); err != nil {
			lg.Error().Err(err).Msg("ledger rejected unassigned outcome")
		}
		lg.Debug().Str("reason_code", rec.ReasonCode).Int("candidates", len(candidates)).Msg("ticket left unassigned")
		return Decision{TicketID: t.CaseNumber, Record: rec, Candidates: len(candidates)}
	}

	winner := candidates[sel.Index]
	id := winner.Ambassador.ID
	conf := sel.Confidence
	scores := winner.Scores()
	rec.AmbassadorID = &id
	rec.Confidence = &conf
	rec.Status = models.StatusAssigned
	rec.Scores = &scores

	if err := p.ledger.Record(rec); err != nil {
		lg.Error().Err(err).Str("ambassador_id", id).Msg("ledger refused assignment, ticket left untouched")
		conflict := rec
		conflict.AmbassadorID = nil
		conflict.Confidence = nil
		conflict.Scores = nil
		conflict.Status = models.StatusUnassigned
		conflict.ReasonCode = ReasonLedgerConflict
		return Decision{TicketID: t.CaseNumber, Record: conflict, Candidates: len(candidates)}
	}

	p.snap.Tickets[idx].MarkAssigned(id, p.at)
	p.loads[id]++

	lg.Debug().
		Str("ambassador_id", id).
		Float64("total", winner.Total).
		Float64("final", winner.Final).
		Bool("boosted", winner.Boosted).
		Int("candidates", len(candidates)).
		Msg("ticket assigned")
	return Decision{TicketID: t.CaseNumber, Record: rec, Candidates: len(candidates)}
}

// scoreCandidates scores eligible ambassadors concurrently. Results keep the
// eligible order, so selection stays deterministic.
func (p *Pass) scoreCandidates(t models.Ticket, eligible []Availability) []Candidate {
	out := make([]Candidate, len(eligible))
	var g errgroup.Group
	g.SetLimit(p.engine.opts.Workers)
	for i := range eligible {
		i := i
		g.Go(func() error {
			out[i] = p.scoreOne(t, eligible[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (p *Pass) scoreOne(t models.Ticket, av Availability) (c Candidate) {
	defer func() {
		if r := recover(); r != nil {
			p.engine.logger.Error().
				Str("ticket_id", t.CaseNumber).
				Str("ambassador_id", av.Ambassador.ID).
				Interface("panic", r).
				Msg("candidate scoring failed, scoring as zero")
			c = Candidate{Ambassador: av.Ambassador, Availability: av, Failed: true}
		}
	}()
	return buildCandidate(t, av, p.scoreFn(av.Ambassador.ID, t))
}

func buildCandidate(t models.Ticket, av Availability, s Scores) Candidate {
	c := Candidate{
		Ambassador:   av.Ambassador,
		Availability: av,
		Profile:      clamp01(s.Profile),
		Expertise:    clamp01(s.Expertise),
	}
	c.Total = combinedScore(c.Profile, av.Score, c.Expertise)
	c.Final, c.Boosted = applyUrgencyBoost(t.Urgency, c.Total)
	c.Reasons = winnerFragments(t, c)
	return c
}

func combinedScore(profile, availability, expertise float64) float64 {
	return roundScore(clamp01(profile*profileWeight + availability*availabilityWeight + expertise*expertiseWeight))
}

// applyUrgencyBoost lifts high-urgency totals above 0.7 by 20%. The boosted
// value is a ranking signal and may exceed 1.
func applyUrgencyBoost(u models.Urgency, total float64) (float64, bool) {
	if u == models.UrgencyHigh && total > urgencyBoostThreshold {
		return roundScore(total * urgencyBoostFactor), true
	}
	return total, false
}

func applyLoads(ambassadors []models.Ambassador, loads map[string]int) []models.Ambassador {
	out := make([]models.Ambassador, 0, len(ambassadors))
	for _, a := range ambassadors {
		if v, ok := loads[a.ID]; ok {
			a.CurrentTickets = v
		}
		out = append(out, a)
	}
	return out
}

// ScoreSelector picks the strictly greatest final score; the first candidate
// wins ties.
type ScoreSelector struct{}

func (ScoreSelector) Name() string { return "score" }

func (ScoreSelector) Select(_ context.Context, t models.Ticket, candidates []Candidate) Selection {
	if len(candidates) == 0 {
		return noMatch(ReasonNoAvailable, explainNoAvailable)
	}
	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Final > candidates[best].Final {
			best = i
		}
	}
	if candidates[best].Final <= 0 {
		return noMatch(ReasonZeroAffinity, explainZeroAffinity)
	}
	return Selection{
		Index:       best,
		Explanation: explainWinner(candidates[best]),
		Confidence:  candidates[best].Total,
		ReasonCode:  ReasonAssigned,
	}
}
