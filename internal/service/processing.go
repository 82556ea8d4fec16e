package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ticketmatch/backend/internal/db"
	"github.com/ticketmatch/backend/internal/events"
	"github.com/ticketmatch/backend/internal/ledger"
	"github.com/ticketmatch/backend/internal/matching"
	"github.com/ticketmatch/backend/internal/models"
	"github.com/ticketmatch/backend/internal/roster"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

const maxSamples = 5

var ErrStrategyUnavailable = errors.New("matching strategy is not configured")

// Store is the persistence the processing service needs. *db.Store
// satisfies it.
type Store interface {
	LoadTickets(ctx context.Context) ([]models.Ticket, error)
	ListAmbassadors(ctx context.Context, lob, language string) ([]models.Ambassador, error)
	ListShifts(ctx context.Context) ([]models.Shift, error)
	SaveOutcome(ctx context.Context, runID string, rec models.AssignmentRecord) error
	CreateRun(ctx context.Context, id, status string) error
	FinishRun(ctx context.Context, runID string, status string, summary []byte) error
}

type ProcessingService struct {
	Store     Store
	Engine    *matching.Engine
	LLM       matching.Selector
	Publisher events.Publisher
	Logger    zerolog.Logger
	// Enricher, when set, fills missing ticket metadata at import time.
	Enricher *Enricher
	// Location is the zone shift windows are written in. Overrides of the
	// evaluation time are converted to it. Nil leaves them untouched.
	Location *time.Location
}

type ProcessOptions struct {
	Strategy string
	At       time.Time
	Debug    bool
}

type RunSummary struct {
	RunID   string           `json:"run_id"`
	Events  []map[string]any `json:"events"`
	Counts  map[string]any   `json:"counts"`
	Samples []map[string]any `json:"samples,omitempty"`
}

// ProcessTickets runs one assignment pass over everything in the store and
// persists the outcome of every ticket it looked at. Only loading errors
// fail the run; a row that cannot be saved is logged and counted.
func (s *ProcessingService) ProcessTickets(ctx context.Context, opts ProcessOptions) (RunSummary, error) {
	engine, err := s.engineFor(opts)
	if err != nil {
		return RunSummary{}, err
	}

	runID := uuid.NewString()
	lg := s.Logger.With().Str("run_id", runID).Str("strategy", engine.Strategy()).Logger()
	if err := s.Store.CreateRun(ctx, runID, RunStatusRunning); err != nil {
		return RunSummary{}, fmt.Errorf("create run: %w", err)
	}

	summary := RunSummary{RunID: runID, Counts: map[string]any{}}
	start := time.Now()

	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		summary.Events = append(summary.Events, map[string]any{
			"type":    "load_failed",
			"message": err.Error(),
			"time":    time.Now().UTC(),
		})
		s.finish(ctx, lg, runID, RunStatusFailed, summary)
		return summary, err
	}

	preAssigned := 0
	for _, t := range snap.Tickets {
		if t.Assigned {
			preAssigned++
		}
	}
	summary.Events = append(summary.Events, map[string]any{
		"type":         "snapshot",
		"message":      "Snapshot loaded",
		"tickets":      len(snap.Tickets),
		"pre_assigned": preAssigned,
		"ambassadors":  snap.Directory.Len(),
		"shifts":       snap.Shifts.Len(),
		"time":         time.Now().UTC(),
	})

	led := ledger.New(s.Logger)
	res := engine.Run(ctx, snap, led)
	summary.Events = append(summary.Events, map[string]any{
		"type":       "matching",
		"strategy":   res.Strategy,
		"at":         res.At,
		"assigned":   res.Assigned,
		"unassigned": res.Unassigned,
		"skipped":    res.Skipped,
		"conflicts":  res.Conflicts,
		"elapsed_ms": res.Elapsed.Milliseconds(),
		"time":       time.Now().UTC(),
	})

	var saved, saveConflicts, saveErrors int
	for _, rec := range led.All() {
		err := s.Store.SaveOutcome(ctx, runID, rec)
		switch {
		case err == nil:
			saved++
		case errors.Is(err, db.ErrAlreadyAssigned):
			saveConflicts++
			lg.Warn().Str("ticket_id", rec.TicketID).Msg("stored ticket already has an assignment, outcome not saved")
		default:
			saveErrors++
			lg.Error().Err(err).Str("ticket_id", rec.TicketID).Msg("saving outcome failed")
		}
	}
	summary.Events = append(summary.Events, map[string]any{
		"type":       "db_save",
		"message":    "Outcomes saved",
		"saved":      saved,
		"conflicts":  saveConflicts,
		"errors":     saveErrors,
		"elapsed_ms": time.Since(start).Milliseconds(),
		"time":       time.Now().UTC(),
	})

	publishEvent := map[string]any{"type": "publish", "count": led.Len(), "time": time.Now().UTC()}
	if err := s.publisher().PublishOutcomes(ctx, runID, led.Rows()); err != nil {
		lg.Error().Err(err).Msg("publishing outcomes failed")
		publishEvent["error"] = err.Error()
	}
	summary.Events = append(summary.Events, publishEvent)

	if opts.Debug {
		for _, d := range res.Decisions {
			if len(summary.Samples) >= maxSamples {
				break
			}
			if d.Skipped || d.Record.Status == models.StatusAssigned {
				continue
			}
			summary.Samples = append(summary.Samples, map[string]any{
				"ticket_id":   d.TicketID,
				"reason_code": d.Record.ReasonCode,
				"reason_text": d.Record.Explanation,
				"candidates":  d.Candidates,
			})
		}
	}

	summary.Counts["tickets_processed"] = res.Processed
	summary.Counts["assigned"] = res.Assigned
	summary.Counts["unassigned"] = res.Unassigned
	summary.Counts["skipped"] = res.Skipped
	summary.Counts["ledger_conflicts"] = res.Conflicts
	summary.Counts["save_errors"] = saveErrors
	summary.Counts["save_conflicts"] = saveConflicts
	summary.Counts["reasons"] = res.Reasons

	s.finish(ctx, lg, runID, RunStatusCompleted, summary)
	return summary, nil
}

// EnrichTickets runs the configured Enricher over freshly parsed tickets.
// It returns nil when enrichment is off.
func (s *ProcessingService) EnrichTickets(ctx context.Context, tickets []models.Ticket) *EnrichStats {
	if s == nil || s.Enricher == nil || s.Enricher.Analyzer == nil {
		return nil
	}
	stats := s.Enricher.Enrich(ctx, tickets)
	return &stats
}

// ExplainTicket returns the full score breakdown for one stored ticket.
func (s *ProcessingService) ExplainTicket(ctx context.Context, ticketID string, at time.Time) (matching.Breakdown, error) {
	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		return matching.Breakdown{}, err
	}
	return s.Engine.Explain(snap, ticketID, s.local(at))
}

func (s *ProcessingService) engineFor(opts ProcessOptions) (*matching.Engine, error) {
	var sel matching.Selector
	switch strings.ToLower(strings.TrimSpace(opts.Strategy)) {
	case "":
	case "score":
		sel = matching.ScoreSelector{}
	case "llm":
		if s.LLM == nil {
			return nil, ErrStrategyUnavailable
		}
		sel = s.LLM
	default:
		return nil, fmt.Errorf("unknown strategy %q", opts.Strategy)
	}

	var now func() time.Time
	if !opts.At.IsZero() {
		at := s.local(opts.At)
		now = func() time.Time { return at }
	}
	return s.Engine.With(sel, now), nil
}

func (s *ProcessingService) local(t time.Time) time.Time {
	if s.Location == nil || t.IsZero() {
		return t
	}
	return t.In(s.Location)
}

func (s *ProcessingService) loadSnapshot(ctx context.Context) (*roster.Snapshot, error) {
	tickets, err := s.Store.LoadTickets(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tickets: %w", err)
	}
	ambassadors, err := s.Store.ListAmbassadors(ctx, "", "")
	if err != nil {
		return nil, fmt.Errorf("load ambassadors: %w", err)
	}
	shifts, err := s.Store.ListShifts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load shifts: %w", err)
	}
	return roster.NewSnapshot(tickets, ambassadors, shifts, s.Logger), nil
}

func (s *ProcessingService) publisher() events.Publisher {
	if s.Publisher == nil {
		return events.NopPublisher{}
	}
	return s.Publisher
}

func (s *ProcessingService) finish(ctx context.Context, lg zerolog.Logger, runID, status string, summary RunSummary) {
	payload, err := json.Marshal(summary)
	if err != nil {
		lg.Error().Err(err).Msg("encoding run summary failed")
	}
	if err := s.Store.FinishRun(ctx, runID, status, payload); err != nil {
		lg.Error().Err(err).Msg("finishing run failed")
		return
	}
	lg.Info().Str("status", status).Msg("run finished")
}
