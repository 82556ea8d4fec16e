package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ticketmatch/backend/internal/db"
	"github.com/ticketmatch/backend/internal/matching"
	"github.com/ticketmatch/backend/internal/models"
)

type fakeStore struct {
	tickets     []models.Ticket
	ambassadors []models.Ambassador
	shifts      []models.Shift
	loadErr     error
	conflictOn  string

	saved      []models.AssignmentRecord
	runs       map[string]string
	summaries  map[string][]byte
	createdRun string
}

func (f *fakeStore) LoadTickets(context.Context) ([]models.Ticket, error) {
	return f.tickets, f.loadErr
}

func (f *fakeStore) ListAmbassadors(context.Context, string, string) ([]models.Ambassador, error) {
	return f.ambassadors, nil
}

func (f *fakeStore) ListShifts(context.Context) ([]models.Shift, error) {
	return f.shifts, nil
}

func (f *fakeStore) SaveOutcome(_ context.Context, _ string, rec models.AssignmentRecord) error {
	if rec.TicketID == f.conflictOn {
		return db.ErrAlreadyAssigned
	}
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeStore) CreateRun(_ context.Context, id, status string) error {
	if f.runs == nil {
		f.runs = map[string]string{}
		f.summaries = map[string][]byte{}
	}
	f.createdRun = id
	f.runs[id] = status
	return nil
}

func (f *fakeStore) FinishRun(_ context.Context, id, status string, summary []byte) error {
	f.runs[id] = status
	f.summaries[id] = summary
	return nil
}

type recordingPublisher struct {
	runID string
	rows  []models.LedgerRow
}

func (p *recordingPublisher) PublishOutcomes(_ context.Context, runID string, rows []models.LedgerRow) error {
	p.runID = runID
	p.rows = append(p.rows, rows...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

var monday10 = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

func newFixtureStore() *fakeStore {
	owner := "a1"
	return &fakeStore{
		tickets: []models.Ticket{
			{CaseNumber: "C-0", LineOfBusiness: "Copilot", Language: "EN", Assigned: true, AssignedAmbassadorID: &owner},
			{CaseNumber: "C-1", LineOfBusiness: "Copilot", PrimaryProduct: "Teams", Language: "EN"},
			{CaseNumber: "C-2", LineOfBusiness: "Azure", Language: "ES"},
		},
		ambassadors: []models.Ambassador{
			{ID: "a1", Name: "Ana", Languages: []string{"EN"}, LinesOfBusiness: []string{"Copilot"}, CSAT: 5, MaxActiveTickets: 1},
		},
		shifts: []models.Shift{
			{AmbassadorID: "a1", WorkingDays: "Mon-Fri", Start: models.NewTimeOfDay(9, 0), End: models.NewTimeOfDay(17, 0), Active: true},
		},
	}
}

func newService(store *fakeStore, pub *recordingPublisher) *ProcessingService {
	engine := matching.NewEngine(matching.Options{
		Evaluator: matching.Evaluator{StrictWorkingDays: true},
		Now:       func() time.Time { return monday10 },
	}, zerolog.Nop())
	return &ProcessingService{Store: store, Engine: engine, Publisher: pub, Logger: zerolog.Nop()}
}

func TestProcessTickets(t *testing.T) {
	store := newFixtureStore()
	pub := &recordingPublisher{}
	svc := newService(store, pub)

	summary, err := svc.ProcessTickets(context.Background(), ProcessOptions{Debug: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Counts["assigned"] != 1 || summary.Counts["unassigned"] != 1 || summary.Counts["skipped"] != 1 {
		t.Fatalf("unexpected counts: %v", summary.Counts)
	}
	if len(store.saved) != 2 || store.saved[0].TicketID != "C-1" || store.saved[0].Status != models.StatusAssigned {
		t.Fatalf("unexpected saved outcomes: %+v", store.saved)
	}
	if store.saved[1].ReasonCode != matching.ReasonNoAvailable {
		t.Fatalf("expected capacity to run out for C-2, got %+v", store.saved[1])
	}
	if store.runs[summary.RunID] != RunStatusCompleted {
		t.Fatalf("expected completed run, got %q", store.runs[summary.RunID])
	}
	if pub.runID != summary.RunID || len(pub.rows) != 2 {
		t.Fatalf("unexpected publish: %q %+v", pub.runID, pub.rows)
	}
	if len(summary.Samples) != 1 || summary.Samples[0]["ticket_id"] != "C-2" {
		t.Fatalf("unexpected samples: %+v", summary.Samples)
	}

	var stored RunSummary
	if err := json.Unmarshal(store.summaries[summary.RunID], &stored); err != nil || stored.RunID != summary.RunID {
		t.Fatalf("stored summary not decodable: %v", err)
	}
}

func TestProcessTicketsCountsSaveConflicts(t *testing.T) {
	store := newFixtureStore()
	store.conflictOn = "C-1"
	svc := newService(store, &recordingPublisher{})

	summary, err := svc.ProcessTickets(context.Background(), ProcessOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Counts["save_conflicts"] != 1 || len(store.saved) != 1 {
		t.Fatalf("expected one conflict and one saved row, got %v / %d", summary.Counts, len(store.saved))
	}
}

func TestProcessTicketsLoadFailure(t *testing.T) {
	store := newFixtureStore()
	store.loadErr = errors.New("connection reset")
	svc := newService(store, &recordingPublisher{})

	if _, err := svc.ProcessTickets(context.Background(), ProcessOptions{}); err == nil {
		t.Fatalf("expected load error")
	}
	if store.runs[store.createdRun] != RunStatusFailed {
		t.Fatalf("expected failed run, got %q", store.runs[store.createdRun])
	}
}

func TestProcessTicketsStrategy(t *testing.T) {
	store := newFixtureStore()
	svc := newService(store, &recordingPublisher{})

	if _, err := svc.ProcessTickets(context.Background(), ProcessOptions{Strategy: "llm"}); !errors.Is(err, ErrStrategyUnavailable) {
		t.Fatalf("expected ErrStrategyUnavailable, got %v", err)
	}
	if _, err := svc.ProcessTickets(context.Background(), ProcessOptions{Strategy: "coinflip"}); err == nil {
		t.Fatalf("expected unknown strategy error")
	}
	if store.createdRun != "" {
		t.Fatalf("no run should be created for a rejected strategy")
	}
}

func TestProcessTicketsAtOverride(t *testing.T) {
	store := newFixtureStore()
	svc := newService(store, &recordingPublisher{})

	saturday := time.Date(2025, 3, 8, 10, 0, 0, 0, time.UTC)
	summary, err := svc.ProcessTickets(context.Background(), ProcessOptions{At: saturday})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Counts["assigned"] != 0 || summary.Counts["unassigned"] != 2 {
		t.Fatalf("expected nobody on shift on a saturday, got %v", summary.Counts)
	}
}

func TestProcessTicketsAtOverrideUsesLocation(t *testing.T) {
	// 21:00 UTC is 16:00 in UTC-5, inside the 09:00-17:00 shift.
	evening := time.Date(2025, 3, 3, 21, 0, 0, 0, time.UTC)

	svc := newService(newFixtureStore(), &recordingPublisher{})
	summary, err := svc.ProcessTickets(context.Background(), ProcessOptions{At: evening})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Counts["assigned"] != 0 {
		t.Fatalf("expected nobody on shift at 21:00 UTC, got %v", summary.Counts)
	}

	svc = newService(newFixtureStore(), &recordingPublisher{})
	svc.Location = time.FixedZone("UTC-5", -5*3600)
	summary, err = svc.ProcessTickets(context.Background(), ProcessOptions{At: evening})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Counts["assigned"] != 1 {
		t.Fatalf("expected the override read as 16:00 local, got %v", summary.Counts)
	}

	b, err := svc.ExplainTicket(context.Background(), "C-1", evening)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.WouldPick == nil || *b.WouldPick != "a1" {
		t.Fatalf("expected a1 in local time, got %+v", b)
	}
}

func TestExplainTicket(t *testing.T) {
	svc := newService(newFixtureStore(), &recordingPublisher{})

	b, err := svc.ExplainTicket(context.Background(), "C-1", time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.WouldPick == nil || *b.WouldPick != "a1" {
		t.Fatalf("expected a1, got %+v", b)
	}
	if _, err := svc.ExplainTicket(context.Background(), "missing", time.Time{}); !errors.Is(err, matching.ErrUnknownTicket) {
		t.Fatalf("expected ErrUnknownTicket, got %v", err)
	}
}
