package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ticketmatch/backend/internal/ai"
	"github.com/ticketmatch/backend/internal/ledger"
	"github.com/ticketmatch/backend/internal/models"
	"github.com/ticketmatch/backend/internal/roster"
)

// Monday, 10:00 UTC.
var monday10 = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

func ambassador(id, lob string) models.Ambassador {
	return models.Ambassador{
		ID:               id,
		Name:             "Ambassador " + strings.ToUpper(id),
		Languages:        []string{"EN"},
		LinesOfBusiness:  []string{lob},
		CSAT:             5.0,
		MaxActiveTickets: 3,
		ExpertiseLevel:   models.ProficiencyExpert,
	}
}

func withLoad(a models.Ambassador, load int) models.Ambassador {
	a.CurrentTickets = load
	return a
}

func ticket(id, lob string) models.Ticket {
	return models.Ticket{
		CaseNumber:     id,
		LineOfBusiness: lob,
		PrimaryProduct: "Teams",
		Language:       "EN",
		Urgency:        models.UrgencyMedium,
		CreatedAt:      monday10.Add(-time.Hour),
	}
}

func dayShift(ambassadorID string) models.Shift {
	return models.Shift{
		AmbassadorID: ambassadorID,
		WorkingDays:  "Mon to Fri",
		Start:        models.NewTimeOfDay(9, 0),
		End:          models.NewTimeOfDay(17, 0),
		Active:       true,
	}
}

func inactive(s models.Shift) models.Shift {
	s.Active = false
	return s
}

func lobShift(s models.Shift, lob string) models.Shift {
	s.LineOfBusiness = lob
	return s
}

func history(product string, n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf("%s case %d", product, i))
	}
	return out
}

func newTestEngine(sel Selector) *Engine {
	return NewEngine(Options{
		Evaluator: Evaluator{StrictWorkingDays: true},
		Selector:  sel,
		Now:       func() time.Time { return monday10 },
	}, zerolog.Nop())
}

func snapshot(tickets []models.Ticket, ambs []models.Ambassador, shifts []models.Shift) *roster.Snapshot {
	return roster.NewSnapshot(tickets, ambs, shifts, zerolog.Nop())
}

func TestScenarioAFullMatchIsAssigned(t *testing.T) {
	a := ambassador("a", "X")
	a.CaseHistory = history("Teams", 10)
	snap := snapshot([]models.Ticket{ticket("T-1", "X")}, []models.Ambassador{a}, []models.Shift{dayShift("a")})
	led := ledger.New(zerolog.Nop())

	res := newTestEngine(nil).Run(context.Background(), snap, led)
	if res.Assigned != 1 || res.Unassigned != 0 {
		t.Fatalf("expected one assignment, got %+v", res)
	}
	rec, ok := led.Get("T-1")
	if !ok || rec.Status != models.StatusAssigned || *rec.AmbassadorID != "a" {
		t.Fatalf("unexpected ledger entry: %+v", rec)
	}
	if rec.Scores.Profile != 1.0 || rec.Scores.Availability != 1.0 || !almost(rec.Scores.Total, 1.0) {
		t.Fatalf("unexpected scores: %+v", rec.Scores)
	}
	if *rec.Confidence != rec.Scores.Total {
		t.Fatalf("expected confidence to be the pre-boost total, got %v", *rec.Confidence)
	}
	for _, want := range []string{"Ambassador A (a)", "strong line-of-business match", "immediately available", "experienced with Teams"} {
		if !strings.Contains(rec.Explanation, want) {
			t.Fatalf("explanation %q missing %q", rec.Explanation, want)
		}
	}
	if !snap.Tickets[0].Assigned || *snap.Tickets[0].AssignedAmbassadorID != "a" || !snap.Tickets[0].AssignedAt.Equal(monday10) {
		t.Fatalf("ticket not marked assigned: %+v", snap.Tickets[0])
	}
}

func TestScenarioBNoShiftCoversNow(t *testing.T) {
	late := dayShift("a")
	late.Start = models.NewTimeOfDay(18, 0)
	late.End = models.NewTimeOfDay(22, 0)
	snap := snapshot(
		[]models.Ticket{ticket("T-1", "X")},
		[]models.Ambassador{ambassador("a", "X"), ambassador("b", "X")},
		[]models.Shift{late, inactive(dayShift("b"))},
	)
	led := ledger.New(zerolog.Nop())

	res := newTestEngine(nil).Run(context.Background(), snap, led)
	rec, _ := led.Get("T-1")
	if rec.Status != models.StatusUnassigned || rec.Explanation != "No available ambassadors." || rec.ReasonCode != ReasonNoAvailable {
		t.Fatalf("unexpected outcome: %+v", rec)
	}
	if rec.AmbassadorID != nil || rec.Confidence != nil {
		t.Fatalf("expected no ambassador or confidence, got %+v", rec)
	}
	if res.Unassigned != 1 || res.Reasons[ReasonNoAvailable] != 1 || snap.Tickets[0].Assigned {
		t.Fatalf("unexpected pass result: %+v", res)
	}
}

func TestScenarioCTieKeepsFirstAmbassador(t *testing.T) {
	for _, order := range [][]string{{"a1", "a2"}, {"a2", "a1"}} {
		ambs := []models.Ambassador{ambassador(order[0], "X"), ambassador(order[1], "X")}
		snap := snapshot([]models.Ticket{ticket("T-1", "X")}, ambs, []models.Shift{dayShift("a1"), dayShift("a2")})
		led := ledger.New(zerolog.Nop())

		newTestEngine(nil).Run(context.Background(), snap, led)
		rec, _ := led.Get("T-1")
		if rec.AmbassadorID == nil || *rec.AmbassadorID != order[0] {
			t.Fatalf("order %v: expected %s to win the tie, got %+v", order, order[0], rec.AmbassadorID)
		}
	}
}

func TestScenarioDMalformedLLMReplyDoesNotStopBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ai.MatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Ticket.CaseNumber == "T-1" {
			_, _ = w.Write([]byte(`The best ambassador is probably a1`))
			return
		}
		_, _ = w.Write([]byte(`{"ambassador_id":"a1","explanation":"Speaks the customer's language.","confidence_score":0.82}`))
	}))
	defer srv.Close()

	sel := LLMSelector{Matcher: ai.HTTPMatcher{BaseURL: srv.URL}, Timeout: 2 * time.Second, Logger: zerolog.Nop()}
	snap := snapshot(
		[]models.Ticket{ticket("T-1", "X"), ticket("T-2", "X")},
		[]models.Ambassador{ambassador("a1", "X")},
		[]models.Shift{dayShift("a1")},
	)
	led := ledger.New(zerolog.Nop())

	res := newTestEngine(sel).Run(context.Background(), snap, led)
	first, _ := led.Get("T-1")
	if first.Status != models.StatusUnassigned || first.ReasonCode != ReasonLLMMalformed || first.Explanation == "" {
		t.Fatalf("expected malformed fallback for T-1, got %+v", first)
	}
	second, _ := led.Get("T-2")
	if second.Status != models.StatusAssigned || *second.AmbassadorID != "a1" || *second.Confidence != 0.82 {
		t.Fatalf("expected T-2 assigned by the model, got %+v", second)
	}
	if second.Strategy != "llm" || second.Explanation != "Speaks the customer's language." {
		t.Fatalf("unexpected llm record: %+v", second)
	}
	if res.Processed != 2 || res.Assigned != 1 || res.Unassigned != 1 {
		t.Fatalf("unexpected pass result: %+v", res)
	}
}

type scriptedMatcher struct {
	mu      sync.Mutex
	calls   int
	results map[string]ai.Result
}

func (m *scriptedMatcher) Match(ctx context.Context, req ai.MatchRequest) ai.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.results[req.Ticket.CaseNumber]
}

func TestLLMSelectorFailureMapping(t *testing.T) {
	m := &scriptedMatcher{results: map[string]ai.Result{
		"T-1": {Status: ai.StatusTransportFailure, Err: errors.New("dial tcp: connection refused")},
		"T-2": {Status: ai.StatusSuccess, Decision: ai.Decision{AmbassadorID: "stranger", Explanation: "x", Confidence: 0.9}},
		"T-3": {Status: ai.StatusMalformedResponse, Err: ai.ErrMalformed},
	}}
	sel := LLMSelector{Matcher: m, Logger: zerolog.Nop()}
	snap := snapshot(
		[]models.Ticket{ticket("T-1", "X"), ticket("T-2", "X"), ticket("T-3", "X"), ticket("T-4", "Y")},
		[]models.Ambassador{withLoad(ambassador("a1", "X"), 3)},
		[]models.Shift{dayShift("a1")},
	)
	snap2 := snapshot(snap.Tickets[:3], []models.Ambassador{ambassador("a1", "X")}, []models.Shift{dayShift("a1")})

	led := ledger.New(zerolog.Nop())
	newTestEngine(sel).Run(context.Background(), snap2, led)
	want := map[string]string{"T-1": ReasonLLMTransport, "T-2": ReasonLLMMalformed, "T-3": ReasonLLMMalformed}
	for id, code := range want {
		rec, _ := led.Get(id)
		if rec.Status != models.StatusUnassigned || rec.ReasonCode != code || rec.Explanation == "" {
			t.Fatalf("%s: expected %s, got %+v", id, code, rec)
		}
	}
	if m.calls != 3 {
		t.Fatalf("expected three model calls, got %d", m.calls)
	}

	// a1 is at capacity in snap, so nobody is eligible and the model is never asked.
	m.calls = 0
	led = ledger.New(zerolog.Nop())
	newTestEngine(sel).Run(context.Background(), snap, led)
	rec, _ := led.Get("T-4")
	if rec.ReasonCode != ReasonNoAvailable || m.calls != 0 {
		t.Fatalf("expected short-circuit without model calls, got %+v after %d calls", rec, m.calls)
	}
}

func TestUrgencyBoostBoundary(t *testing.T) {
	if got, boosted := applyUrgencyBoost(models.UrgencyHigh, 0.7); boosted || got != 0.7 {
		t.Fatalf("0.7 must not be boosted, got %v %v", got, boosted)
	}
	if got, boosted := applyUrgencyBoost(models.UrgencyHigh, 0.71); !boosted || !almost(got, 0.852) {
		t.Fatalf("0.71 must be boosted to 0.852, got %v %v", got, boosted)
	}
	if _, boosted := applyUrgencyBoost(models.UrgencyMedium, 0.95); boosted {
		t.Fatalf("medium urgency must not be boosted")
	}

	// profile 1.0, availability 1.0, no expertise: total lands exactly on 0.7.
	tk := ticket("T-1", "X")
	tk.Urgency = models.UrgencyHigh
	exact := ambassador("a1", "X")
	snap := snapshot([]models.Ticket{tk}, []models.Ambassador{exact}, []models.Shift{dayShift("a1")})
	led := ledger.New(zerolog.Nop())
	newTestEngine(nil).Run(context.Background(), snap, led)
	rec, _ := led.Get("T-1")
	if rec.Scores.Total != 0.7 || rec.Scores.Boosted || rec.Scores.Final != 0.7 {
		t.Fatalf("expected unboosted 0.7, got %+v", rec.Scores)
	}
	if strings.Contains(rec.Explanation, "urgency boost") {
		t.Fatalf("unexpected boost fragment: %q", rec.Explanation)
	}

	above := ambassador("a1", "X")
	above.CaseHistory = history("Teams", 1)
	snap = snapshot([]models.Ticket{tk}, []models.Ambassador{above}, []models.Shift{dayShift("a1")})
	led = ledger.New(zerolog.Nop())
	newTestEngine(nil).Run(context.Background(), snap, led)
	rec, _ = led.Get("T-1")
	if !almost(rec.Scores.Total, 0.73) || !rec.Scores.Boosted || !almost(rec.Scores.Final, 0.876) {
		t.Fatalf("expected boosted 0.73, got %+v", rec.Scores)
	}
	if !almost(*rec.Confidence, 0.73) || !strings.Contains(rec.Explanation, "urgency boost applied") {
		t.Fatalf("unexpected boosted record: %+v", rec)
	}
}

func TestHigherScoreBeatsInputOrder(t *testing.T) {
	tk := ticket("T-1", "X")
	tk.Urgency = models.UrgencyHigh
	// a1 has lower CSAT, so on high urgency it only gets half the urgency-handling credit.
	a1 := ambassador("a1", "X")
	a1.CSAT = 3.5
	a1.CaseHistory = history("Teams", 2)
	a2 := ambassador("a2", "X")
	a2.CaseHistory = history("Teams", 1)
	snap := snapshot([]models.Ticket{tk}, []models.Ambassador{a1, a2}, []models.Shift{dayShift("a1"), dayShift("a2")})
	led := ledger.New(zerolog.Nop())

	newTestEngine(nil).Run(context.Background(), snap, led)
	rec, _ := led.Get("T-1")
	if *rec.AmbassadorID != "a2" {
		t.Fatalf("expected a2 to win on final score, got %s (%+v)", *rec.AmbassadorID, rec.Scores)
	}
}

func TestCapacityMonotonicity(t *testing.T) {
	var tickets []models.Ticket
	for i := 1; i <= 5; i++ {
		tickets = append(tickets, ticket(fmt.Sprintf("T-%d", i), "X"))
	}
	snap := snapshot(tickets, []models.Ambassador{withLoad(ambassador("a1", "X"), 1)}, []models.Shift{dayShift("a1")})
	led := ledger.New(zerolog.Nop())
	eng := newTestEngine(nil)
	pass := eng.NewPass(snap, led)

	res := pass.Run(context.Background())
	if res.Assigned != 2 || res.Unassigned != 3 {
		t.Fatalf("expected 2 assigned and 3 unassigned, got %+v", res)
	}
	if pass.Load("a1") != 3 {
		t.Fatalf("expected working load 3, got %d", pass.Load("a1"))
	}
	for i, d := range res.Decisions {
		want := models.StatusAssigned
		if i >= 2 {
			want = models.StatusUnassigned
		}
		if d.Record.Status != want {
			t.Fatalf("ticket %d: expected %s, got %s", i, want, d.Record.Status)
		}
	}
	if a, _ := snap.Directory.Get("a1"); a.CurrentTickets != 1 {
		t.Fatalf("directory must stay read-only, got load %d", a.CurrentTickets)
	}
}

func TestCapacitySpillsToNextBest(t *testing.T) {
	strong := withLoad(ambassador("a1", "X"), 2)
	strong.CaseHistory = history("Teams", 10)
	weaker := ambassador("a2", "X")
	snap := snapshot(
		[]models.Ticket{ticket("T-1", "X"), ticket("T-2", "X")},
		[]models.Ambassador{strong, weaker},
		[]models.Shift{dayShift("a1"), dayShift("a2")},
	)
	led := ledger.New(zerolog.Nop())
	newTestEngine(nil).Run(context.Background(), snap, led)

	first, _ := led.Get("T-1")
	second, _ := led.Get("T-2")
	if *first.AmbassadorID != "a1" || *second.AmbassadorID != "a2" {
		t.Fatalf("expected a1 then a2, got %s then %s", *first.AmbassadorID, *second.AmbassadorID)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	build := func() *roster.Snapshot {
		a1 := ambassador("a1", "X")
		a1.CaseHistory = history("Teams", 4)
		a2 := ambassador("a2", "Y")
		a2.Languages = []string{"ES", "EN"}
		a3 := withLoad(ambassador("a3", "X"), 2)
		tickets := []models.Ticket{ticket("T-1", "X"), ticket("T-2", "Y"), ticket("T-3", "X"), ticket("T-4", "Z")}
		tickets[1].Urgency = models.UrgencyHigh
		return snapshot(tickets, []models.Ambassador{a1, a2, a3}, []models.Shift{dayShift("a1"), dayShift("a2"), dayShift("a3")})
	}

	first := ledger.New(zerolog.Nop())
	newTestEngine(nil).Run(context.Background(), build(), first)
	second := ledger.New(zerolog.Nop())
	parallel := NewEngine(Options{
		Evaluator: Evaluator{StrictWorkingDays: true},
		Workers:   8,
		Now:       func() time.Time { return monday10 },
	}, zerolog.Nop())
	parallel.Run(context.Background(), build(), second)

	if !reflect.DeepEqual(first.Rows(), second.Rows()) {
		t.Fatalf("expected identical rows:\n%+v\n%+v", first.Rows(), second.Rows())
	}
}

func TestAssignedTicketsLeaveLedgerUntouched(t *testing.T) {
	done := ticket("T-0", "X")
	done.MarkAssigned("someone", monday10.Add(-24*time.Hour))
	snap := snapshot([]models.Ticket{done, ticket("T-1", "X")}, []models.Ambassador{ambassador("a1", "X")}, []models.Shift{dayShift("a1")})
	led := ledger.New(zerolog.Nop())
	eng := newTestEngine(nil)

	res := eng.Run(context.Background(), snap, led)
	if _, ok := led.Get("T-0"); ok {
		t.Fatalf("assigned ticket must not get a ledger entry")
	}
	if res.Skipped != 1 || res.Assigned != 1 {
		t.Fatalf("unexpected pass result: %+v", res)
	}
	before := led.Rows()

	again := eng.Run(context.Background(), snap, led)
	if again.Skipped != 2 || again.Processed != 0 {
		t.Fatalf("expected every ticket skipped on rerun, got %+v", again)
	}
	if !reflect.DeepEqual(before, led.Rows()) {
		t.Fatalf("ledger changed on rerun")
	}

	if _, err := eng.MatchTicket(context.Background(), snap, led, "T-1"); !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("expected ErrAlreadyAssigned, got %v", err)
	}
	if _, err := eng.MatchTicket(context.Background(), snap, led, "T-404"); !errors.Is(err, ErrUnknownTicket) {
		t.Fatalf("expected ErrUnknownTicket, got %v", err)
	}
}

func TestMatchTicketSingle(t *testing.T) {
	snap := snapshot([]models.Ticket{ticket("T-1", "X"), ticket("T-2", "X")}, []models.Ambassador{ambassador("a1", "X")}, []models.Shift{dayShift("a1")})
	led := ledger.New(zerolog.Nop())

	d, err := newTestEngine(nil).MatchTicket(context.Background(), snap, led, "T-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Record.Status != models.StatusAssigned || led.Len() != 1 || !snap.Tickets[1].Assigned || snap.Tickets[0].Assigned {
		t.Fatalf("expected only T-2 assigned, got %+v", d)
	}
}

func TestPanickingScorerCountsAsZero(t *testing.T) {
	snap := snapshot(
		[]models.Ticket{ticket("T-1", "X")},
		[]models.Ambassador{ambassador("a1", "X"), ambassador("a2", "X")},
		[]models.Shift{dayShift("a1"), dayShift("a2")},
	)
	led := ledger.New(zerolog.Nop())
	pass := newTestEngine(nil).NewPass(snap, led)
	orig := pass.scoreFn
	pass.scoreFn = func(id string, t models.Ticket) Scores {
		if id == "a1" {
			panic("corrupt profile")
		}
		return orig(id, t)
	}

	res := pass.Run(context.Background())
	rec, _ := led.Get("T-1")
	if res.Assigned != 1 || *rec.AmbassadorID != "a2" {
		t.Fatalf("expected a2 after a1 failed, got %+v", rec)
	}
}

func TestZeroAffinityWhenEveryCandidateFails(t *testing.T) {
	snap := snapshot([]models.Ticket{ticket("T-1", "X")}, []models.Ambassador{ambassador("a1", "X")}, []models.Shift{dayShift("a1")})
	led := ledger.New(zerolog.Nop())
	pass := newTestEngine(nil).NewPass(snap, led)
	pass.scoreFn = func(string, models.Ticket) Scores { panic("boom") }

	pass.Run(context.Background())
	rec, _ := led.Get("T-1")
	if rec.Status != models.StatusUnassigned || rec.ReasonCode != ReasonZeroAffinity || rec.Explanation == "" {
		t.Fatalf("expected zero-affinity outcome, got %+v", rec)
	}
}

func TestExplainReportsEveryAmbassador(t *testing.T) {
	odd := ambassador("a2", "X")
	odd.CSAT = 11
	odd.CurrentTickets = -4
	snap := snapshot(
		[]models.Ticket{ticket("T-1", "X")},
		[]models.Ambassador{ambassador("a1", "Y"), odd, withLoad(ambassador("a3", "X"), 3)},
		[]models.Shift{dayShift("a1"), dayShift("a2"), dayShift("a3")},
	)
	led := ledger.New(zerolog.Nop())

	b, err := newTestEngine(nil).Explain(snap, "T-1", time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Candidates) != 3 || b.WouldPick == nil || *b.WouldPick != "a2" {
		t.Fatalf("unexpected breakdown: %+v", b)
	}
	if b.Ineligible[ReasonAtCapacity] != 1 || !b.At.Equal(monday10) {
		t.Fatalf("unexpected ineligible counts: %+v", b.Ineligible)
	}
	for _, c := range b.Candidates {
		s := c.Scores
		for _, v := range []float64{s.Profile, s.Availability, s.Expertise, s.Total} {
			if v < 0 || v > 1 {
				t.Fatalf("%s: score out of bounds: %+v", c.AmbassadorID, s)
			}
		}
	}
	if led.Len() != 0 || snap.Tickets[0].Assigned {
		t.Fatalf("explain must not mutate state")
	}
	if _, err := newTestEngine(nil).Explain(snap, "nope", monday10); !errors.Is(err, ErrUnknownTicket) {
		t.Fatalf("expected ErrUnknownTicket, got %v", err)
	}
}

func TestWithSwapsStrategyAndClock(t *testing.T) {
	base := newTestEngine(nil)
	saturday := monday10.AddDate(0, 0, 5)
	derived := base.With(&neverSelector{}, func() time.Time { return saturday })

	if base.Strategy() != "score" || derived.Strategy() != "scripted" {
		t.Fatalf("unexpected strategies: %s / %s", base.Strategy(), derived.Strategy())
	}
	snap := snapshot([]models.Ticket{ticket("T1", "Copilot")}, []models.Ambassador{ambassador("a", "Copilot")}, []models.Shift{dayShift("a")})
	res := derived.Run(context.Background(), snap, ledger.New(zerolog.Nop()))
	if res.Reasons[ReasonNoAvailable] != 1 || !res.At.Equal(saturday) {
		t.Fatalf("expected nobody available on saturday, got %+v", res)
	}
	if same := base.With(nil, nil); same.Strategy() != "score" {
		t.Fatalf("nil arguments must keep the current strategy")
	}
}

type neverSelector struct{}

func (*neverSelector) Name() string { return "scripted" }

func (*neverSelector) Select(context.Context, models.Ticket, []Candidate) Selection {
	return noMatch(ReasonZeroAffinity, explainZeroAffinity)
}
