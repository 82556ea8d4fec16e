package service

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ticketmatch/backend/internal/ai"
	"github.com/ticketmatch/backend/internal/models"
)

// Enricher fills the urgency and primary product of imported tickets that
// arrived without them, using an ai.Analyzer over the ticket text.
type Enricher struct {
	Analyzer ai.Analyzer
	Workers  int
	Logger   zerolog.Logger
}

type EnrichStats struct {
	Candidates int `json:"candidates"`
	Updated    int `json:"updated"`
	Failed     int `json:"failed"`
}

// NeedsEnrichment reports whether t is missing a field the analyzer can
// supply and has text to analyze.
func NeedsEnrichment(t models.Ticket) bool {
	if t.Assigned || ai.TicketText(t) == "" {
		return false
	}
	return t.UrgencyDefaulted || t.PrimaryProduct == ""
}

// Enrich updates tickets in place. Only fields that were missing are
// written. An analyzer failure leaves the ticket as it was and is counted,
// never returned.
func (e *Enricher) Enrich(ctx context.Context, tickets []models.Ticket) EnrichStats {
	var stats EnrichStats
	if e == nil || e.Analyzer == nil {
		return stats
	}
	workers := e.Workers
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range tickets {
		if !NeedsEnrichment(tickets[i]) {
			continue
		}
		stats.Candidates++
		t := &tickets[i]
		g.Go(func() error {
			analysis, latency, err := e.Analyzer.AnalyzeTicket(ctx, *t)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Failed++
				ev := e.Logger.Warn()
				if errors.Is(err, ai.ErrMalformed) {
					ev = ev.Str("reason", "malformed")
				}
				ev.Err(err).Str("ticket_id", t.CaseNumber).Int64("latency_ms", latency).Msg("ticket analysis failed")
				return nil
			}
			if applyAnalysis(t, analysis) {
				stats.Updated++
			}
			return nil
		})
	}
	_ = g.Wait()

	e.Logger.Info().
		Int("candidates", stats.Candidates).
		Int("updated", stats.Updated).
		Int("failed", stats.Failed).
		Msg("tickets enriched")
	return stats
}

func applyAnalysis(t *models.Ticket, a ai.Analysis) bool {
	changed := false
	if t.UrgencyDefaulted {
		if u, ok := models.LookupUrgency(a.Urgency); ok {
			t.Urgency = u
			t.UrgencyDefaulted = false
			changed = true
		}
	}
	if t.PrimaryProduct == "" && a.KnownTopic() {
		t.PrimaryProduct = a.Topic
		changed = true
	}
	return changed
}
