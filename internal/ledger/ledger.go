// Package ledger records one matching outcome per ticket.
package ledger

import (
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ticketmatch/backend/internal/models"
)

var ErrAlreadyAssigned = errors.New("ticket already has an assigned ledger entry")

type Ledger struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]models.AssignmentRecord
	logger  zerolog.Logger
}

func New(logger zerolog.Logger) *Ledger {
	return &Ledger{
		entries: map[string]models.AssignmentRecord{},
		logger:  logger.With().Str("component", "ledger").Logger(),
	}
}

// Record writes the outcome for rec.TicketID. Writing the same Assigned
// record twice is a no-op; any other write over an Assigned entry is
// rejected with ErrAlreadyAssigned.
func (l *Ledger) Record(rec models.AssignmentRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.entries[rec.TicketID]; ok {
		if existing.Status == models.StatusAssigned {
			if sameOutcome(existing, rec) {
				return nil
			}
			l.logger.Warn().
				Str("ticket_id", rec.TicketID).
				Str("existing_ambassador", deref(existing.AmbassadorID)).
				Str("attempted_ambassador", deref(rec.AmbassadorID)).
				Msg("refusing to overwrite assigned ledger entry")
			return ErrAlreadyAssigned
		}
		l.entries[rec.TicketID] = rec
		return nil
	}

	l.order = append(l.order, rec.TicketID)
	l.entries[rec.TicketID] = rec
	return nil
}

func (l *Ledger) Get(ticketID string) (models.AssignmentRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.entries[ticketID]
	return rec, ok
}

// IsAssigned reports whether the ticket already holds an Assigned entry.
func (l *Ledger) IsAssigned(ticketID string) bool {
	rec, ok := l.Get(ticketID)
	return ok && rec.Status == models.StatusAssigned
}

// All returns records in first-recorded order.
func (l *Ledger) All() []models.AssignmentRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.AssignmentRecord, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.entries[id])
	}
	return out
}

func (l *Ledger) Rows() []models.LedgerRow {
	all := l.All()
	rows := make([]models.LedgerRow, 0, len(all))
	for _, rec := range all {
		rows = append(rows, rec.Row())
	}
	return rows
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

func (l *Ledger) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(l.Rows())
}

func sameOutcome(a, b models.AssignmentRecord) bool {
	return a.Status == b.Status &&
		deref(a.AmbassadorID) == deref(b.AmbassadorID) &&
		a.Explanation == b.Explanation &&
		reflect.DeepEqual(a.Confidence, b.Confidence)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
