// Package roster holds the read-only view of tickets, ambassadors and shifts
// that one assignment pass works against.
package roster

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/ticketmatch/backend/internal/models"
)

// Directory is the canonical, ordered view of ambassadors.
type Directory struct {
	ordered []models.Ambassador
	byID    map[string]int
}

func (d *Directory) Get(id string) (models.Ambassador, bool) {
	if d == nil {
		return models.Ambassador{}, false
	}
	i, ok := d.byID[id]
	if !ok {
		return models.Ambassador{}, false
	}
	return d.ordered[i], true
}

// All returns ambassadors in input order.
func (d *Directory) All() []models.Ambassador {
	if d == nil {
		return nil
	}
	out := make([]models.Ambassador, len(d.ordered))
	copy(out, d.ordered)
	return out
}

func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.ordered)
}

// RegisteredShift is a shift with its working days already parsed.
type RegisteredShift struct {
	models.Shift
	Days WorkingDays
}

// ShiftRegistry indexes working windows by ambassador.
type ShiftRegistry struct {
	byAmbassador map[string][]RegisteredShift
}

// For returns the shifts of one ambassador in input order.
func (r *ShiftRegistry) For(ambassadorID string) []RegisteredShift {
	if r == nil {
		return nil
	}
	return r.byAmbassador[ambassadorID]
}

func (r *ShiftRegistry) Len() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, s := range r.byAmbassador {
		n += len(s)
	}
	return n
}

// Snapshot is loaded once per pass. Ambassadors and shifts are read-only;
// ticket assignment state is the only thing a pass writes back.
type Snapshot struct {
	Tickets   []models.Ticket
	Directory *Directory
	Shifts    *ShiftRegistry
}

func NewSnapshot(tickets []models.Ticket, ambassadors []models.Ambassador, shifts []models.Shift, logger zerolog.Logger) *Snapshot {
	lg := logger.With().Str("component", "roster").Logger()

	registry := &ShiftRegistry{byAmbassador: map[string][]RegisteredShift{}}
	shiftLOBs := map[string][]string{}
	for _, s := range shifts {
		if s.End < s.Start {
			lg.Warn().
				Str("ambassador_id", s.AmbassadorID).
				Str("start", s.Start.String()).
				Str("end", s.End.String()).
				Msg("dropping shift that ends before it starts")
			continue
		}
		registry.byAmbassador[s.AmbassadorID] = append(registry.byAmbassador[s.AmbassadorID], RegisteredShift{
			Shift: s,
			Days:  ParseWorkingDays(s.WorkingDays),
		})
		if lob := strings.TrimSpace(s.LineOfBusiness); lob != "" {
			shiftLOBs[s.AmbassadorID] = append(shiftLOBs[s.AmbassadorID], lob)
		}
	}

	dir := &Directory{byID: map[string]int{}}
	for _, a := range ambassadors {
		if _, dup := dir.byID[a.ID]; dup {
			lg.Warn().Str("ambassador_id", a.ID).Msg("duplicate ambassador id, keeping first")
			continue
		}
		a.Languages = cloneStrings(a.Languages)
		a.Skills = cloneStrings(a.Skills)
		a.CaseHistory = cloneStrings(a.CaseHistory)
		a.LinesOfBusiness = mergeUnique(a.LinesOfBusiness, shiftLOBs[a.ID])
		if a.MaxActiveTickets <= 0 {
			a.MaxActiveTickets = models.DefaultMaxActiveTickets
		}
		dir.byID[a.ID] = len(dir.ordered)
		dir.ordered = append(dir.ordered, a)
	}

	ts := make([]models.Ticket, len(tickets))
	copy(ts, tickets)

	return &Snapshot{Tickets: ts, Directory: dir, Shifts: registry}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func mergeUnique(a, b []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			key := strings.ToLower(strings.TrimSpace(v))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, strings.TrimSpace(v))
		}
	}
	return out
}
