package matching

import (
	"strings"
	"time"

	"github.com/ticketmatch/backend/internal/models"
	"github.com/ticketmatch/backend/internal/roster"
)

const (
	ReasonAvailable     = "AVAILABLE"
	ReasonAtCapacity    = "AT_CAPACITY"
	ReasonNoShift       = "NO_SHIFT"
	ReasonShiftInactive = "SHIFT_INACTIVE"
	ReasonOutOfScope    = "SHIFT_OUT_OF_SCOPE"
	ReasonOffShift      = "OFF_SHIFT"
	ReasonNotWorkingDay = "NOT_WORKING_DAY"
)

const (
	availableSoonScore    = 0.2
	availableTimingCredit = 0.4
	availableLoadWeight   = 0.6
)

// Availability is the evaluator's verdict for one ambassador at one instant.
type Availability struct {
	Ambassador models.Ambassador
	Eligible   bool
	Score      float64
	ReasonCode string
	Shift      *roster.RegisteredShift
}

// Evaluator decides who can take new work right now. It has no state and no
// side effects.
type Evaluator struct {
	StrictWorkingDays           bool
	ScopeShiftsToLineOfBusiness bool
}

// Evaluate returns one verdict per ambassador, in input order.
func (e Evaluator) Evaluate(t models.Ticket, ambassadors []models.Ambassador, shifts *roster.ShiftRegistry, at time.Time) []Availability {
	out := make([]Availability, 0, len(ambassadors))
	for _, a := range ambassadors {
		out = append(out, e.evaluateOne(t, a, shifts.For(a.ID), at))
	}
	return out
}

// Eligible returns only the ambassadors passing every gate, in input order.
func (e Evaluator) Eligible(t models.Ticket, ambassadors []models.Ambassador, shifts *roster.ShiftRegistry, at time.Time) []Availability {
	all := e.Evaluate(t, ambassadors, shifts, at)
	out := make([]Availability, 0, len(all))
	for _, av := range all {
		if av.Eligible {
			out = append(out, av)
		}
	}
	return out
}

func (e Evaluator) evaluateOne(t models.Ticket, a models.Ambassador, shifts []roster.RegisteredShift, at time.Time) Availability {
	av := Availability{Ambassador: a}

	if a.CurrentTickets >= capacityOf(a) {
		av.ReasonCode = ReasonAtCapacity
		av.Score = AvailabilityScore(a, false)
		return av
	}
	if len(shifts) == 0 {
		av.ReasonCode = ReasonNoShift
		av.Score = AvailabilityScore(a, false)
		return av
	}

	now := at.Hour()*3600 + at.Minute()*60 + at.Second()
	// The most specific failure wins when no shift matches.
	failure := ReasonShiftInactive
	rank := map[string]int{ReasonShiftInactive: 0, ReasonOutOfScope: 1, ReasonOffShift: 2, ReasonNotWorkingDay: 3}
	note := func(code string) {
		if rank[code] > rank[failure] {
			failure = code
		}
	}

	for i := range shifts {
		s := &shifts[i]
		if !s.Active {
			note(ReasonShiftInactive)
			continue
		}
		if e.ScopeShiftsToLineOfBusiness && s.LineOfBusiness != "" && !strings.EqualFold(strings.TrimSpace(s.LineOfBusiness), strings.TrimSpace(t.LineOfBusiness)) {
			note(ReasonOutOfScope)
			continue
		}
		if now < int(s.Start)*60 || now > int(s.End)*60 {
			note(ReasonOffShift)
			continue
		}
		if e.StrictWorkingDays && !s.Days.Includes(at.Weekday()) {
			note(ReasonNotWorkingDay)
			continue
		}
		av.Eligible = true
		av.ReasonCode = ReasonAvailable
		av.Shift = s
		av.Score = AvailabilityScore(a, true)
		return av
	}

	av.ReasonCode = failure
	av.Score = AvailabilityScore(a, false)
	return av
}

// AvailabilityScore is 0.6*(1-load)+0.4 for an eligible ambassador and a
// flat 0.2 "available soon" credit otherwise. The load ratio is clamped to
// [0,1] so the result always stays in [0,1].
func AvailabilityScore(a models.Ambassador, eligible bool) float64 {
	if !eligible {
		return availableSoonScore
	}
	ratio := clamp01(float64(a.CurrentTickets) / float64(capacityOf(a)))
	return roundScore(clamp01(availableLoadWeight*(1-ratio) + availableTimingCredit))
}

func capacityOf(a models.Ambassador) int {
	if a.MaxActiveTickets <= 0 {
		return models.DefaultMaxActiveTickets
	}
	return a.MaxActiveTickets
}

// CountReasons tallies ineligibility codes, for explanations and run summaries.
func CountReasons(all []Availability) map[string]int {
	counts := map[string]int{}
	for _, av := range all {
		if !av.Eligible {
			counts[av.ReasonCode]++
		}
	}
	return counts
}
