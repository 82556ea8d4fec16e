package roster

import (
	"strings"
	"time"
)

// WorkingDays is a set of weekdays a shift applies to.
type WorkingDays [7]bool

var everyDay = WorkingDays{true, true, true, true, true, true, true}

var dayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWorkingDays understands ranges ("Mon to Fri", "Mon-Fri"), lists
// ("Mon, Wed, Fri") and keywords ("weekdays", "weekends", "daily"). Empty or
// unrecognised input means every day.
func ParseWorkingDays(raw string) WorkingDays {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case "", "daily", "all", "every day", "everyday", "all days", "7 days":
		return everyDay
	case "weekdays", "weekday", "business days", "workdays":
		return rangeDays(time.Monday, time.Friday)
	case "weekends", "weekend":
		var wd WorkingDays
		wd[time.Saturday] = true
		wd[time.Sunday] = true
		return wd
	}

	var wd WorkingDays
	matched := false
	for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' || r == '/' || r == '&' }) {
		part = strings.TrimSpace(part)
		if from, to, ok := splitRange(part); ok {
			a, okA := dayNames[from]
			b, okB := dayNames[to]
			if okA && okB {
				r := rangeDays(a, b)
				for i := range wd {
					wd[i] = wd[i] || r[i]
				}
				matched = true
			}
			continue
		}
		for _, word := range strings.Fields(part) {
			if d, ok := dayNames[strings.Trim(word, ".")]; ok {
				wd[d] = true
				matched = true
			}
		}
	}
	if !matched {
		return everyDay
	}
	return wd
}

func splitRange(part string) (string, string, bool) {
	for _, sep := range []string{" to ", " through ", " thru ", "-", "–"} {
		if i := strings.Index(part, sep); i > 0 {
			from := strings.Trim(strings.TrimSpace(part[:i]), ".")
			to := strings.Trim(strings.TrimSpace(part[i+len(sep):]), ".")
			return from, to, true
		}
	}
	return "", "", false
}

// rangeDays is inclusive and wraps past Saturday.
func rangeDays(from, to time.Weekday) WorkingDays {
	var wd WorkingDays
	d := from
	for {
		wd[d] = true
		if d == to {
			break
		}
		d = (d + 1) % 7
	}
	return wd
}

func (w WorkingDays) Includes(d time.Weekday) bool {
	return w[d]
}
