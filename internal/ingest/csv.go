// Package ingest reads ticket, ambassador and shift tables exported as CSV.
// Row-level problems are collected and returned next to the parsed rows so
// callers can decide whether to reject the import or carry on.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ticketmatch/backend/internal/models"
)

var (
	defaultShiftStart = models.NewTimeOfDay(9, 0)
	defaultShiftEnd   = models.NewTimeOfDay(17, 0)
)

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"1/2/2006 15:04",
	"1/2/2006",
}

func ParseTickets(r io.Reader) ([]models.Ticket, []string) {
	var out []models.Ticket
	problems := readRows(r, "tickets", func(row int, rec []string, index map[string]int) string {
		id := getFieldAny(rec, index, "case number", "case_number", "ticket_id", "ticket id", "id")
		if id == "" {
			id = fmt.Sprintf("TICKET-%04d", len(out)+1)
		}

		t := models.Ticket{
			CaseNumber:           id,
			LineOfBusiness:       getFieldAny(rec, index, "line of business", "line_of_business", "lob"),
			PrimaryProduct:       getFieldAny(rec, index, "primary product", "primary_product", "product"),
			PrimaryFeature:       getFieldAny(rec, index, "primary feature", "primary_feature"),
			PrimaryDriver:        getFieldAny(rec, index, "spesific primary driver", "specific primary driver", "specific_primary_driver", "primary driver"),
			SecondaryProduct:     getFieldAny(rec, index, "secondary product", "secondary_product"),
			SecondaryFeature:     getFieldAny(rec, index, "spesific secondary feature", "specific secondary feature", "specific_secondary_feature", "secondary feature"),
			IssueSummary:         getFieldAny(rec, index, "issue summary", "issue_summary", "summary"),
			Description:          getFieldAny(rec, index, "detailed description", "detailed_description", "description"),
			TechnicalProficiency: models.ParseProficiency(getFieldAny(rec, index, "technical proficeny", "technical proficiency", "technical_proficiency", "proficiency")),
			Language:             getFieldAny(rec, index, "language", "language(s)"),
			CurrentState:         getFieldAny(rec, index, "current_state", "current state", "state"),
			Priority:             getFieldAny(rec, index, "priority"),
			Complexity:           getFieldAny(rec, index, "complexity"),
		}
		urgency, known := models.LookupUrgency(getFieldAny(rec, index, "urgency"))
		t.Urgency = urgency
		t.UrgencyDefaulted = !known

		if raw := getFieldAny(rec, index, "created_at", "creation_timestamp", "created", "date"); raw != "" {
			ts, err := parseTimestamp(raw)
			if err != nil {
				return fmt.Sprintf("tickets row %d: invalid creation time %q", row, raw)
			}
			t.CreatedAt = ts
		}
		if owner := getFieldAny(rec, index, "assigned ambassador", "assigned_ambassador", "assigned_ambassador_id"); owner != "" {
			t.Assigned = true
			t.AssignedAmbassadorID = &owner
		}

		out = append(out, t)
		return ""
	})
	return out, problems
}

func ParseAmbassadors(r io.Reader) ([]models.Ambassador, []string) {
	var out []models.Ambassador
	problems := readRows(r, "ambassadors", func(row int, rec []string, index map[string]int) string {
		id := getFieldAny(rec, index, "ambassador id", "ambassador_id", "id")
		if id == "" {
			return fmt.Sprintf("ambassadors row %d: ambassador id required", row)
		}

		a := models.Ambassador{
			ID:               id,
			Name:             getFieldAny(rec, index, "name"),
			Languages:        splitList(getFieldAny(rec, index, "language(s)", "languages", "language")),
			LinesOfBusiness:  splitList(getFieldAny(rec, index, "line of business", "lines_of_business", "line_of_business", "lob")),
			Skills:           splitList(getFieldAny(rec, index, "skills", "products")),
			CaseHistory:      splitList(getFieldAny(rec, index, "case number", "case_history", "case history", "cases")),
			MaxActiveTickets: models.DefaultMaxActiveTickets,
			ExpertiseLevel:   models.ProficiencyIntermediate,
		}

		if raw := getFieldAny(rec, index, "csat", "csat_score", "csat score"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Sprintf("ambassadors row %d: invalid CSAT %q", row, raw)
			}
			a.CSAT = v
		}
		if raw := getFieldAny(rec, index, "current_tickets", "current tickets", "current_workload", "workload"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Sprintf("ambassadors row %d: invalid current tickets %q", row, raw)
			}
			a.CurrentTickets = v
		}
		if v, err := strconv.Atoi(getFieldAny(rec, index, "max_active_tickets", "max active tickets", "capacity")); err == nil && v > 0 {
			a.MaxActiveTickets = v
		}
		if raw := getFieldAny(rec, index, "expertise_level", "expertise level", "expertise"); raw != "" {
			a.ExpertiseLevel = models.ParseProficiency(raw)
		}

		out = append(out, a)
		return ""
	})
	return out, problems
}

func ParseShifts(r io.Reader) ([]models.Shift, []string) {
	var out []models.Shift
	problems := readRows(r, "shifts", func(row int, rec []string, index map[string]int) string {
		id := getFieldAny(rec, index, "ambassador id", "ambassador_id")
		if id == "" {
			return fmt.Sprintf("shifts row %d: ambassador id required", row)
		}

		s := models.Shift{
			AmbassadorID:   id,
			Name:           getFieldAny(rec, index, "name"),
			LineOfBusiness: getFieldAny(rec, index, "line of business", "line_of_business", "lob"),
			WorkingDays:    getFieldAny(rec, index, "working days", "working_days", "days"),
			Start:          defaultShiftStart,
			End:            defaultShiftEnd,
			Active:         true,
		}
		if v, err := models.ParseTimeOfDay(getFieldAny(rec, index, "shift start", "shift_start", "start")); err == nil {
			s.Start = v
		}
		if v, err := models.ParseTimeOfDay(getFieldAny(rec, index, "shift end", "shift_end", "end")); err == nil {
			s.End = v
		}
		if raw := getFieldAny(rec, index, "is_active", "active"); raw != "" {
			s.Active = parseBool(raw, true)
		}

		out = append(out, s)
		return ""
	})
	return out, problems
}

// readRows feeds every data row to fn, numbering rows from 2 so messages
// match spreadsheet line numbers. fn returns a problem string or "".
func readRows(r io.Reader, table string, fn func(row int, rec []string, index map[string]int) string) []string {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return []string{fmt.Sprintf("%s: failed to read header", table)}
	}
	index := headerIndex(headers)

	var problems []string
	for row := 2; ; row++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s row %d: %v", table, row, err))
			continue
		}
		if blank(rec) {
			continue
		}
		if msg := fn(row, rec, index); msg != "" {
			problems = append(problems, msg)
		}
	}
	return problems
}

func headerIndex(headers []string) map[string]int {
	idx := map[string]int{}
	for i, h := range headers {
		key := normalizeHeader(h)
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

func getField(rec []string, idx map[string]int, name string) string {
	pos, ok := idx[name]
	if !ok || pos >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[pos])
}

func getFieldAny(rec []string, idx map[string]int, names ...string) string {
	for _, name := range names {
		if v := getField(rec, idx, normalizeHeader(name)); v != "" && !isNullish(v) {
			return v
		}
	}
	return ""
}

func normalizeHeader(h string) string {
	h = strings.ReplaceAll(h, "\ufeff", "")
	return strings.ToLower(strings.Join(strings.Fields(h), " "))
}

// isNullish catches the placeholders spreadsheet exports write for empty cells.
func isNullish(v string) bool {
	switch strings.ToLower(v) {
	case "nan", "null", "none", "n/a":
		return true
	}
	return false
}

func splitList(raw string) []string {
	raw = strings.ReplaceAll(raw, ";", ",")
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", raw)
}

func parseBool(raw string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "active":
		return true
	case "0", "false", "no", "n", "inactive":
		return false
	default:
		return fallback
	}
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
