package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ticketmatch/backend/internal/models"
)

func assigned(ticketID, ambassadorID string) models.AssignmentRecord {
	id := ambassadorID
	conf := 0.9
	return models.AssignmentRecord{
		TicketID:     ticketID,
		AmbassadorID: &id,
		Explanation:  "Assigned to " + ambassadorID,
		Confidence:   &conf,
		Status:       models.StatusAssigned,
		ReasonCode:   "ASSIGNED",
	}
}

func TestRecordRejectsOverwriteOfAssigned(t *testing.T) {
	l := New(zerolog.Nop())
	if err := l.Record(assigned("t1", "a1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Record(assigned("t1", "a1")); err != nil {
		t.Fatalf("expected identical rewrite to be a no-op, got %v", err)
	}
	if err := l.Record(assigned("t1", "a2")); !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("expected ErrAlreadyAssigned, got %v", err)
	}
	unassigned := models.AssignmentRecord{TicketID: "t1", Explanation: "No available ambassadors.", Status: models.StatusUnassigned}
	if err := l.Record(unassigned); !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("expected downgrade to be rejected, got %v", err)
	}
	rec, _ := l.Get("t1")
	if *rec.AmbassadorID != "a1" {
		t.Fatalf("expected original entry untouched, got %s", *rec.AmbassadorID)
	}
}

func TestRecordOverwritesUnassigned(t *testing.T) {
	l := New(zerolog.Nop())
	_ = l.Record(models.AssignmentRecord{TicketID: "t1", Explanation: "No available ambassadors.", Status: models.StatusUnassigned})
	if err := l.Record(assigned("t1", "a3")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Len() != 1 || !l.IsAssigned("t1") {
		t.Fatalf("expected single assigned entry, len=%d", l.Len())
	}
}

func TestRowsKeepOrderAndShape(t *testing.T) {
	l := New(zerolog.Nop())
	_ = l.Record(assigned("t2", "a1"))
	_ = l.Record(models.AssignmentRecord{TicketID: "t1", Explanation: "No available ambassadors.", Status: models.StatusUnassigned})

	var buf bytes.Buffer
	if err := l.WriteJSON(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 || rows[0]["ticket_id"] != "t2" || rows[1]["ticket_id"] != "t1" {
		t.Fatalf("unexpected rows: %v", rows)
	}
	if rows[1]["assigned_ambassador"] != nil {
		t.Fatalf("expected null ambassador for unassigned row, got %v", rows[1]["assigned_ambassador"])
	}
	if _, ok := rows[1]["confidence_score"]; ok {
		t.Fatalf("expected confidence omitted for unassigned row")
	}
	if rows[0]["status"] != "Assigned" || rows[0]["matching_reason"] == "" {
		t.Fatalf("unexpected assigned row: %v", rows[0])
	}
}
