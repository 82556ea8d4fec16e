package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ticketmatch/backend/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// StatusClosed marks an assignment whose ticket was resolved and whose
// ambassador slot was given back.
const StatusClosed = "Closed"

var (
	ErrAlreadyAssigned = errors.New("ticket already has an assigned outcome")
	ErrNotAssigned     = errors.New("ticket has no active assignment")
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ResetData empties every table except runs.
func (s *Store) ResetData(ctx context.Context) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		return truncateData(ctx, tx)
	})
}

// ImportCounts reports how many rows ReplaceData copied per table.
type ImportCounts struct {
	Tickets     int64
	Ambassadors int64
	Shifts      int64
}

// ReplaceData swaps the whole dataset in one transaction. On any failure the
// previous tickets, ambassadors and shifts stay in place.
func (s *Store) ReplaceData(ctx context.Context, tickets []models.Ticket, ambassadors []models.Ambassador, shifts []models.Shift) (ImportCounts, error) {
	var counts ImportCounts
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		if err := truncateData(ctx, tx); err != nil {
			return fmt.Errorf("reset tables: %w", err)
		}
		var err error
		if counts.Tickets, err = copyTickets(ctx, tx, tickets); err != nil {
			return fmt.Errorf("insert tickets: %w", err)
		}
		if counts.Ambassadors, err = copyAmbassadors(ctx, tx, ambassadors); err != nil {
			return fmt.Errorf("insert ambassadors: %w", err)
		}
		if counts.Shifts, err = copyShifts(ctx, tx, shifts); err != nil {
			return fmt.Errorf("insert shifts: %w", err)
		}
		return nil
	})
	if err != nil {
		return ImportCounts{}, err
	}
	return counts, nil
}

func (s *Store) InsertTickets(ctx context.Context, tickets []models.Ticket) (int64, error) {
	return copyTickets(ctx, s.Pool, tickets)
}

func (s *Store) InsertAmbassadors(ctx context.Context, ambassadors []models.Ambassador) (int64, error) {
	return copyAmbassadors(ctx, s.Pool, ambassadors)
}

func (s *Store) InsertShifts(ctx context.Context, shifts []models.Shift) (int64, error) {
	return copyShifts(ctx, s.Pool, shifts)
}

// copier is satisfied by both *pgxpool.Pool and pgx.Tx.
type copier interface {
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

func truncateData(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `TRUNCATE assignments, tickets, ambassadors, shifts RESTART IDENTITY`)
	return err
}

func copyTickets(ctx context.Context, db copier, tickets []models.Ticket) (int64, error) {
	rows := make([][]any, 0, len(tickets))
	for _, t := range tickets {
		rows = append(rows, []any{
			t.CaseNumber, t.LineOfBusiness, t.PrimaryProduct, t.PrimaryFeature, t.PrimaryDriver,
			t.SecondaryProduct, t.SecondaryFeature, t.IssueSummary, t.Description,
			t.TechnicalProficiency.String(), t.Urgency.String(), t.Language,
			t.CurrentState, t.Priority, t.Complexity,
			t.Assigned, t.AssignedAmbassadorID, t.AssignedAt, nullTime(t.CreatedAt),
		})
	}
	return db.CopyFrom(ctx, pgx.Identifier{"tickets"}, []string{
		"case_number", "line_of_business", "primary_product", "primary_feature", "primary_driver",
		"secondary_product", "secondary_feature", "issue_summary", "description",
		"technical_proficiency", "urgency", "language",
		"current_state", "priority", "complexity",
		"assigned", "assigned_ambassador_id", "assigned_at", "created_at",
	}, pgx.CopyFromRows(rows))
}

func copyAmbassadors(ctx context.Context, db copier, ambassadors []models.Ambassador) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(ambassadors))
	for _, a := range ambassadors {
		rows = append(rows, []any{
			a.ID, a.Name, orEmpty(a.Languages), orEmpty(a.LinesOfBusiness), orEmpty(a.Skills), orEmpty(a.CaseHistory),
			a.CSAT, a.CurrentTickets, a.MaxActiveTickets, a.ExpertiseLevel.String(), now,
		})
	}
	return db.CopyFrom(ctx, pgx.Identifier{"ambassadors"}, []string{
		"id", "name", "languages", "lines_of_business", "skills", "case_history",
		"csat", "current_tickets", "max_active_tickets", "expertise_level", "updated_at",
	}, pgx.CopyFromRows(rows))
}

func copyShifts(ctx context.Context, db copier, shifts []models.Shift) (int64, error) {
	rows := make([][]any, 0, len(shifts))
	for _, sh := range shifts {
		rows = append(rows, []any{sh.AmbassadorID, sh.Name, sh.LineOfBusiness, sh.WorkingDays, int(sh.Start), int(sh.End), sh.Active})
	}
	return db.CopyFrom(ctx, pgx.Identifier{"shifts"}, []string{
		"ambassador_id", "name", "line_of_business", "working_days", "start_minute", "end_minute", "is_active",
	}, pgx.CopyFromRows(rows))
}

const ticketColumns = `t.case_number, t.line_of_business, t.primary_product, t.primary_feature, t.primary_driver,
	t.secondary_product, t.secondary_feature, t.issue_summary, t.description,
	t.technical_proficiency, t.urgency, t.language, t.current_state, t.priority, t.complexity,
	t.assigned, t.assigned_ambassador_id, t.assigned_at, t.created_at`

func scanTicket(row pgx.Row, extra ...any) (models.Ticket, error) {
	var (
		t           models.Ticket
		proficiency string
		urgency     string
		createdAt   *time.Time
	)
	dest := []any{
		&t.CaseNumber, &t.LineOfBusiness, &t.PrimaryProduct, &t.PrimaryFeature, &t.PrimaryDriver,
		&t.SecondaryProduct, &t.SecondaryFeature, &t.IssueSummary, &t.Description,
		&proficiency, &urgency, &t.Language, &t.CurrentState, &t.Priority, &t.Complexity,
		&t.Assigned, &t.AssignedAmbassadorID, &t.AssignedAt, &createdAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return models.Ticket{}, err
	}
	t.TechnicalProficiency = models.ParseProficiency(proficiency)
	t.Urgency = models.ParseUrgency(urgency)
	if createdAt != nil {
		t.CreatedAt = *createdAt
	}
	return t, nil
}

// LoadTickets returns every ticket in import order, assigned ones included.
func (s *Store) LoadTickets(ctx context.Context) ([]models.Ticket, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+ticketColumns+` FROM tickets t ORDER BY t.seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListAmbassadors returns ambassadors in import order, which is the
// tie-break order of a pass.
func (s *Store) ListAmbassadors(ctx context.Context, lob, language string) ([]models.Ambassador, error) {
	query := `SELECT id, name, languages, lines_of_business, skills, case_history, csat,
		current_tickets, max_active_tickets, expertise_level, updated_at FROM ambassadors`
	var args []any
	var wheres []string
	if lob != "" {
		args = append(args, lob)
		wheres = append(wheres, fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(lines_of_business) l WHERE lower(l) = lower($%d))", len(args)))
	}
	if language != "" {
		args = append(args, language)
		wheres = append(wheres, fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(languages) l WHERE upper(trim(l)) = upper($%d))", len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY seq ASC"

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Ambassador
	for rows.Next() {
		var (
			a         models.Ambassador
			expertise string
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Languages, &a.LinesOfBusiness, &a.Skills, &a.CaseHistory, &a.CSAT,
			&a.CurrentTickets, &a.MaxActiveTickets, &expertise, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.ExpertiseLevel = models.ParseProficiency(expertise)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListShifts(ctx context.Context) ([]models.Shift, error) {
	rows, err := s.Pool.Query(ctx, `SELECT ambassador_id, name, line_of_business, working_days, start_minute, end_minute, is_active
		FROM shifts ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Shift
	for rows.Next() {
		var (
			sh         models.Shift
			start, end int
		)
		if err := rows.Scan(&sh.AmbassadorID, &sh.Name, &sh.LineOfBusiness, &sh.WorkingDays, &start, &end, &sh.Active); err != nil {
			return nil, err
		}
		sh.Start = models.TimeOfDay(start)
		sh.End = models.TimeOfDay(end)
		out = append(out, sh)
	}
	return out, rows.Err()
}

type TicketFilter struct {
	Status string
	Query  string
	Limit  int
	Offset int
}

// ListTickets pages through tickets joined with their outcome. Status
// "Pending" selects tickets no pass has looked at yet.
func (s *Store) ListTickets(ctx context.Context, f TicketFilter) ([]map[string]any, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	query := `SELECT t.case_number, t.line_of_business, t.primary_product, t.urgency, t.language, t.created_at,
		a.status, a.ambassador_id, a.reason_code, a.confidence, a.strategy
		FROM tickets t
		LEFT JOIN assignments a ON a.ticket_id = t.case_number`
	var args []any
	var wheres []string
	switch {
	case strings.EqualFold(f.Status, "pending"):
		wheres = append(wheres, "a.ticket_id IS NULL")
	case f.Status != "":
		args = append(args, f.Status)
		wheres = append(wheres, fmt.Sprintf("a.status = $%d", len(args)))
	}
	if f.Query != "" {
		args = append(args, "%"+f.Query+"%")
		wheres = append(wheres, fmt.Sprintf("(t.case_number ILIKE $%d OR t.issue_summary ILIKE $%d OR t.primary_product ILIKE $%d)", len(args), len(args), len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY t.seq ASC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var (
			id, lob, product, urgency, language string
			createdAt                           *time.Time
			status, ambassadorID, reasonCode    *string
			confidence                          *float64
			strategy                            *string
		)
		if err := rows.Scan(&id, &lob, &product, &urgency, &language, &createdAt,
			&status, &ambassadorID, &reasonCode, &confidence, &strategy); err != nil {
			return nil, err
		}
		out = append(out, map[string]any{
			"ticket_id":           id,
			"line_of_business":    lob,
			"primary_product":     product,
			"urgency":             urgency,
			"language":            language,
			"created_at":          createdAt,
			"status":              status,
			"assigned_ambassador": ambassadorID,
			"reason_code":         reasonCode,
			"confidence_score":    confidence,
			"strategy":            strategy,
		})
	}
	return out, rows.Err()
}

func (s *Store) GetTicketDetails(ctx context.Context, ticketID string) (map[string]any, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+ticketColumns+`,
			a.ambassador_id, a.status, a.reason_code, a.explanation, a.confidence, a.strategy, a.scores, a.run_id, a.recorded_at
		FROM tickets t
		LEFT JOIN assignments a ON a.ticket_id = t.case_number
		WHERE t.case_number = $1`, ticketID)

	var (
		ambassadorID *string
		status       *string
		reasonCode   *string
		explanation  *string
		confidence   *float64
		strategy     *string
		scores       []byte
		runID        *string
		recordedAt   *time.Time
	)
	t, err := scanTicket(row, &ambassadorID, &status, &reasonCode, &explanation, &confidence, &strategy, &scores, &runID, &recordedAt)
	if err != nil {
		return nil, err
	}

	result := map[string]any{"ticket": t}
	if status != nil {
		var scoresValue any
		if len(scores) > 0 {
			var tmp models.ComponentScores
			if err := json.Unmarshal(scores, &tmp); err == nil {
				scoresValue = tmp
			}
		}
		result["assignment"] = map[string]any{
			"assigned_ambassador": ambassadorID,
			"status":              *status,
			"reason_code":         derefString(reasonCode),
			"matching_reason":     derefString(explanation),
			"confidence_score":    confidence,
			"strategy":            derefString(strategy),
			"scores":              scoresValue,
			"run_id":              runID,
			"recorded_at":         recordedAt,
		}
	}
	return result, nil
}

// SaveOutcome persists one ledger record. An Assigned outcome also marks the
// ticket and takes a slot from the ambassador in the same transaction.
// Existing Assigned or Closed rows are never overwritten.
func (s *Store) SaveOutcome(ctx context.Context, runID string, rec models.AssignmentRecord) error {
	var scores []byte
	if rec.Scores != nil {
		b, err := json.Marshal(rec.Scores)
		if err != nil {
			return err
		}
		scores = b
	}
	recordedAt := rec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	return s.WithTx(ctx, func(tx pgx.Tx) error {
		var existing string
		err := tx.QueryRow(ctx, `SELECT status FROM assignments WHERE ticket_id = $1 FOR UPDATE`, rec.TicketID).Scan(&existing)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		case existing == models.StatusAssigned || existing == StatusClosed:
			return ErrAlreadyAssigned
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO assignments (ticket_id, ambassador_id, status, reason_code, explanation, confidence, strategy, scores, run_id, recorded_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (ticket_id) DO UPDATE SET
				ambassador_id = EXCLUDED.ambassador_id,
				status = EXCLUDED.status,
				reason_code = EXCLUDED.reason_code,
				explanation = EXCLUDED.explanation,
				confidence = EXCLUDED.confidence,
				strategy = EXCLUDED.strategy,
				scores = EXCLUDED.scores,
				run_id = EXCLUDED.run_id,
				recorded_at = EXCLUDED.recorded_at
		`, rec.TicketID, rec.AmbassadorID, rec.Status, rec.ReasonCode, rec.Explanation, rec.Confidence, rec.Strategy, scores, nullString(runID), recordedAt); err != nil {
			return err
		}

		if rec.Status != models.StatusAssigned || rec.AmbassadorID == nil {
			return nil
		}
		tag, err := tx.Exec(ctx, `UPDATE tickets SET assigned = TRUE, assigned_ambassador_id = $1, assigned_at = $2
			WHERE case_number = $3 AND NOT assigned`, *rec.AmbassadorID, recordedAt, rec.TicketID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrAlreadyAssigned
		}
		return s.UpdateAmbassadorLoad(ctx, tx, *rec.AmbassadorID, 1)
	})
}

func (s *Store) UpdateAmbassadorLoad(ctx context.Context, tx pgx.Tx, ambassadorID string, delta int) error {
	_, err := tx.Exec(ctx, `UPDATE ambassadors SET current_tickets = GREATEST(current_tickets + $1, 0), updated_at = NOW() WHERE id = $2`, delta, ambassadorID)
	return err
}

// ReleaseTicket closes an assigned ticket and gives the ambassador's slot
// back. It returns the ambassador that was released.
func (s *Store) ReleaseTicket(ctx context.Context, ticketID string) (string, error) {
	var ambassadorID string
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var (
			status string
			owner  *string
		)
		err := tx.QueryRow(ctx, `SELECT status, ambassador_id FROM assignments WHERE ticket_id = $1 FOR UPDATE`, ticketID).Scan(&status, &owner)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotAssigned
		}
		if err != nil {
			return err
		}
		if status != models.StatusAssigned || owner == nil {
			return ErrNotAssigned
		}
		ambassadorID = *owner

		if _, err := tx.Exec(ctx, `UPDATE assignments SET status = $1, recorded_at = NOW() WHERE ticket_id = $2`, StatusClosed, ticketID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE tickets SET current_state = 'closed' WHERE case_number = $1`, ticketID); err != nil {
			return err
		}
		return s.UpdateAmbassadorLoad(ctx, tx, ambassadorID, -1)
	})
	return ambassadorID, err
}

func (s *Store) CreateRun(ctx context.Context, id, status string) error {
	_, err := s.Pool.Exec(ctx, `INSERT INTO runs (id, status, started_at) VALUES ($1, $2, NOW())`, id, status)
	return err
}

func (s *Store) FinishRun(ctx context.Context, runID string, status string, summary []byte) error {
	_, err := s.Pool.Exec(ctx, `UPDATE runs SET status = $1, summary = $2, finished_at = NOW() WHERE id = $3`, status, summary, runID)
	return err
}

func (s *Store) GetLatestRun(ctx context.Context) (models.Run, error) {
	var r models.Run
	var finished *time.Time
	err := s.Pool.QueryRow(ctx, `SELECT id, started_at, finished_at, status, summary FROM runs ORDER BY started_at DESC LIMIT 1`).
		Scan(&r.ID, &r.StartedAt, &finished, &r.Status, &r.Summary)
	if err != nil {
		return models.Run{}, err
	}
	if finished != nil {
		r.FinishedAt = *finished
	}
	return r, nil
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func orEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
