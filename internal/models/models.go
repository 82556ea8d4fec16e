package models

import "time"

type Ticket struct {
	CaseNumber           string      `json:"case_number"`
	LineOfBusiness       string      `json:"line_of_business"`
	PrimaryProduct       string      `json:"primary_product"`
	PrimaryFeature       string      `json:"primary_feature"`
	PrimaryDriver        string      `json:"primary_driver,omitempty"`
	SecondaryProduct     string      `json:"secondary_product,omitempty"`
	SecondaryFeature     string      `json:"secondary_feature,omitempty"`
	IssueSummary         string      `json:"issue_summary"`
	Description          string      `json:"description"`
	TechnicalProficiency Proficiency `json:"technical_proficiency"`
	Urgency              Urgency     `json:"urgency"`
	Language             string      `json:"language"`
	Assigned             bool        `json:"assigned"`
	AssignedAmbassadorID *string     `json:"assigned_ambassador_id"`
	AssignedAt           *time.Time  `json:"assigned_at"`
	CreatedAt            time.Time   `json:"created_at"`
	CurrentState         string      `json:"current_state,omitempty"`
	Priority             string      `json:"priority,omitempty"`
	Complexity           string      `json:"complexity,omitempty"`
	// UrgencyDefaulted is set by ingestion when the source row carried no
	// recognisable urgency and Urgency holds the medium fallback.
	UrgencyDefaulted     bool        `json:"-"`
}

// MarkAssigned moves the ticket to its terminal assigned state.
func (t *Ticket) MarkAssigned(ambassadorID string, at time.Time) {
	id := ambassadorID
	ts := at
	t.Assigned = true
	t.AssignedAmbassadorID = &id
	t.AssignedAt = &ts
}

type Ambassador struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Languages        []string    `json:"languages"`
	LinesOfBusiness  []string    `json:"lines_of_business"`
	Skills           []string    `json:"skills"`
	CaseHistory      []string    `json:"case_history"`
	CSAT             float64     `json:"csat_score"`
	CurrentTickets   int         `json:"current_tickets"`
	MaxActiveTickets int         `json:"max_active_tickets"`
	ExpertiseLevel   Proficiency `json:"expertise_level"`
	Performance      Performance `json:"performance"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Performance holds historical delivery metrics. Nothing in the ingestion
// sources carries resolution data, so Measured stays false and no score
// reads these fields.
type Performance struct {
	AvgResolutionHours float64 `json:"avg_resolution_hours"`
	SuccessRate        float64 `json:"success_rate"`
	Measured           bool    `json:"measured"`
}

const DefaultMaxActiveTickets = 3

type Shift struct {
	AmbassadorID   string    `json:"ambassador_id"`
	Name           string    `json:"name"`
	LineOfBusiness string    `json:"line_of_business"`
	WorkingDays    string    `json:"working_days"`
	Start          TimeOfDay `json:"shift_start"`
	End            TimeOfDay `json:"shift_end"`
	Active         bool      `json:"is_active"`
}

const (
	StatusAssigned   = "Assigned"
	StatusUnassigned = "Unassigned"
)

// ComponentScores is the score breakdown for one ticket/ambassador pair.
type ComponentScores struct {
	Profile      float64 `json:"profile"`
	Availability float64 `json:"availability"`
	Expertise    float64 `json:"expertise"`
	Total        float64 `json:"total"`
	Final        float64 `json:"final"`
	Boosted      bool    `json:"boosted"`
}

type AssignmentRecord struct {
	TicketID     string           `json:"ticket_id"`
	AmbassadorID *string          `json:"ambassador_id"`
	Explanation  string           `json:"explanation"`
	Confidence   *float64         `json:"confidence,omitempty"`
	Status       string           `json:"status"`
	ReasonCode   string           `json:"reason_code"`
	Strategy     string           `json:"strategy"`
	Scores       *ComponentScores `json:"scores,omitempty"`
	RecordedAt   time.Time        `json:"recorded_at"`
}

// LedgerRow is the externally persisted shape of an assignment record.
type LedgerRow struct {
	TicketID           string   `json:"ticket_id"`
	AssignedAmbassador *string  `json:"assigned_ambassador"`
	MatchingReason     string   `json:"matching_reason"`
	ConfidenceScore    *float64 `json:"confidence_score,omitempty"`
	Status             string   `json:"status"`
	ReasonCode         string   `json:"reason_code,omitempty"`
	Strategy           string   `json:"strategy,omitempty"`
}

func (r AssignmentRecord) Row() LedgerRow {
	return LedgerRow{
		TicketID:           r.TicketID,
		AssignedAmbassador: r.AmbassadorID,
		MatchingReason:     r.Explanation,
		ConfidenceScore:    r.Confidence,
		Status:             r.Status,
		ReasonCode:         r.ReasonCode,
		Strategy:           r.Strategy,
	}
}

type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"`
	Summary    []byte    `json:"summary"`
}
