package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Proficiency int

const (
	ProficiencyBasic Proficiency = iota
	ProficiencyIntermediate
	ProficiencyAdvanced
	ProficiencyExpert
)

func (p Proficiency) String() string {
	switch p {
	case ProficiencyIntermediate:
		return "intermediate"
	case ProficiencyAdvanced:
		return "advanced"
	case ProficiencyExpert:
		return "expert"
	default:
		return "basic"
	}
}

// ParseProficiency maps free text to the ordinal scale. Unknown values are
// treated as basic.
func ParseProficiency(value string) Proficiency {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "intermediate", "medium", "mid":
		return ProficiencyIntermediate
	case "advanced", "high", "senior":
		return ProficiencyAdvanced
	case "expert", "specialist":
		return ProficiencyExpert
	default:
		return ProficiencyBasic
	}
}

func (p Proficiency) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Proficiency) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*p = ParseProficiency(s)
	return nil
}

type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyMedium
	UrgencyHigh
)

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyHigh:
		return "high"
	default:
		return "medium"
	}
}

// ParseUrgency maps free text to the ordinal scale. Unknown values are
// treated as medium.
func ParseUrgency(value string) Urgency {
	u, _ := LookupUrgency(value)
	return u
}

// LookupUrgency is ParseUrgency that also reports whether value named a
// level at all.
func LookupUrgency(value string) (Urgency, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "low", "minor", "baja":
		return UrgencyLow, true
	case "medium", "normal", "moderate", "media":
		return UrgencyMedium, true
	case "high", "urgent", "critical", "alta":
		return UrgencyHigh, true
	default:
		return UrgencyMedium, false
	}
}

func (u Urgency) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

func (u *Urgency) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*u = ParseUrgency(s)
	return nil
}

// TimeOfDay is a wall-clock time in minutes since midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

func TimeOfDayOf(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute())
}

var timeOfDayLayouts = []string{
	"15:04:05",
	"15:04",
	"3:04 PM",
	"3:04PM",
	"3 PM",
	"3PM",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// ParseTimeOfDay accepts the clock formats seen in shift spreadsheets.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	v := strings.TrimSpace(value)
	for _, layout := range timeOfDayLayouts {
		if t, err := time.Parse(layout, strings.ToUpper(v)); err == nil {
			return TimeOfDayOf(t), nil
		}
	}
	return 0, fmt.Errorf("unparsable time of day %q", value)
}

func (d TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(d)/60, int(d)%60)
}

func (d TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// NormalizeLanguage folds language names and codes to a short upper-case code.
func NormalizeLanguage(value string) string {
	v := strings.ToUpper(strings.TrimSpace(value))
	switch v {
	case "EN", "ENG", "ENGLISH", "INGLES", "INGLÉS":
		return "EN"
	case "ES", "SPA", "SPANISH", "ESPAÑOL", "ESPANOL":
		return "ES"
	case "PT", "POR", "PORTUGUESE", "PORTUGUÊS", "PORTUGUES":
		return "PT"
	case "FR", "FRA", "FRENCH", "FRANÇAIS", "FRANCAIS":
		return "FR"
	case "DE", "DEU", "GER", "GERMAN", "DEUTSCH":
		return "DE"
	case "IT", "ITA", "ITALIAN", "ITALIANO":
		return "IT"
	default:
		return v
	}
}
