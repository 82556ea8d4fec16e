package matching

import (
	"fmt"
	"math"
	"strings"

	"github.com/ticketmatch/backend/internal/models"
	"github.com/ticketmatch/backend/internal/roster"
)

type Formula string

const (
	// FormulaExtended weighs line of business, language, CSAT, technical
	// proficiency and urgency handling 30/25/20/15/10.
	FormulaExtended Formula = "extended"
	// FormulaLegacy is the older 40/30/30 split over line of business,
	// language and CSAT.
	//
	// Deprecated: kept for comparison runs; use FormulaExtended.
	FormulaLegacy Formula = "legacy"
)

func ParseFormula(value string) (Formula, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(FormulaExtended):
		return FormulaExtended, nil
	case string(FormulaLegacy):
		return FormulaLegacy, nil
	default:
		return "", fmt.Errorf("unknown profile formula %q", value)
	}
}

const (
	expertiseSaturation = 10.0
	highUrgencyCSAT     = 4.0
	maxCSAT             = 5.0
)

type Scores struct {
	Profile   float64
	Expertise float64
}

// Scorer derives load-independent compatibility signals.
type Scorer struct {
	Directory *roster.Directory
	Formula   Formula
}

// Score never fails: an unknown ambassador scores zero on both measures.
func (s Scorer) Score(ambassadorID string, t models.Ticket) Scores {
	a, ok := s.Directory.Get(ambassadorID)
	if !ok {
		return Scores{}
	}
	return s.ScoreAmbassador(a, t)
}

func (s Scorer) ScoreAmbassador(a models.Ambassador, t models.Ticket) Scores {
	return Scores{
		Profile:   ProfileScore(s.Formula, a, t),
		Expertise: ExpertiseScore(a, t),
	}
}

func ProfileScore(f Formula, a models.Ambassador, t models.Ticket) float64 {
	if f == FormulaLegacy {
		return legacyProfileScore(a, t)
	}
	return extendedProfileScore(a, t)
}

func extendedProfileScore(a models.Ambassador, t models.Ticket) float64 {
	score := 0.0
	if containsFold(a.LinesOfBusiness, t.LineOfBusiness) {
		score += 0.30
	}
	if speaks(a, t.Language) {
		score += 0.25
	}
	score += csatRatio(a) * 0.20

	switch {
	case a.ExpertiseLevel >= t.TechnicalProficiency:
		score += 0.15
	case a.ExpertiseLevel == t.TechnicalProficiency-1:
		score += 0.075
	}

	if t.Urgency == models.UrgencyHigh {
		if a.CSAT >= highUrgencyCSAT {
			score += 0.10
		} else {
			score += 0.05
		}
	} else {
		score += 0.10
	}
	return roundScore(clamp01(score))
}

func legacyProfileScore(a models.Ambassador, t models.Ticket) float64 {
	score := 0.0
	if containsFold(a.LinesOfBusiness, t.LineOfBusiness) {
		score += 0.4
	}
	if speaks(a, t.Language) {
		score += 0.3
	}
	score += csatRatio(a) * 0.3
	return roundScore(clamp01(score))
}

// ExpertiseScore counts historical cases mentioning the ticket's primary
// product and saturates at ten.
func ExpertiseScore(a models.Ambassador, t models.Ticket) float64 {
	token := strings.ToLower(strings.TrimSpace(t.PrimaryProduct))
	if token == "" {
		return 0
	}
	matches := 0
	for _, c := range a.CaseHistory {
		if strings.Contains(strings.ToLower(c), token) {
			matches++
		}
	}
	return roundScore(math.Min(1.0, float64(matches)/expertiseSaturation))
}

func csatRatio(a models.Ambassador) float64 {
	if math.IsNaN(a.CSAT) {
		return 0
	}
	return clamp01(a.CSAT / maxCSAT)
}

func speaks(a models.Ambassador, language string) bool {
	want := models.NormalizeLanguage(language)
	if want == "" {
		return false
	}
	for _, l := range a.Languages {
		if models.NormalizeLanguage(l) == want {
			return true
		}
	}
	return false
}

func containsFold(values []string, target string) bool {
	target = strings.TrimSpace(target)
	if target == "" {
		return false
	}
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// roundScore trims float noise so threshold comparisons are exact.
func roundScore(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}
