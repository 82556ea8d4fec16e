package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ticketmatch/backend/internal/models"
	"github.com/ticketmatch/backend/internal/utils"
)

type MockMatcher struct {
	ModelVersion string
}

func (m MockMatcher) Match(ctx context.Context, req MatchRequest) Result {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return transportFailure(err, start)
	}
	if len(req.AvailableAmbassadors) == 0 {
		return malformed(errors.New("no ambassadors offered"), start)
	}

	h := utils.StableHash(req.Ticket.CaseNumber)
	picked := req.AvailableAmbassadors[utils.Pick(req.Ticket.CaseNumber, len(req.AvailableAmbassadors))]

	confidence := 0.75
	if h%5 == 0 {
		confidence = 0.62
	}
	return success(Decision{
		AmbassadorID: picked.ID,
		Explanation:  fmt.Sprintf("%s picked %s for %s", m.ModelVersion, picked.Name, req.Ticket.PrimaryProduct),
		Confidence:   confidence,
	}, start)
}

// MockAnalyzer derives ticket metadata from keywords in the ticket text,
// falling back to a hash of the case number. The same ticket always yields
// the same analysis.
type MockAnalyzer struct {
	ModelVersion string
}

var (
	mockTopics      = []string{"Teams", "Outlook", "OneDrive", "Azure", "Windows", "Copilot"}
	mockHighWords   = []string{"urgent", "asap", "outage", "down", "blocked", "critical", "cannot"}
	mockLowWords    = []string{"question", "how do", "when possible", "feature request"}
	mockNegWords    = []string{"angry", "frustrated", "unacceptable", "again", "still"}
	mockPosWords    = []string{"thanks", "thank you", "great", "appreciate"}
	mockSentiments  = []string{"neutral", "negative", "positive"}
	mockUrgencyPick = []string{"medium", "low", "high"}
)

func (m MockAnalyzer) AnalyzeTicket(ctx context.Context, t models.Ticket) (Analysis, int64, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return Analysis{}, 0, err
	}
	text := strings.ToLower(TicketText(t))
	if text == "" {
		return Analysis{}, 0, ErrNothingToAnalyze
	}
	h := utils.StableHash(t.CaseNumber)

	topic := "unknown"
	for _, candidate := range mockTopics {
		if strings.Contains(text, strings.ToLower(candidate)) {
			topic = candidate
			break
		}
	}

	urgency := mockUrgencyPick[int(h%uint64(len(mockUrgencyPick)))]
	switch {
	case containsAny(text, mockHighWords):
		urgency = "high"
	case containsAny(text, mockLowWords):
		urgency = "low"
	}

	sentiment := mockSentiments[int((h/7)%uint64(len(mockSentiments)))]
	switch {
	case containsAny(text, mockNegWords):
		sentiment = "negative"
	case containsAny(text, mockPosWords):
		sentiment = "positive"
	}

	return Analysis{
		TicketID:     t.CaseNumber,
		Topic:        topic,
		Urgency:      urgency,
		Sentiment:    sentiment,
		ModelVersion: m.ModelVersion,
	}, time.Since(start).Milliseconds(), nil
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
