package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/ticketmatch/backend/internal/models"
)

// Analyzer extracts metadata from the free text of a ticket. The int64 is
// the call latency in milliseconds.
type Analyzer interface {
	AnalyzeTicket(ctx context.Context, t models.Ticket) (Analysis, int64, error)
}

var ErrNothingToAnalyze = errors.New("ticket has no summary or description")

type Analysis struct {
	TicketID     string `json:"ticket_id"`
	Topic        string `json:"topic"`
	Urgency      string `json:"urgency"`
	Sentiment    string `json:"sentiment"`
	ModelVersion string `json:"model_version,omitempty"`
}

// KnownTopic reports whether Topic names a product area rather than the
// model's "unknown" placeholder.
func (a Analysis) KnownTopic() bool {
	topic := strings.ToLower(strings.TrimSpace(a.Topic))
	return topic != "" && topic != "unknown" && topic != "n/a"
}

// TicketText is the text an analyzer reads: the issue summary and the
// detailed description.
func TicketText(t models.Ticket) string {
	parts := make([]string, 0, 2)
	for _, p := range []string{t.IssueSummary, t.Description} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

// ParseAnalysis reads a JSON object with topic, urgency and sentiment.
// Urgency must be low, medium or high and sentiment positive, neutral or
// negative. Extra keys are ignored.
func ParseAnalysis(raw []byte) (Analysis, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Analysis{}, fmt.Errorf("%w: empty body", ErrMalformed)
	}

	var body struct {
		TicketID     string  `json:"ticket_id"`
		Topic        *string `json:"topic"`
		Urgency      *string `json:"urgency"`
		Sentiment    *string `json:"sentiment"`
		ModelVersion string  `json:"model_version"`
	}
	if err := json.Unmarshal(trimmed, &body); err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case body.Topic == nil:
		return Analysis{}, fmt.Errorf("%w: missing topic", ErrMalformed)
	case body.Urgency == nil:
		return Analysis{}, fmt.Errorf("%w: missing urgency", ErrMalformed)
	case body.Sentiment == nil:
		return Analysis{}, fmt.Errorf("%w: missing sentiment", ErrMalformed)
	}

	urgency := strings.ToLower(strings.TrimSpace(*body.Urgency))
	if urgency != "low" && urgency != "medium" && urgency != "high" {
		return Analysis{}, fmt.Errorf("%w: urgency %q", ErrMalformed, *body.Urgency)
	}
	sentiment := strings.ToLower(strings.TrimSpace(*body.Sentiment))
	if sentiment != "positive" && sentiment != "neutral" && sentiment != "negative" {
		return Analysis{}, fmt.Errorf("%w: sentiment %q", ErrMalformed, *body.Sentiment)
	}

	return Analysis{
		TicketID:     body.TicketID,
		Topic:        strings.TrimSpace(*body.Topic),
		Urgency:      urgency,
		Sentiment:    sentiment,
		ModelVersion: body.ModelVersion,
	}, nil
}

const analysisPrompt = "You are an assistant that extracts metadata from support tickets. " +
	"Given a user message, return a JSON object with: " +
	"'topic' (the main issue area), 'urgency' (low/medium/high), " +
	"and 'sentiment' (positive/neutral/negative). Reply with the JSON object only."

const (
	analysisTemperature = 0.2
	analysisMaxTokens   = 200
)

// OpenAIAnalyzer asks a chat model for the ticket metadata.
type OpenAIAnalyzer struct {
	client  chatCompleter
	model   string
	timeout time.Duration
	limiter *rate.Limiter
}

func NewOpenAIAnalyzer(cfg OpenAIConfig) (*OpenAIAnalyzer, error) {
	client, err := newChatClient(cfg)
	if err != nil {
		return nil, err
	}
	return newOpenAIAnalyzer(client, cfg), nil
}

func newOpenAIAnalyzer(client chatCompleter, cfg OpenAIConfig) *OpenAIAnalyzer {
	a := &OpenAIAnalyzer{client: client, model: cfg.Model, timeout: cfg.Timeout, limiter: newLimiter(cfg)}
	if a.timeout <= 0 {
		a.timeout = defaultTimeout
	}
	return a
}

func (a *OpenAIAnalyzer) AnalyzeTicket(ctx context.Context, t models.Ticket) (Analysis, int64, error) {
	start := time.Now()
	text := TicketText(t)
	if text == "" {
		return Analysis{}, 0, ErrNothingToAnalyze
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if a.limiter != nil {
		if err := a.limiter.Wait(callCtx); err != nil {
			return Analysis{}, time.Since(start).Milliseconds(), fmt.Errorf("rate limiter: %w", err)
		}
	}

	resp, err := a.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analysisPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Ticket: " + text},
		},
		Temperature: analysisTemperature,
		MaxTokens:   analysisMaxTokens,
	})
	if err != nil {
		return Analysis{}, time.Since(start).Milliseconds(), err
	}
	if len(resp.Choices) == 0 {
		return Analysis{}, time.Since(start).Milliseconds(), fmt.Errorf("%w: model returned no choices", ErrMalformed)
	}

	analysis, err := ParseAnalysis([]byte(resp.Choices[0].Message.Content))
	if err != nil {
		return Analysis{}, time.Since(start).Milliseconds(), err
	}
	analysis.TicketID = t.CaseNumber
	analysis.ModelVersion = a.model
	return analysis, time.Since(start).Milliseconds(), nil
}
