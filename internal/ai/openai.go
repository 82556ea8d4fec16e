package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const systemPrompt = "You select the most suitable support ambassador for a ticket, weighing skills, current workload and CSAT. Reply with a single JSON object and nothing else."

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type OpenAIConfig struct {
	Provider    string // "openai" or "azure"
	BaseURL     string
	APIKey      string
	Model       string
	APIVersion  string
	Timeout     time.Duration
	RatePerSec  float64
	Burst       int
	Temperature float32
	MaxTokens   int
}

// OpenAIMatcher talks to OpenAI or an Azure OpenAI deployment.
type OpenAIMatcher struct {
	client      chatCompleter
	model       string
	timeout     time.Duration
	limiter     *rate.Limiter
	temperature float32
	maxTokens   int
}

const (
	defaultTimeout = 30 * time.Second
	// go-openai drops a zero temperature from the request, which leaves the
	// provider default of 1.0 in effect.
	defaultMatchTemperature = 0.7
	defaultMatchMaxTokens   = 600
)

func NewOpenAIMatcher(cfg OpenAIConfig) (*OpenAIMatcher, error) {
	client, err := newChatClient(cfg)
	if err != nil {
		return nil, err
	}
	return newOpenAIMatcher(client, cfg), nil
}

// newChatClient builds an OpenAI or Azure OpenAI client from cfg.
func newChatClient(cfg OpenAIConfig) (chatCompleter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("LLM_API_KEY is not set")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("LLM_MODEL is not set")
	}

	var clientCfg openai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case "azure":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, errors.New("LLM_BASE_URL is required for azure")
		}
		endpoint := strings.TrimSpace(cfg.BaseURL)
		if !strings.HasPrefix(endpoint, "https://") && !strings.HasPrefix(endpoint, "http://") {
			endpoint = "https://" + endpoint
		}
		clientCfg = openai.DefaultAzureConfig(cfg.APIKey, endpoint)
		if cfg.APIVersion != "" {
			clientCfg.APIVersion = cfg.APIVersion
		}
		clientCfg.AzureModelMapperFunc = func(model string) string { return model }
	default:
		clientCfg = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		}
	}
	return openai.NewClientWithConfig(clientCfg), nil
}

func newLimiter(cfg OpenAIConfig) *rate.Limiter {
	if cfg.RatePerSec <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
}

func newOpenAIMatcher(client chatCompleter, cfg OpenAIConfig) *OpenAIMatcher {
	m := &OpenAIMatcher{
		client:      client,
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		limiter:     newLimiter(cfg),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
	if m.timeout <= 0 {
		m.timeout = defaultTimeout
	}
	if m.temperature <= 0 {
		m.temperature = defaultMatchTemperature
	}
	if m.maxTokens <= 0 {
		m.maxTokens = defaultMatchMaxTokens
	}
	return m
}

func (m *OpenAIMatcher) Match(ctx context.Context, req MatchRequest) Result {
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if m.limiter != nil {
		if err := m.limiter.Wait(callCtx); err != nil {
			return transportFailure(fmt.Errorf("rate limiter: %w", err), start)
		}
	}

	prompt, err := FormatPrompt(req)
	if err != nil {
		return transportFailure(err, start)
	}

	resp, err := m.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	})
	if err != nil {
		return transportFailure(err, start)
	}
	if len(resp.Choices) == 0 {
		return malformed(errors.New("model returned no choices"), start)
	}

	d, err := ParseDecision([]byte(resp.Choices[0].Message.Content))
	if err != nil {
		return malformed(err, start)
	}
	return success(d, start)
}

// FormatPrompt renders the ticket and candidate list into the user message.
func FormatPrompt(req MatchRequest) (string, error) {
	ticket, err := json.MarshalIndent(req.Ticket, "", "  ")
	if err != nil {
		return "", err
	}
	ambassadors, err := json.MarshalIndent(req.AvailableAmbassadors, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Pick the ambassador best suited to handle this support ticket.\n\n")
	b.WriteString("Answer with exactly this JSON shape and no surrounding text:\n")
	b.WriteString(`{"ambassador_id": "<id from the list>", "explanation": "<short reason>", "confidence_score": <number between 0.0 and 1.0>}`)
	b.WriteString("\n\nTICKET:\n")
	b.Write(ticket)
	b.WriteString("\n\nAVAILABLE AMBASSADORS:\n")
	b.Write(ambassadors)
	return b.String(), nil
}
