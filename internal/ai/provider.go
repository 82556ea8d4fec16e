package ai

import (
	"fmt"
	"net/http"
	"strings"
)

// NewMatcher builds the matcher named by cfg.Provider. "none" and "" return
// a nil matcher and no error.
func NewMatcher(cfg OpenAIConfig) (Matcher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "none":
		return nil, nil
	case "mock":
		return MockMatcher{ModelVersion: "mock-v1"}, nil
	case "http":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("LLM_BASE_URL is required for the http provider")
		}
		return HTTPMatcher{BaseURL: cfg.BaseURL, Client: &http.Client{Timeout: cfg.Timeout}}, nil
	case "openai", "azure":
		m, err := NewOpenAIMatcher(cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// NewAnalyzer builds the ticket analyzer for cfg.Provider, with the same
// provider names as NewMatcher.
func NewAnalyzer(cfg OpenAIConfig) (Analyzer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "none":
		return nil, nil
	case "mock":
		return MockAnalyzer{ModelVersion: "mock-v1"}, nil
	case "http":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("LLM_BASE_URL is required for the http provider")
		}
		return HTTPAnalyzer{BaseURL: cfg.BaseURL, Client: &http.Client{Timeout: cfg.Timeout}}, nil
	case "openai", "azure":
		a, err := NewOpenAIAnalyzer(cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
