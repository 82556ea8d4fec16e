package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ticketmatch/backend/internal/models"
)

const maxResponseBytes = 1 << 20

// HTTPMatcher posts the match request to a self-hosted matching service.
type HTTPMatcher struct {
	BaseURL string
	Client  *http.Client
}

func (h HTTPMatcher) Match(ctx context.Context, req MatchRequest) Result {
	if h.Client == nil {
		h.Client = &http.Client{Timeout: 15 * time.Second}
	}
	start := time.Now()

	b, err := json.Marshal(req)
	if err != nil {
		return transportFailure(err, start)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(h.BaseURL, "/")+"/match", bytes.NewReader(b))
	if err != nil {
		return transportFailure(err, start)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(httpReq)
	if err != nil {
		return transportFailure(err, start)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return transportFailure(fmt.Errorf("match service http error: %s", resp.Status), start)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportFailure(err, start)
	}
	d, err := ParseDecision(body)
	if err != nil {
		return malformed(err, start)
	}
	return success(d, start)
}

// HTTPAnalyzer posts ticket text to a self-hosted analysis service.
type HTTPAnalyzer struct {
	BaseURL string
	Client  *http.Client
}

type analyzeRequest struct {
	TicketID       string `json:"ticket_id"`
	LineOfBusiness string `json:"line_of_business"`
	IssueSummary   string `json:"issue_summary"`
	Description    string `json:"description"`
}

func (h HTTPAnalyzer) AnalyzeTicket(ctx context.Context, t models.Ticket) (Analysis, int64, error) {
	if h.Client == nil {
		h.Client = &http.Client{Timeout: 15 * time.Second}
	}
	if TicketText(t) == "" {
		return Analysis{}, 0, ErrNothingToAnalyze
	}

	b, err := json.Marshal(analyzeRequest{
		TicketID:       t.CaseNumber,
		LineOfBusiness: t.LineOfBusiness,
		IssueSummary:   t.IssueSummary,
		Description:    t.Description,
	})
	if err != nil {
		return Analysis{}, 0, err
	}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(h.BaseURL, "/")+"/analyze", bytes.NewReader(b))
	if err != nil {
		return Analysis{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return Analysis{}, time.Since(start).Milliseconds(), err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Analysis{}, time.Since(start).Milliseconds(), fmt.Errorf("analysis service http error: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Analysis{}, time.Since(start).Milliseconds(), err
	}
	analysis, err := ParseAnalysis(body)
	if err != nil {
		return Analysis{}, time.Since(start).Milliseconds(), err
	}
	analysis.TicketID = t.CaseNumber
	return analysis, time.Since(start).Milliseconds(), nil
}
