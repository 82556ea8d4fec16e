package matching

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ticketmatch/backend/internal/ai"
	"github.com/ticketmatch/backend/internal/models"
)

const (
	explainLLMTransport = "Language-model matcher was unreachable; ticket left unassigned."
	explainLLMMalformed = "Language-model matcher returned an unusable answer; ticket left unassigned."
)

// LLMSelector delegates the choice to an external model. Any failure leaves
// the ticket unassigned; it never falls back to a default pick.
type LLMSelector struct {
	Matcher ai.Matcher
	Timeout time.Duration
	Logger  zerolog.Logger
}

func (LLMSelector) Name() string { return "llm" }

func (s LLMSelector) Select(ctx context.Context, t models.Ticket, candidates []Candidate) Selection {
	if len(candidates) == 0 {
		return noMatch(ReasonNoAvailable, explainNoAvailable)
	}

	available := make([]models.Ambassador, 0, len(candidates))
	for _, c := range candidates {
		available = append(available, c.Ambassador)
	}
	req := ai.NewMatchRequest(t, available)

	callCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	res := s.Matcher.Match(callCtx, req)

	lg := s.Logger.With().
		Str("component", "llm_selector").
		Str("ticket_id", t.CaseNumber).
		Str("status", string(res.Status)).
		Int64("latency_ms", res.LatencyMs).
		Logger()

	switch res.Status {
	case ai.StatusSuccess:
		for i, c := range candidates {
			if c.Ambassador.ID == res.Decision.AmbassadorID {
				lg.Debug().Str("ambassador_id", c.Ambassador.ID).Msg("model picked ambassador")
				return Selection{
					Index:       i,
					Explanation: res.Decision.Explanation,
					Confidence:  res.Decision.Confidence,
					ReasonCode:  ReasonAssigned,
				}
			}
		}
		lg.Warn().Str("ambassador_id", res.Decision.AmbassadorID).Msg("model picked an ambassador outside the eligible set")
		return noMatch(ReasonLLMMalformed, explainLLMMalformed)
	case ai.StatusTransportFailure:
		lg.Warn().Err(res.Err).Msg("model call failed")
		return noMatch(ReasonLLMTransport, explainLLMTransport)
	default:
		lg.Warn().Err(res.Err).Msg("model reply rejected")
		return noMatch(ReasonLLMMalformed, explainLLMMalformed)
	}
}
