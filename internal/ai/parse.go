package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
)

// ParseDecision accepts exactly one JSON object carrying ambassador_id,
// explanation and confidence_score. Anything else is ErrMalformed.
func ParseDecision(raw []byte) (Decision, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Decision{}, fmt.Errorf("%w: empty body", ErrMalformed)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()

	var body struct {
		AmbassadorID *string  `json:"ambassador_id"`
		Explanation  *string  `json:"explanation"`
		Confidence   *float64 `json:"confidence_score"`
	}
	if err := dec.Decode(&body); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Decision{}, fmt.Errorf("%w: trailing data after object", ErrMalformed)
	}

	switch {
	case body.AmbassadorID == nil:
		return Decision{}, fmt.Errorf("%w: missing ambassador_id", ErrMalformed)
	case body.Explanation == nil:
		return Decision{}, fmt.Errorf("%w: missing explanation", ErrMalformed)
	case body.Confidence == nil:
		return Decision{}, fmt.Errorf("%w: missing confidence_score", ErrMalformed)
	}

	id := strings.TrimSpace(*body.AmbassadorID)
	if id == "" {
		return Decision{}, fmt.Errorf("%w: empty ambassador_id", ErrMalformed)
	}
	explanation := strings.TrimSpace(*body.Explanation)
	if explanation == "" {
		return Decision{}, fmt.Errorf("%w: empty explanation", ErrMalformed)
	}
	conf := *body.Confidence
	if math.IsNaN(conf) || conf < 0 || conf > 1 {
		return Decision{}, fmt.Errorf("%w: confidence_score %v outside [0,1]", ErrMalformed, conf)
	}

	return Decision{AmbassadorID: id, Explanation: explanation, Confidence: conf}, nil
}
