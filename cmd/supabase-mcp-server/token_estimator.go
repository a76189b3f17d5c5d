package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/askdba/supabase-mcp-server/internal/value"
)

// TokenEstimator counts tokens for a given text.
type TokenEstimator interface {
	Model() string
	Count(text string) (int, error)
}

// encodingEstimator serializes access to one tiktoken encoding.
type encodingEstimator struct {
	name string
	mu   sync.Mutex
	enc  *tiktoken.Tiktoken
}

func (e *encodingEstimator) Model() string { return e.name }

func (e *encodingEstimator) Count(text string) (int, error) {
	e.mu.Lock()
	n := len(e.enc.Encode(text, nil, nil))
	e.mu.Unlock()
	return n, nil
}

// NewTokenEstimator loads the named tiktoken encoding, cl100k_base when
// model is empty.
func NewTokenEstimator(model string) (TokenEstimator, error) {
	name := model
	if name == "" {
		name = defaultTokenEncoding
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("token estimator: unknown encoding %q: %w", name, err)
	}
	return &encodingEstimator{name: name, enc: enc}, nil
}

const defaultTokenEncoding = "cl100k_base"

var (
	tokenTracking  bool
	tokenModel     string
	tokenEstimator TokenEstimator
)

// TokenUsage is the estimate attached to logs and audit entries.
type TokenUsage struct {
	InputEstimated  int    `json:"input_estimated"`
	OutputEstimated int    `json:"output_estimated"`
	TotalEstimated  int    `json:"total_estimated"`
	Model           string `json:"model,omitempty"`
}

func (u *TokenUsage) fields() map[string]interface{} {
	return map[string]interface{}{
		"input_estimated":  u.InputEstimated,
		"output_estimated": u.OutputEstimated,
		"total_estimated":  u.TotalEstimated,
		"model":            u.Model,
	}
}

// estimateUsage returns nil when tracking is off. Estimation errors count
// as zero tokens.
func estimateUsage(params value.Value, resultText string) *TokenUsage {
	if !tokenTracking || tokenEstimator == nil {
		return nil
	}
	in, _ := estimateTokensForValue(params)
	out, _ := estimateTokensForText(resultText)
	return &TokenUsage{
		InputEstimated:  in,
		OutputEstimated: out,
		TotalEstimated:  in + out,
		Model:           tokenEstimator.Model(),
	}
}

// maxTokenEstimationBytes caps how much of a payload is serialized for
// estimation. It does not limit what tools return.
const maxTokenEstimationBytes = 1 << 20

// oversizedEstimate assumes four bytes per token past the cap.
const oversizedEstimate = maxTokenEstimationBytes / 4

var errLimitExceeded = errors.New("size limit exceeded")

// cappedBuffer keeps at most limit bytes and fails the write that crosses it.
type cappedBuffer struct {
	bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.Len()
	if len(p) <= room {
		return b.Buffer.Write(p)
	}
	if room > 0 {
		b.Buffer.Write(p[:room])
	}
	return len(p), errLimitExceeded
}

// estimateTokensForValue counts the tokens of v. JSON values count their
// text rendering; anything else is serialized as JSON first.
func estimateTokensForValue(v any) (int, error) {
	if !tokenTracking || tokenEstimator == nil {
		return 0, nil
	}
	if jv, ok := v.(value.Value); ok {
		if jv.IsUndefined() {
			return 0, nil
		}
		return estimateTokensForText(jv.Text())
	}

	buf := &cappedBuffer{limit: maxTokenEstimationBytes}
	switch err := json.NewEncoder(buf).Encode(v); {
	case errors.Is(err, errLimitExceeded):
		return oversizedEstimate, nil
	case err != nil:
		return 0, err
	}
	return tokenEstimator.Count(buf.String())
}

func estimateTokensForText(s string) (int, error) {
	switch {
	case !tokenTracking || tokenEstimator == nil:
		return 0, nil
	case len(s) > maxTokenEstimationBytes:
		return oversizedEstimate, nil
	}
	return tokenEstimator.Count(s)
}
