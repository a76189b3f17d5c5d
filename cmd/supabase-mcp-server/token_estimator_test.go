package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/askdba/supabase-mcp-server/internal/value"
)

// wordEstimator counts whitespace-separated words.
type wordEstimator struct{}

func (wordEstimator) Model() string { return "words" }

func (wordEstimator) Count(text string) (int, error) { return len(strings.Fields(text)), nil }

func withEstimator(t *testing.T, tracking bool, est TokenEstimator) {
	t.Helper()
	origTracking, origEstimator := tokenTracking, tokenEstimator
	t.Cleanup(func() {
		tokenTracking, tokenEstimator = origTracking, origEstimator
	})
	tokenTracking, tokenEstimator = tracking, est
}

func TestNewTokenEstimatorInvalidModel(t *testing.T) {
	if _, err := NewTokenEstimator("invalid_model_xyz"); err == nil {
		t.Fatal("expected an error for an unknown encoding")
	}
}

func TestNewTokenEstimatorCount(t *testing.T) {
	est, err := NewTokenEstimator("")
	if err != nil {
		t.Skipf("cl100k_base unavailable: %v", err)
	}
	if est.Model() != "cl100k_base" {
		t.Fatalf("model = %q", est.Model())
	}
	n, err := est.Count(`{"email":"a@example.com"}`)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n <= 0 {
		t.Fatalf("count = %d, want > 0", n)
	}
}

func TestCappedBuffer(t *testing.T) {
	buf := &cappedBuffer{limit: 5}
	if _, err := buf.Write([]byte("abc")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	n, err := buf.Write([]byte("defg"))
	if !errors.Is(err, errLimitExceeded) {
		t.Fatalf("err = %v, want errLimitExceeded", err)
	}
	if n != 4 {
		t.Fatalf("n = %d, want 4", n)
	}
	if buf.String() != "abcde" {
		t.Fatalf("buffer = %q", buf.String())
	}
}

func TestEstimateUsage(t *testing.T) {
	withEstimator(t, false, wordEstimator{})
	if u := estimateUsage(value.MustParse(`{"a":"b"}`), "x y"); u != nil {
		t.Fatalf("usage with tracking off = %+v", u)
	}

	tokenTracking = true
	u := estimateUsage(value.StringValue("one two"), "three four five")
	if u == nil {
		t.Fatal("usage is nil with tracking on")
	}
	if u.InputEstimated != 2 || u.OutputEstimated != 3 || u.TotalEstimated != 5 || u.Model != "words" {
		t.Fatalf("usage = %+v", u)
	}
}

func TestEstimateTokensDisabled(t *testing.T) {
	withEstimator(t, false, wordEstimator{})
	if n, err := estimateTokensForValue(map[string]string{"a": "b c"}); err != nil || n != 0 {
		t.Fatalf("value: n=%d err=%v", n, err)
	}
	if n, err := estimateTokensForText("one two"); err != nil || n != 0 {
		t.Fatalf("text: n=%d err=%v", n, err)
	}
}

func TestEstimateTokensForValue(t *testing.T) {
	withEstimator(t, true, wordEstimator{})

	tests := []struct {
		name string
		in   any
		want int
	}{
		{"undefined", value.Value{}, 0},
		{"json value", value.MustParse(`{"note":"two words"}`), 2},
		{"string value", value.StringValue("one two three"), 3},
		{"plain map", map[string]string{"q": "a b c"}, 3},
		{"oversized", strings.Repeat("x", maxTokenEstimationBytes+1), maxTokenEstimationBytes / 4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := estimateTokensForValue(tc.in)
			if err != nil {
				t.Fatalf("estimateTokensForValue: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestEstimateTokensForText(t *testing.T) {
	withEstimator(t, true, wordEstimator{})
	if n, _ := estimateTokensForText("a b c d"); n != 4 {
		t.Fatalf("n = %d, want 4", n)
	}
	if n, _ := estimateTokensForText(strings.Repeat("y", maxTokenEstimationBytes+1)); n != maxTokenEstimationBytes/4 {
		t.Fatalf("oversized n = %d", n)
	}
}
