package provider

import (
	"strings"
	"testing"
)

func TestRoughEstimatorLocaleBaselines(t *testing.T) {
	tests := []struct {
		name   string
		locale string
		text   string
		want   int
	}{
		{name: "de baseline 3.6", locale: "de", text: strings.Repeat("x", 36), want: 10},
		{name: "en baseline 4.0", locale: "en", text: strings.Repeat("x", 20), want: 5},
		{name: "unknown locale falls back to 3.6", locale: "fr", text: strings.Repeat("x", 18), want: 5},
		{name: "empty input", locale: "de", text: "", want: 0},
		{name: "rounds up", locale: "en", text: "abc", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewRoughEstimator(tt.locale, 0)
			if got := e.Estimate(tt.text); got != tt.want {
				t.Errorf("Estimate(%d chars, %s) = %d, want %d", len(tt.text), tt.locale, got, tt.want)
			}
		})
	}
}

func TestRoughEstimatorOverrideWins(t *testing.T) {
	e := NewRoughEstimator("en", 10)
	if got := e.Estimate(strings.Repeat("x", 50)); got != 5 {
		t.Errorf("Estimate with override 10 = %d, want 5", got)
	}
}

func TestRoughEstimatorDeterministic(t *testing.T) {
	e := NewRoughEstimator("de", 0)
	text := "Die Bewertung der Abgabe erfolgt anhand der Kriterien."
	first := e.Estimate(text)
	second := e.Estimate(text)
	if first != second {
		t.Errorf("estimator not deterministic: %d != %d", first, second)
	}
}

func TestRoughEstimatorCountsRunes(t *testing.T) {
	e := NewRoughEstimator("de", 1) // one token per character
	if got := e.Estimate("äöüß"); got != 4 {
		t.Errorf("Estimate(umlauts) = %d, want 4", got)
	}
}

func TestNewEstimatorUnknownNameFallsBack(t *testing.T) {
	e := NewEstimator("magic", "de", 0)
	if e.Name() != "rough" {
		t.Errorf("expected rough fallback, got %s", e.Name())
	}
}
