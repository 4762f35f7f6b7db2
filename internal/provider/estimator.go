package provider

import (
	"math"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	log "github.com/hwendt/llmgate/internal/logging"
)

// Estimator is a pure token-count estimation strategy. Implementations must
// be deterministic, side-effect free, and return 0 for empty input.
type Estimator interface {
	// Name is a short, unique identifier for the strategy.
	Name() string

	// Estimate returns the estimated token count for text.
	Estimate(text string) int
}

// localeBaselines maps a locale to its chars-per-token baseline.
// German text averages roughly one token per 3.6 characters (including
// whitespace) on GPT-family tokenizers, English one per 4.0.
var localeBaselines = map[string]float64{
	"de": 3.6,
	"en": 4.0,
}

const fallbackCharsPerToken = 3.6

// RoughEstimator estimates by total characters / chars-per-token. Fast
// baseline for plain text; the baseline is picked per locale unless an
// explicit override is given.
type RoughEstimator struct {
	charsPerToken float64
}

// NewRoughEstimator builds a RoughEstimator for the given locale. A non-zero
// override wins over the locale baseline.
func NewRoughEstimator(locale string, override float64) *RoughEstimator {
	cpt := fallbackCharsPerToken
	if baseline, ok := localeBaselines[strings.ToLower(strings.TrimSpace(locale))]; ok {
		cpt = baseline
	}
	if override > 0 {
		cpt = override
	}
	return &RoughEstimator{charsPerToken: cpt}
}

// Name implements Estimator.
func (e *RoughEstimator) Name() string { return "rough" }

// Estimate implements Estimator. Counts runes, not bytes, so multi-byte
// characters are not over-weighted.
func (e *RoughEstimator) Estimate(text string) int {
	chars := len([]rune(text))
	if chars == 0 {
		return 0
	}
	return int(math.Ceil(float64(chars) / math.Max(e.charsPerToken, 1e-9)))
}

// TiktokenEstimator counts tokens exactly with the cl100k_base BPE encoding.
type TiktokenEstimator struct {
	codec tokenizer.Codec
}

// NewTiktokenEstimator loads the cl100k_base codec.
func NewTiktokenEstimator() (*TiktokenEstimator, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, err
	}
	return &TiktokenEstimator{codec: codec}, nil
}

// Name implements Estimator.
func (e *TiktokenEstimator) Name() string { return "tiktoken" }

// Estimate implements Estimator.
func (e *TiktokenEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	ids, _, err := e.codec.Encode(text)
	if err != nil {
		// BPE encoding of arbitrary UTF-8 should not fail; fall back to
		// the character heuristic rather than report zero usage.
		return (&RoughEstimator{charsPerToken: fallbackCharsPerToken}).Estimate(text)
	}
	return len(ids)
}

var (
	tiktokenOnce sync.Once
	tiktokenInst *TiktokenEstimator
)

// NewEstimator builds the estimator selected by name ("rough" or
// "tiktoken"), falling back to the rough strategy when the tokenizer
// cannot be loaded or the name is unknown.
func NewEstimator(name, locale string, charsPerToken float64) Estimator {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "tiktoken":
		tiktokenOnce.Do(func() {
			inst, err := NewTiktokenEstimator()
			if err != nil {
				log.Warnf("tiktoken estimator unavailable, using rough strategy: %v", err)
				return
			}
			tiktokenInst = inst
		})
		if tiktokenInst != nil {
			return tiktokenInst
		}
	case "", "rough":
	default:
		log.Warnf("unknown estimator %q, using rough strategy", name)
	}
	return NewRoughEstimator(locale, charsPerToken)
}
