package api

import "strings"

// ModelRate is USD per million tokens for one model family.
type ModelRate struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// RateTable maps model name prefixes to rates. Longest matching prefix
// wins; unknown models fall back to the default Sonnet-class rate. The
// figures here are advisory estimates for the UI, not billing data.
type RateTable map[string]ModelRate

// DefaultRates covers the model families users actually point this at.
var DefaultRates = RateTable{
	"claude-opus":   {InputPerMTok: 15, OutputPerMTok: 75},
	"claude-sonnet": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku":  {InputPerMTok: 0.8, OutputPerMTok: 4},
}

var fallbackRate = ModelRate{InputPerMTok: 3, OutputPerMTok: 15}

// Estimate returns the advisory USD cost of one usage snapshot.
func (t RateTable) Estimate(model string, usage Usage) float64 {
	rate := fallbackRate
	matched := -1
	for prefix, r := range t {
		if strings.HasPrefix(model, prefix) && len(prefix) > matched {
			rate = r
			matched = len(prefix)
		}
	}
	return float64(usage.InputTokens)/1_000_000*rate.InputPerMTok +
		float64(usage.OutputTokens)/1_000_000*rate.OutputPerMTok
}
