package domain

import (
	"math"
	"strconv"
	"strings"
)

// Estimation constants. Each generated card costs a fixed prompt overhead and
// a fixed completion budget on top of the document itself.
const (
	InputTokensPerCard   = 300
	OutputTokensPerCard  = 100
	OutputToInputRatio   = 0.20
	tokensPerPricingUnit = 1_000_000
)

// Estimation is the cached base measurement the remote service returns for an
// uploaded document. It is fetched once; everything derived from it is pure.
type Estimation struct {
	TokenCount     int    `json:"token_count"`
	PageCount      int    `json:"page_count"`
	TextSize       int    `json:"text_size"`
	ImageCount     int    `json:"image_count"`
	ModelID        string `json:"model"`
	SuggestedCards int    `json:"suggested_cards"`
}

// CostEstimate is the derived estimate for a chosen target card count.
type CostEstimate struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	Tier         string  `json:"tier"`
}

// PricingTier holds per-million-token prices in USD.
type PricingTier struct {
	Name   string
	Input  float64
	Output float64
}

// pricingTiers is matched in order by substring against the model id, so more
// specific names come first.
var pricingTiers = []PricingTier{
	{Name: "gemini-2.5-pro", Input: 1.25, Output: 10.00},
	{Name: "gemini-2.5-flash-lite", Input: 0.10, Output: 0.40},
	{Name: "gemini-2.5-flash", Input: 0.30, Output: 2.50},
	{Name: "gemini-2.0-flash", Input: 0.10, Output: 0.40},
}

// DefaultPricingTier applies when no named tier matches the model id.
var DefaultPricingTier = PricingTier{Name: "default", Input: 0.30, Output: 2.50}

// MatchPricingTier returns the first tier whose name is a substring of model.
func MatchPricingTier(model string) PricingTier {
	m := strings.ToLower(model)
	for _, tier := range pricingTiers {
		if strings.Contains(m, tier.Name) {
			return tier
		}
	}
	return DefaultPricingTier
}

// RecomputeCost derives token counts and cost for targetCards from the cached
// base. It never contacts the remote service.
func RecomputeCost(base Estimation, targetCards int) CostEstimate {
	if targetCards < 0 {
		targetCards = 0
	}

	input := base.TokenCount + targetCards*InputTokensPerCard
	output := int(math.Round(float64(input)*OutputToInputRatio)) + targetCards*OutputTokensPerCard

	tier := MatchPricingTier(base.ModelID)
	cost := float64(input)/tokensPerPricingUnit*tier.Input +
		float64(output)/tokensPerPricingUnit*tier.Output

	return CostEstimate{
		InputTokens:  input,
		OutputTokens: output,
		Cost:         cost,
		Tier:         tier.Name,
	}
}

// Density baselines in cards per page.
const (
	ScriptDensityBaseline = 1.5
	SlidesDensityBaseline = 1.0
)

// DensitySummary compares a deck's card density against the baseline for its
// source type.
type DensitySummary struct {
	Density float64 `json:"density"`
	Ratio   string  `json:"ratio"`
	Label   string  `json:"label"`
}

// ComputeDensitySummary formats density relative to the baseline of
// sourceType with one decimal place. Ties round away from zero.
func ComputeDensitySummary(density float64, sourceType SourceType) DensitySummary {
	baseline := SlidesDensityBaseline
	if sourceType == SourceScript {
		baseline = ScriptDensityBaseline
	}

	ratio := density / baseline
	label := "balanced"
	switch {
	case ratio < 0.8:
		label = "sparse"
	case ratio > 1.2:
		label = "dense"
	}

	return DensitySummary{
		Density: density,
		Ratio:   strconv.FormatFloat(math.Floor(ratio*10+0.5)/10, 'f', 1, 64),
		Label:   label,
	}
}

// CardDensity returns cards per page, or zero when there are no pages.
func CardDensity(cardCount, pages int) float64 {
	if pages <= 0 {
		return 0
	}
	return float64(cardCount) / float64(pages)
}
