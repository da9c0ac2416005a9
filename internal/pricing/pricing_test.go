package pricing_test

import (
	"math"
	"testing"

	"github.com/ossature/querygen/internal/pricing"
	"github.com/ossature/querygen/pkg/models"
)

func TestEstimate_ClaudeSplit(t *testing.T) {
	// 1000 tokens at input=0.003/1k, output=0.015/1k with the 70/30 split:
	// (700×0.003/1000) + (300×0.015/1000) = 0.0021 + 0.0045 = 0.0066
	got := pricing.Estimate(models.ProviderClaude, 1000)
	want := 0.0066
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Estimate(claude, 1000) = %v, want %v", got, want)
	}
}

func TestEstimate_GPT(t *testing.T) {
	// (700×0.0025/1000) + (300×0.01/1000) = 0.00175 + 0.003 = 0.00475
	got := pricing.Estimate(models.ProviderGPT, 1000)
	want := 0.00475
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Estimate(gpt, 1000) = %v, want %v", got, want)
	}
}

func TestEstimate_ZeroTokens(t *testing.T) {
	if got := pricing.Estimate(models.ProviderClaude, 0); got != 0 {
		t.Errorf("Estimate(claude, 0) = %v, want 0", got)
	}
}

func TestEstimate_UnknownProviderUsesFallbackPrice(t *testing.T) {
	got := pricing.Estimate(models.ProviderUnknown, 1000)
	if got <= 0 {
		t.Errorf("Estimate(unknown, 1000) = %v, want > 0", got)
	}
}
