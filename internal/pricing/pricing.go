// Package pricing holds the static per-provider token pricing table and the
// cost-estimate formula used by the metrics recorder and the stats rollups.
package pricing

import "github.com/ossature/querygen/pkg/models"

// Price is the per-1K-token USD price pair for one provider.
type Price struct {
	InputPer1K  float64
	OutputPer1K float64
}

// table is the fixed pricing table. Values track the published list prices
// of the models each provider is configured with.
var table = map[models.ProviderID]Price{
	models.ProviderClaude: {InputPer1K: 0.003, OutputPer1K: 0.015},
	models.ProviderGPT:    {InputPer1K: 0.0025, OutputPer1K: 0.01},
}

// genericFallback is used for unknown providers so cost accounting never
// silently drops to zero.
var genericFallback = Price{InputPer1K: 0.001, OutputPer1K: 0.001}

// inputShare is the assumed input fraction of a request's total token count.
// The providers report a single total in our usage rows, so the estimate
// splits it 70/30 input/output. An approximation, not billing-grade.
const inputShare = 0.7

// Lookup returns the price pair for a provider.
func Lookup(p models.ProviderID) Price {
	if price, ok := table[p]; ok {
		return price
	}
	return genericFallback
}

// Estimate computes the approximate USD cost of a request given its total
// token count and the provider that served it.
func Estimate(provider models.ProviderID, tokens int64) float64 {
	price := Lookup(provider)
	in := float64(tokens) * inputShare / 1000 * price.InputPer1K
	out := float64(tokens) * (1 - inputShare) / 1000 * price.OutputPer1K
	return in + out
}
