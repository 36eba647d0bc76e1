package agentdriver

// CostTable maps a provider ID to its per-1K-token input/output price, used
// for the Usage CoreEvent's EstimatedCost when the driver only has a
// length-derived token estimate rather than an exact usage report.
type CostTable map[string]ProviderCost

// ProviderCost is expressed in USD per 1,000 tokens.
type ProviderCost struct {
	InputPer1K  float64
	OutputPer1K float64
}

// DefaultCostTable returns a conservative table covering the providers the
// registry ships with. Providers absent from the table estimate as free
// (0.0), which is preferable to fabricating a number nobody configured.
func DefaultCostTable() CostTable {
	return CostTable{
		"anthropic": {InputPer1K: 0.003, OutputPer1K: 0.015},
		"openai":    {InputPer1K: 0.0025, OutputPer1K: 0.01},
		"ark":       {InputPer1K: 0.0008, OutputPer1K: 0.002},
	}
}

// Estimate returns the estimated USD cost of a completion with the given
// token counts under providerID's entry, or 0 if the provider is unknown.
func (t CostTable) Estimate(providerID string, inputTokens, outputTokens int) float64 {
	cost, ok := t[providerID]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000*cost.InputPer1K + float64(outputTokens)/1000*cost.OutputPer1K
}
