package provider

// ModelPricing holds USD prices per million tokens. Unknown models price at
// zero rather than failing, matching how gateways treat self-hosted models.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

var pricingTable = map[string]ModelPricing{
	"gpt-4o":                 {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":            {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"text-embedding-3-small": {InputPerMillion: 0.02},
	"text-embedding-3-large": {InputPerMillion: 0.13},
	"gemini-2.0-flash":       {InputPerMillion: 0.10, OutputPerMillion: 0.40},
	"gemini-2.0-flash-lite":  {InputPerMillion: 0.075, OutputPerMillion: 0.30},
	"text-embedding-004":     {InputPerMillion: 0.01},
}

func PricingFor(model string) ModelPricing {
	return pricingTable[model]
}

// CalculateCost computes the dollar cost of a finished call from its token
// usage.
func CalculateCost(model string, promptTokens, completionTokens int) float64 {
	pricing := pricingTable[model]
	inputCost := float64(promptTokens) / 1_000_000 * pricing.InputPerMillion
	outputCost := float64(completionTokens) / 1_000_000 * pricing.OutputPerMillion
	return inputCost + outputCost
}

// EstimateCost gives a pre-call upper bound used by the budget guard. Input
// size is approximated at four characters per token; output at the request's
// token ceiling.
func EstimateCost(model string, inputChars, maxOutputTokens int) float64 {
	estimatedInput := inputChars / 4
	return CalculateCost(model, estimatedInput, maxOutputTokens)
}
