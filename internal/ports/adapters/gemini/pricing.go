package gemini

import "github.com/forPelevin/chatcut/internal/types"

// Model names understood by the default pricing table and the default
// per-task selection.
const (
	Model25Pro         = "gemini-2.5-pro"
	Model25Flash       = "gemini-2.5-flash"
	Model25FlashLite   = "gemini-2.5-flash-lite"
	Model3FlashPreview = "gemini-3-flash-preview"
)

// Rate is a per-million-token price in USD. Threshold splits standard from
// long-context pricing by prompt length; Text/Audio split input pricing by
// prompt modality. Zero fields fall back to Standard.
type Rate struct {
	Standard    float64 `yaml:"standard"`
	LongContext float64 `yaml:"long_context,omitempty"`
	Threshold   int     `yaml:"threshold,omitempty"`
	Text        float64 `yaml:"text,omitempty"`
	Audio       float64 `yaml:"audio,omitempty"`
}

// ModelPricing prices one model's input and output tokens.
type ModelPricing struct {
	Input  Rate `yaml:"input"`
	Output Rate `yaml:"output"`
}

// PricingTable maps model name to pricing. Unknown models cost zero, so a
// missing entry never blocks a run.
type PricingTable map[string]ModelPricing

// DefaultPricing mirrors the published per-million-token rates for the
// supported model families.
func DefaultPricing() PricingTable {
	return PricingTable{
		Model25Pro: {
			Input:  Rate{Standard: 1.25, LongContext: 2.50, Threshold: 200000},
			Output: Rate{Standard: 10.00, LongContext: 15.00, Threshold: 200000},
		},
		Model25Flash: {
			Input:  Rate{Standard: 0.30, Text: 0.30, Audio: 1.00},
			Output: Rate{Standard: 2.50},
		},
		Model25FlashLite: {
			Input:  Rate{Standard: 0.10, Text: 0.10, Audio: 0.30},
			Output: Rate{Standard: 0.40},
		},
		Model3FlashPreview: {
			Input:  Rate{Standard: 0.50, Text: 0.50, Audio: 1.00},
			Output: Rate{Standard: 3.00},
		},
	}
}

// Cost derives the monetary cost of one call. audioPrompt selects the audio
// input rate when the request carried audio content; thinking tokens are
// billed at the output rate.
func (t PricingTable) Cost(model string, u types.Usage, audioPrompt bool) float64 {
	p, ok := t[model]
	if !ok {
		return 0
	}
	const million = 1_000_000.0

	in := p.Input.Standard
	switch {
	case audioPrompt && p.Input.Audio > 0:
		in = p.Input.Audio
	case p.Input.Threshold > 0 && u.PromptTokens > p.Input.Threshold && p.Input.LongContext > 0:
		in = p.Input.LongContext
	case p.Input.Text > 0:
		in = p.Input.Text
	}

	out := p.Output.Standard
	if p.Output.Threshold > 0 && u.PromptTokens > p.Output.Threshold && p.Output.LongContext > 0 {
		out = p.Output.LongContext
	}

	inputCost := float64(u.PromptTokens) / million * in
	outputCost := float64(u.CandidatesTokens+u.ThinkingTokens) / million * out
	return inputCost + outputCost
}
