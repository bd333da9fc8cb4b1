package problemgen

import "go.uber.org/zap"

// Config controls the generate-validate-repair loop.
type Config struct {
	// Target is the number of items a set must reach.
	// Zero uses the kind default (25 choice, 5 multi-part).
	Target int

	// MaxRepairRounds bounds the repair calls after the initial call.
	MaxRepairRounds int

	// PriorityTopN is how many under-covered LOs the initial prompt
	// highlights. Zero or less uses the lower half of the unit's LOs.
	PriorityTopN int

	// PreviewSize is how many allowed codes repair prompts list.
	PreviewSize int

	OverAsk OverAskPolicy

	// Validators is the ordered check chain for every row.
	Validators []Validator

	Prompts *Prompts

	// MaxTokens is the token budget for each model response.
	MaxTokens int

	// Temperature controls model output randomness (0.0-1.0).
	Temperature float64

	Logger   *zap.Logger
	Observer Observer
}

// DefaultTarget returns the standard set size for kind.
func DefaultTarget(kind Kind) int {
	if kind == KindMultiPart {
		return 5
	}
	return 25
}

// DefaultConfig returns a Config with the standard validator chain
// and recommended defaults.
func DefaultConfig() Config {
	return Config{
		MaxRepairRounds: 4,
		PriorityTopN:    10,
		PreviewSize:     10,
		OverAsk:         DefaultOverAsk(),
		Validators:      DefaultValidators(),
		MaxTokens:       16384,
		Temperature:     0.7,
	}
}
