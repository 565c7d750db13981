package render

import "github.com/fpang/ecom-image-studio/internal/gateway"

// CostPolicy prices one successful render in credit units.
type CostPolicy interface {
	Cost(model gateway.ImageModel) int
}

// FlatCost charges the same amount for every model tier.
type FlatCost int

func (c FlatCost) Cost(gateway.ImageModel) int {
	if c < 1 {
		return 1
	}
	return int(c)
}

// TieredCost charges Elevated for models that need an elevated credential
// and Standard otherwise.
type TieredCost struct {
	Standard int
	Elevated int
}

func (c TieredCost) Cost(model gateway.ImageModel) int {
	n := c.Standard
	if model.Elevated() {
		n = c.Elevated
	}
	return max(n, 1)
}

// CostPolicyFor returns the flat one-credit policy unless an elevated
// price above one is configured.
func CostPolicyFor(elevated int) CostPolicy {
	if elevated <= 1 {
		return FlatCost(1)
	}
	return TieredCost{Standard: 1, Elevated: elevated}
}
