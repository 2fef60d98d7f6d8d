package services

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrPricingInvalidInput indicates malformed pricing input such as duplicate option codes.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingInvalidQuantity indicates a selection quantity below one.
	ErrPricingInvalidQuantity = errors.New("pricing: invalid quantity")
	// ErrPricingInvalidAmount indicates a negative amount outside the discount line.
	ErrPricingInvalidAmount = errors.New("pricing: invalid amount")
	// ErrPricingOverflow indicates the computation exceeded int64 range.
	ErrPricingOverflow = errors.New("pricing: amount overflow")
)

const taxBasisPointDivisor = 10_000

// pricingEngine aggregates priced lines into a breakdown. It holds no state and
// performs no I/O, so a single instance is safe for concurrent use.
type pricingEngine struct{}

// NewPricingEngine constructs the order price aggregator.
func NewPricingEngine() PricingEngine {
	return pricingEngine{}
}

// ComputeBreakdown combines base price, option selections, delivery, setup fee,
// tax, and discounts into a single breakdown. The total is floored at zero so a
// discount can never produce a negative charge. All arithmetic is integer minor
// currency units.
func (pricingEngine) ComputeBreakdown(input PricingInput) (PricingBreakdown, error) {
	if err := validatePricingAmounts(input); err != nil {
		return PricingBreakdown{}, err
	}

	lines, optionsTotal, err := sumOptionSelections(input.Selections)
	if err != nil {
		return PricingBreakdown{}, err
	}

	tax, taxDetail, err := resolveTax(input.Tax, input.BasePrice, optionsTotal)
	if err != nil {
		return PricingBreakdown{}, err
	}

	total, err := addChecked(input.BasePrice, optionsTotal)
	if err != nil {
		return PricingBreakdown{}, err
	}
	for _, amount := range []int64{input.DeliveryFee, input.SetupFee, tax, input.Discounts} {
		total, err = addChecked(total, amount)
		if err != nil {
			return PricingBreakdown{}, err
		}
	}
	if total < 0 {
		total = 0
	}

	breakdown := PricingBreakdown{
		Currency:    strings.ToLower(strings.TrimSpace(input.Currency)),
		Base:        input.BasePrice,
		Options:     optionsTotal,
		Delivery:    input.DeliveryFee,
		Setup:       input.SetupFee,
		Tax:         tax,
		Discounts:   input.Discounts,
		Total:       total,
		OptionLines: lines,
		TaxDetail:   taxDetail,
	}
	if len(input.Metadata) > 0 {
		breakdown.Metadata = make(map[string]any, len(input.Metadata))
		for k, v := range input.Metadata {
			breakdown.Metadata[k] = v
		}
	}
	return breakdown, nil
}

func validatePricingAmounts(input PricingInput) error {
	if input.BasePrice < 0 {
		return fmt.Errorf("%w: base price is negative", ErrPricingInvalidAmount)
	}
	if input.DeliveryFee < 0 {
		return fmt.Errorf("%w: delivery fee is negative", ErrPricingInvalidAmount)
	}
	if input.SetupFee < 0 {
		return fmt.Errorf("%w: setup fee is negative", ErrPricingInvalidAmount)
	}
	if input.Discounts > 0 {
		return fmt.Errorf("%w: discounts must be <= 0", ErrPricingInvalidAmount)
	}
	return nil
}

func sumOptionSelections(selections []OptionSelection) ([]OptionLineBreakdown, int64, error) {
	if len(selections) == 0 {
		return nil, 0, nil
	}

	seen := make(map[string]struct{}, len(selections))
	lines := make([]OptionLineBreakdown, 0, len(selections))
	var total int64

	for _, selection := range selections {
		code := strings.TrimSpace(selection.Code)
		if code == "" {
			return nil, 0, fmt.Errorf("%w: option code is required", ErrPricingInvalidInput)
		}
		if _, dup := seen[code]; dup {
			return nil, 0, fmt.Errorf("%w: duplicate option code %q", ErrPricingInvalidInput, code)
		}
		seen[code] = struct{}{}

		if selection.Quantity < 1 {
			return nil, 0, fmt.Errorf("%w: option %q has quantity %d", ErrPricingInvalidQuantity, code, selection.Quantity)
		}
		if selection.UnitPrice < 0 {
			return nil, 0, fmt.Errorf("%w: option %q has negative unit price", ErrPricingInvalidAmount, code)
		}

		quantity := int64(selection.Quantity)
		if selection.UnitPrice > 0 && selection.UnitPrice > math.MaxInt64/quantity {
			return nil, 0, fmt.Errorf("%w: option %q subtotal", ErrPricingOverflow, code)
		}
		subtotal := selection.UnitPrice * quantity

		var err error
		total, err = addChecked(total, subtotal)
		if err != nil {
			return nil, 0, err
		}

		lines = append(lines, OptionLineBreakdown{
			Code:      code,
			Name:      strings.TrimSpace(selection.Name),
			UnitPrice: selection.UnitPrice,
			Quantity:  selection.Quantity,
			Subtotal:  subtotal,
		})
	}
	return lines, total, nil
}

// resolveTax computes the tax line. A rate applies to base + options only,
// pre-delivery and pre-setup, rounded down to the nearest cent.
func resolveTax(input TaxInput, base, optionsTotal int64) (int64, *TaxDetail, error) {
	hasRate := input.RateBasisPoints != nil
	hasAmount := input.Amount != nil

	switch {
	case hasRate && hasAmount:
		return 0, nil, fmt.Errorf("%w: tax rate and tax amount are mutually exclusive", ErrPricingInvalidInput)
	case hasAmount:
		if *input.Amount < 0 {
			return 0, nil, fmt.Errorf("%w: tax amount is negative", ErrPricingInvalidAmount)
		}
		return *input.Amount, nil, nil
	case hasRate:
		rate := *input.RateBasisPoints
		if rate < 0 {
			return 0, nil, fmt.Errorf("%w: tax rate is negative", ErrPricingInvalidAmount)
		}
		basis, err := addChecked(base, optionsTotal)
		if err != nil {
			return 0, nil, err
		}
		if rate > 0 && basis > math.MaxInt64/rate {
			return 0, nil, fmt.Errorf("%w: tax computation", ErrPricingOverflow)
		}
		tax := basis * rate / taxBasisPointDivisor
		return tax, &TaxDetail{
			RateBasisPoints: rate,
			Basis:           basis,
			Jurisdiction:    strings.TrimSpace(input.Jurisdiction),
		}, nil
	default:
		return 0, nil, nil
	}
}

func addChecked(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrPricingOverflow
	}
	return sum, nil
}
