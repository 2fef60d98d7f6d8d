package domain

// PricingBreakdown captures the aggregated monetary results of pricing an order.
// All amounts are integer minor currency units. Discounts is the only field
// allowed to be negative; Total is floored at zero. The breakdown is a derived
// view recomputed deterministically from its inputs, never a source of truth.
type PricingBreakdown struct {
	Currency    string
	Base        int64
	Options     int64
	Delivery    int64
	Setup       int64
	Tax         int64
	Discounts   int64
	Total       int64
	OptionLines []OptionLineBreakdown
	TaxDetail   *TaxDetail
	Metadata    map[string]any
}

// OptionLineBreakdown stores the per-selection subtotal after running the aggregator.
type OptionLineBreakdown struct {
	Code      string
	Name      string
	UnitPrice int64
	Quantity  int
	Subtotal  int64
}

// TaxDetail records how the tax amount was derived when a rate was supplied.
// Basis is the amount the rate applied to (base + options, pre-delivery and
// pre-setup, unless the jurisdiction dictates otherwise).
type TaxDetail struct {
	RateBasisPoints int64
	Basis           int64
	Jurisdiction    string
}
