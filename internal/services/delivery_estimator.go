package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	domain "github.com/timberhaven/api/internal/domain"
	"github.com/timberhaven/api/internal/platform/distance"
)

var (
	// ErrDeliveryInvalidInput indicates an empty or unserviceable destination.
	ErrDeliveryInvalidInput = errors.New("delivery: invalid input")
	// ErrDeliveryUnavailable indicates the distance lookup collaborator failed; callers may retry.
	ErrDeliveryUnavailable = errors.New("delivery: unavailable")
)

const (
	defaultQuoteTTL      = 15 * time.Minute
	maxPostalCodeLength  = 10
	minPostalCodeLength  = 3
	defaultQuoteCurrency = "usd"
)

// DistanceSource resolves a destination postal code to road miles from the depot.
type DistanceSource interface {
	DistanceMiles(ctx context.Context, destinationZIP string) (float64, error)
}

// DeliveryRates holds the tariff applied to a resolved distance. Fees are
// integer minor currency units.
type DeliveryRates struct {
	BaseFee          int64
	RatePerMile      int64
	MinFee           int64
	MaxFee           int64
	FastMilesPerWeek int
	BufferWeeks      int
	Currency         string
}

// DeliveryEstimatorDeps wires the dependencies required by the estimator.
type DeliveryEstimatorDeps struct {
	Distance DistanceSource
	Rates    DeliveryRates
	QuoteTTL time.Duration
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type deliveryEstimator struct {
	distance DistanceSource
	rates    DeliveryRates
	cache    *deliveryQuoteCache
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewDeliveryEstimator constructs a DeliveryEstimator validating required dependencies.
func NewDeliveryEstimator(deps DeliveryEstimatorDeps) (DeliveryEstimator, error) {
	if deps.Distance == nil {
		return nil, errors.New("delivery estimator: distance source is required")
	}
	rates := deps.Rates
	if rates.BaseFee < 0 || rates.RatePerMile < 0 {
		return nil, errors.New("delivery estimator: fees must be non-negative")
	}
	if rates.MinFee < 0 || rates.MaxFee < rates.MinFee {
		return nil, errors.New("delivery estimator: fee bounds are inconsistent")
	}
	if rates.FastMilesPerWeek <= 0 {
		return nil, errors.New("delivery estimator: fast miles per week must be positive")
	}
	if rates.BufferWeeks < 0 {
		return nil, errors.New("delivery estimator: buffer weeks must be non-negative")
	}
	if strings.TrimSpace(rates.Currency) == "" {
		rates.Currency = defaultQuoteCurrency
	}
	rates.Currency = strings.ToLower(strings.TrimSpace(rates.Currency))

	ttl := deps.QuoteTTL
	if ttl <= 0 {
		ttl = defaultQuoteTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	now := func() time.Time { return clock().UTC() }
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &deliveryEstimator{
		distance: deps.Distance,
		rates:    rates,
		cache:    newDeliveryQuoteCache(ttl, now),
		now:      now,
		logger:   logger,
	}, nil
}

// Quote estimates the delivery fee and lead-time window for a destination. The
// fee is a deterministic function of road distance, so identical postal codes
// always quote identically while the tariff is unchanged.
func (e *deliveryEstimator) Quote(ctx context.Context, cmd QuoteDeliveryCommand) (DeliveryQuote, error) {
	if e == nil || e.distance == nil {
		return DeliveryQuote{}, ErrDeliveryUnavailable
	}

	postalCode, err := normalizePostalCode(cmd.PostalCode)
	if err != nil {
		return DeliveryQuote{}, err
	}

	if !cmd.BypassCache {
		if quote, ok := e.cache.Get(postalCode); ok {
			return quote, nil
		}
	}

	miles, err := e.distance.DistanceMiles(ctx, postalCode)
	if err != nil {
		switch {
		case errors.Is(err, distance.ErrUnknownDestination):
			return DeliveryQuote{}, fmt.Errorf("%w: postal code %q is not serviceable", ErrDeliveryInvalidInput, postalCode)
		default:
			e.logger(ctx, "delivery.distance_lookup_failed", map[string]any{
				"postalCode": postalCode,
				"error":      err.Error(),
			})
			return DeliveryQuote{}, fmt.Errorf("%w: distance lookup failed", ErrDeliveryUnavailable)
		}
	}
	if miles < 0 || math.IsNaN(miles) || math.IsInf(miles, 0) {
		return DeliveryQuote{}, fmt.Errorf("%w: distance lookup failed", ErrDeliveryUnavailable)
	}

	quote := DeliveryQuote{
		Fee:           e.feeForDistance(miles),
		Currency:      e.rates.Currency,
		DistanceMiles: miles,
		EtaWeeksMin:   e.etaWeeksMin(miles),
		PostalCode:    postalCode,
		QuotedAt:      e.now(),
	}
	quote.EtaWeeksMax = quote.EtaWeeksMin + e.rates.BufferWeeks

	e.cache.Put(postalCode, quote)
	return quote, nil
}

// feeForDistance computes clamp(baseFee + ratePerMile*miles, minFee, maxFee)
// in integer cents. Rounding happens once, on the mileage component.
func (e *deliveryEstimator) feeForDistance(miles float64) int64 {
	mileage := int64(math.Round(miles * float64(e.rates.RatePerMile)))
	fee := e.rates.BaseFee + mileage
	if fee < e.rates.MinFee {
		fee = e.rates.MinFee
	}
	if e.rates.MaxFee > 0 && fee > e.rates.MaxFee {
		fee = e.rates.MaxFee
	}
	return fee
}

func (e *deliveryEstimator) etaWeeksMin(miles float64) int {
	if miles <= 0 {
		return 0
	}
	return int(math.Ceil(miles / float64(e.rates.FastMilesPerWeek)))
}

func normalizePostalCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return "", fmt.Errorf("%w: postal code is required", ErrDeliveryInvalidInput)
	}
	if len(code) < minPostalCodeLength || len(code) > maxPostalCodeLength {
		return "", fmt.Errorf("%w: postal code %q is malformed", ErrDeliveryInvalidInput, raw)
	}
	for _, r := range code {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'A' && r <= 'Z':
		case r == '-' || r == ' ':
		default:
			return "", fmt.Errorf("%w: postal code %q is malformed", ErrDeliveryInvalidInput, raw)
		}
	}
	return code, nil
}

// deliveryQuoteCache memoises quotes per postal code with a TTL so repeated
// configurator edits do not hammer the distance collaborator.
type deliveryQuoteCache struct {
	mu      sync.RWMutex
	entries map[string]deliveryQuoteCacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type deliveryQuoteCacheEntry struct {
	quote     domain.DeliveryQuote
	expiresAt time.Time
}

func newDeliveryQuoteCache(ttl time.Duration, now func() time.Time) *deliveryQuoteCache {
	return &deliveryQuoteCache{
		entries: make(map[string]deliveryQuoteCacheEntry),
		ttl:     ttl,
		now:     now,
	}
}

func (c *deliveryQuoteCache) Get(key string) (domain.DeliveryQuote, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return domain.DeliveryQuote{}, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return domain.DeliveryQuote{}, false
	}
	return entry.quote, true
}

func (c *deliveryQuoteCache) Put(key string, quote domain.DeliveryQuote) {
	c.mu.Lock()
	c.entries[key] = deliveryQuoteCacheEntry{
		quote:     quote,
		expiresAt: c.now().Add(c.ttl),
	}
	c.mu.Unlock()
}
