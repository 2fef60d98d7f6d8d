package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/timberhaven/api/internal/domain"
	"github.com/timberhaven/api/internal/platform/pagination"
	"github.com/timberhaven/api/internal/services"
)

const defaultMaxBodySize = 64 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func decodeJSONBody(r *http.Request, limit int64, dst any) error {
	data, err := readLimitedBody(r, limit)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePointer(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseRFC3339(value string) (time.Time, error) {
	layouts := []string{time.RFC3339Nano, time.RFC3339}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", value)
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Shared JSON payload shapes.

type addressPayload struct {
	Recipient  string `json:"recipient,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func buildAddressPayload(addr domain.Address) addressPayload {
	payload := addressPayload{
		Recipient:  strings.TrimSpace(addr.Recipient),
		Line1:      strings.TrimSpace(addr.Line1),
		City:       strings.TrimSpace(addr.City),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.TrimSpace(addr.Country),
	}
	if addr.Line2 != nil {
		payload.Line2 = strings.TrimSpace(*addr.Line2)
	}
	if addr.State != nil {
		payload.State = strings.TrimSpace(*addr.State)
	}
	if addr.Phone != nil {
		payload.Phone = strings.TrimSpace(*addr.Phone)
	}
	return payload
}

func parseAddressPayload(payload *addressPayload) *domain.Address {
	if payload == nil {
		return nil
	}
	addr := domain.Address{
		Recipient:  strings.TrimSpace(payload.Recipient),
		Line1:      strings.TrimSpace(payload.Line1),
		City:       strings.TrimSpace(payload.City),
		PostalCode: strings.TrimSpace(payload.PostalCode),
		Country:    strings.TrimSpace(payload.Country),
	}
	if v := strings.TrimSpace(payload.Line2); v != "" {
		addr.Line2 = &v
	}
	if v := strings.TrimSpace(payload.State); v != "" {
		addr.State = &v
	}
	if v := strings.TrimSpace(payload.Phone); v != "" {
		addr.Phone = &v
	}
	return &addr
}

type deliveryQuotePayload struct {
	Fee           int64   `json:"fee"`
	Currency      string  `json:"currency"`
	DistanceMiles float64 `json:"distance_miles"`
	EtaWeeksMin   int     `json:"eta_weeks_min"`
	EtaWeeksMax   int     `json:"eta_weeks_max"`
	PostalCode    string  `json:"postal_code"`
	QuotedAt      string  `json:"quoted_at,omitempty"`
}

func buildDeliveryQuotePayload(quote domain.DeliveryQuote) deliveryQuotePayload {
	return deliveryQuotePayload{
		Fee:           quote.Fee,
		Currency:      strings.ToUpper(strings.TrimSpace(quote.Currency)),
		DistanceMiles: quote.DistanceMiles,
		EtaWeeksMin:   quote.EtaWeeksMin,
		EtaWeeksMax:   quote.EtaWeeksMax,
		PostalCode:    quote.PostalCode,
		QuotedAt:      formatTime(quote.QuotedAt),
	}
}

type optionLinePayload struct {
	Code      string `json:"code"`
	Name      string `json:"name,omitempty"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
}

type taxDetailPayload struct {
	RateBasisPoints int64  `json:"rate_basis_points"`
	Basis           int64  `json:"basis"`
	Jurisdiction    string `json:"jurisdiction,omitempty"`
}

type breakdownPayload struct {
	Currency    string              `json:"currency"`
	Base        int64               `json:"base"`
	Options     int64               `json:"options"`
	Delivery    int64               `json:"delivery"`
	Setup       int64               `json:"setup"`
	Tax         int64               `json:"tax"`
	Discounts   int64               `json:"discounts"`
	Total       int64               `json:"total"`
	OptionLines []optionLinePayload `json:"option_lines"`
	TaxDetail   *taxDetailPayload   `json:"tax_detail,omitempty"`
}

func buildBreakdownPayload(breakdown domain.PricingBreakdown) breakdownPayload {
	payload := breakdownPayload{
		Currency:    strings.ToUpper(strings.TrimSpace(breakdown.Currency)),
		Base:        breakdown.Base,
		Options:     breakdown.Options,
		Delivery:    breakdown.Delivery,
		Setup:       breakdown.Setup,
		Tax:         breakdown.Tax,
		Discounts:   breakdown.Discounts,
		Total:       breakdown.Total,
		OptionLines: make([]optionLinePayload, 0, len(breakdown.OptionLines)),
	}
	for _, line := range breakdown.OptionLines {
		payload.OptionLines = append(payload.OptionLines, optionLinePayload{
			Code:      line.Code,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Subtotal:  line.Subtotal,
		})
	}
	if breakdown.TaxDetail != nil {
		payload.TaxDetail = &taxDetailPayload{
			RateBasisPoints: breakdown.TaxDetail.RateBasisPoints,
			Basis:           breakdown.TaxDetail.Basis,
			Jurisdiction:    breakdown.TaxDetail.Jurisdiction,
		}
	}
	return payload
}

type selectionPayload struct {
	Code      string `json:"code"`
	Name      string `json:"name,omitempty"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

func buildSelectionPayloads(selections []domain.OptionSelection) []selectionPayload {
	out := make([]selectionPayload, 0, len(selections))
	for _, sel := range selections {
		out = append(out, selectionPayload{
			Code:      sel.Code,
			Name:      sel.Name,
			UnitPrice: sel.UnitPrice,
			Quantity:  sel.Quantity,
		})
	}
	return out
}

func parsePagination(r *http.Request, defaultSize, maxSize int) services.Pagination {
	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultSize,
		MaxPageSize:     maxSize,
	})
	if err != nil {
		// Malformed paging inputs fall back to the first page.
		return services.Pagination{PageSize: defaultSize}
	}
	return services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}
}
