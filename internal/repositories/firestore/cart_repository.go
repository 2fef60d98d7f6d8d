package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/timberhaven/api/internal/domain"
	pfirestore "github.com/timberhaven/api/internal/platform/firestore"
	"github.com/timberhaven/api/internal/repositories"
)

const cartsCollection = "carts"

// CartRepository persists configurator carts keyed by user ID. The document is
// written whole on every update; selections and the breakdown are never patched.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection, nil, nil)
	return &CartRepository{base: base}, nil
}

// UpsertCart persists the cart using the user ID as document identifier.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}

	cartID := strings.TrimSpace(cart.UserID)
	if cartID == "" {
		cartID = strings.TrimSpace(cart.ID)
	}
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc := encodeCartDocument(cart)
	result, err := r.base.Set(ctx, cartID, doc)
	if err != nil {
		return domain.Cart{}, err
	}

	saved := decodeCartDocument(cartID, doc, doc.CreatedAt, result.UpdateTime)
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// GetCart loads the cart for the given user ID.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	return decodeCartDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// DeleteCart removes the cart after checkout or on explicit clear.
func (r *CartRepository) DeleteCart(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}
	ref, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}
	return nil
}

type cartDocument struct {
	Currency        string                    `firestore:"currency"`
	ModelID         string                    `firestore:"modelId,omitempty"`
	ModelName       string                    `firestore:"modelName,omitempty"`
	BasePrice       int64                     `firestore:"basePrice"`
	SetupFee        int64                     `firestore:"setupFee"`
	Selections      []optionSelectionDocument `firestore:"selections,omitempty"`
	DestinationZIP  string                    `firestore:"destinationZip,omitempty"`
	DeliveryAddress *addressDocument          `firestore:"deliveryAddress,omitempty"`
	Delivery        *deliveryQuoteDocument    `firestore:"delivery,omitempty"`
	Promotion       *cartPromotionDocument    `firestore:"promo,omitempty"`
	Breakdown       *breakdownDocument        `firestore:"breakdown,omitempty"`
	Notes           string                    `firestore:"notes,omitempty"`
	Metadata        map[string]any            `firestore:"metadata,omitempty"`
	CreatedAt       time.Time                 `firestore:"createdAt"`
	UpdatedAt       time.Time                 `firestore:"updatedAt"`
}

type optionSelectionDocument struct {
	Code      string `firestore:"code"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
}

type deliveryQuoteDocument struct {
	Fee           int64     `firestore:"fee"`
	Currency      string    `firestore:"currency"`
	DistanceMiles float64   `firestore:"distanceMiles"`
	EtaWeeksMin   int       `firestore:"etaWeeksMin"`
	EtaWeeksMax   int       `firestore:"etaWeeksMax"`
	PostalCode    string    `firestore:"postalCode"`
	QuotedAt      time.Time `firestore:"quotedAt"`
}

type cartPromotionDocument struct {
	Code           string `firestore:"code"`
	DiscountAmount int64  `firestore:"discountAmount"`
	Applied        bool   `firestore:"applied"`
}

type breakdownDocument struct {
	Currency    string               `firestore:"currency"`
	Base        int64                `firestore:"base"`
	Options     int64                `firestore:"options"`
	Delivery    int64                `firestore:"delivery"`
	Setup       int64                `firestore:"setup"`
	Tax         int64                `firestore:"tax"`
	Discounts   int64                `firestore:"discounts"`
	Total       int64                `firestore:"total"`
	OptionLines []optionLineDocument `firestore:"optionLines,omitempty"`
	TaxDetail   *taxDetailDocument   `firestore:"taxDetail,omitempty"`
	Metadata    map[string]any       `firestore:"metadata,omitempty"`
}

type optionLineDocument struct {
	Code      string `firestore:"code"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
	Subtotal  int64  `firestore:"subtotal"`
}

type taxDetailDocument struct {
	RateBasisPoints int64  `firestore:"rateBasisPoints"`
	Basis           int64  `firestore:"basis"`
	Jurisdiction    string `firestore:"jurisdiction,omitempty"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient,omitempty"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

func encodeCartDocument(cart domain.Cart) cartDocument {
	now := time.Now().UTC()
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := cart.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = now
	}

	return cartDocument{
		Currency:        strings.ToLower(strings.TrimSpace(cart.Currency)),
		ModelID:         strings.TrimSpace(cart.ModelID),
		ModelName:       strings.TrimSpace(cart.ModelName),
		BasePrice:       cart.BasePrice,
		SetupFee:        cart.SetupFee,
		Selections:      encodeSelections(cart.Selections),
		DestinationZIP:  strings.TrimSpace(cart.DestinationZIP),
		DeliveryAddress: encodeAddress(cart.DeliveryAddress),
		Delivery:        encodeDeliveryQuote(cart.Delivery),
		Promotion:       encodeCartPromotion(cart.Promotion),
		Breakdown:       encodeBreakdown(cart.Breakdown),
		Notes:           strings.TrimSpace(cart.Notes),
		Metadata:        cloneMap(cart.Metadata),
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}
}

func decodeCartDocument(id string, doc cartDocument, createdAt, updatedAt time.Time) domain.Cart {
	return domain.Cart{
		ID:              strings.TrimSpace(id),
		UserID:          strings.TrimSpace(id),
		Currency:        doc.Currency,
		ModelID:         doc.ModelID,
		ModelName:       doc.ModelName,
		BasePrice:       doc.BasePrice,
		SetupFee:        doc.SetupFee,
		Selections:      decodeSelections(doc.Selections),
		DestinationZIP:  doc.DestinationZIP,
		DeliveryAddress: decodeAddress(doc.DeliveryAddress),
		Delivery:        decodeDeliveryQuote(doc.Delivery),
		Promotion:       decodeCartPromotion(doc.Promotion),
		Breakdown:       decodeBreakdown(doc.Breakdown),
		Notes:           doc.Notes,
		Metadata:        cloneMap(doc.Metadata),
		CreatedAt:       chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:       chooseTime(doc.UpdatedAt, updatedAt),
	}
}

func encodeSelections(selections []domain.OptionSelection) []optionSelectionDocument {
	if len(selections) == 0 {
		return nil
	}
	out := make([]optionSelectionDocument, 0, len(selections))
	for _, sel := range selections {
		out = append(out, optionSelectionDocument{
			Code:      strings.TrimSpace(sel.Code),
			Name:      strings.TrimSpace(sel.Name),
			UnitPrice: sel.UnitPrice,
			Quantity:  sel.Quantity,
		})
	}
	return out
}

func decodeSelections(docs []optionSelectionDocument) []domain.OptionSelection {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.OptionSelection, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.OptionSelection{
			Code:      doc.Code,
			Name:      doc.Name,
			UnitPrice: doc.UnitPrice,
			Quantity:  doc.Quantity,
		})
	}
	return out
}

func encodeDeliveryQuote(quote *domain.DeliveryQuote) *deliveryQuoteDocument {
	if quote == nil {
		return nil
	}
	return &deliveryQuoteDocument{
		Fee:           quote.Fee,
		Currency:      strings.ToLower(strings.TrimSpace(quote.Currency)),
		DistanceMiles: quote.DistanceMiles,
		EtaWeeksMin:   quote.EtaWeeksMin,
		EtaWeeksMax:   quote.EtaWeeksMax,
		PostalCode:    strings.TrimSpace(quote.PostalCode),
		QuotedAt:      quote.QuotedAt.UTC(),
	}
}

func decodeDeliveryQuote(doc *deliveryQuoteDocument) *domain.DeliveryQuote {
	if doc == nil {
		return nil
	}
	return &domain.DeliveryQuote{
		Fee:           doc.Fee,
		Currency:      doc.Currency,
		DistanceMiles: doc.DistanceMiles,
		EtaWeeksMin:   doc.EtaWeeksMin,
		EtaWeeksMax:   doc.EtaWeeksMax,
		PostalCode:    doc.PostalCode,
		QuotedAt:      doc.QuotedAt,
	}
}

func encodeCartPromotion(promo *domain.CartPromotion) *cartPromotionDocument {
	if promo == nil {
		return nil
	}
	return &cartPromotionDocument{
		Code:           strings.TrimSpace(promo.Code),
		DiscountAmount: promo.DiscountAmount,
		Applied:        promo.Applied,
	}
}

func decodeCartPromotion(doc *cartPromotionDocument) *domain.CartPromotion {
	if doc == nil {
		return nil
	}
	return &domain.CartPromotion{
		Code:           doc.Code,
		DiscountAmount: doc.DiscountAmount,
		Applied:        doc.Applied,
	}
}

func encodeBreakdown(breakdown *domain.PricingBreakdown) *breakdownDocument {
	if breakdown == nil {
		return nil
	}
	doc := breakdownDocument{
		Currency:  strings.ToLower(strings.TrimSpace(breakdown.Currency)),
		Base:      breakdown.Base,
		Options:   breakdown.Options,
		Delivery:  breakdown.Delivery,
		Setup:     breakdown.Setup,
		Tax:       breakdown.Tax,
		Discounts: breakdown.Discounts,
		Total:     breakdown.Total,
		Metadata:  cloneMap(breakdown.Metadata),
	}
	for _, line := range breakdown.OptionLines {
		doc.OptionLines = append(doc.OptionLines, optionLineDocument{
			Code:      strings.TrimSpace(line.Code),
			Name:      strings.TrimSpace(line.Name),
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Subtotal:  line.Subtotal,
		})
	}
	if breakdown.TaxDetail != nil {
		doc.TaxDetail = &taxDetailDocument{
			RateBasisPoints: breakdown.TaxDetail.RateBasisPoints,
			Basis:           breakdown.TaxDetail.Basis,
			Jurisdiction:    strings.TrimSpace(breakdown.TaxDetail.Jurisdiction),
		}
	}
	return &doc
}

func decodeBreakdown(doc *breakdownDocument) *domain.PricingBreakdown {
	if doc == nil {
		return nil
	}
	breakdown := domain.PricingBreakdown{
		Currency:  doc.Currency,
		Base:      doc.Base,
		Options:   doc.Options,
		Delivery:  doc.Delivery,
		Setup:     doc.Setup,
		Tax:       doc.Tax,
		Discounts: doc.Discounts,
		Total:     doc.Total,
		Metadata:  cloneMap(doc.Metadata),
	}
	for _, line := range doc.OptionLines {
		breakdown.OptionLines = append(breakdown.OptionLines, domain.OptionLineBreakdown{
			Code:      line.Code,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Subtotal:  line.Subtotal,
		})
	}
	if doc.TaxDetail != nil {
		breakdown.TaxDetail = &domain.TaxDetail{
			RateBasisPoints: doc.TaxDetail.RateBasisPoints,
			Basis:           doc.TaxDetail.Basis,
			Jurisdiction:    doc.TaxDetail.Jurisdiction,
		}
	}
	return &breakdown
}

func encodeAddress(addr *domain.Address) *addressDocument {
	if addr == nil {
		return nil
	}
	return &addressDocument{
		Recipient:  strings.TrimSpace(addr.Recipient),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      addr.Line2,
		City:       strings.TrimSpace(addr.City),
		State:      addr.State,
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.TrimSpace(addr.Country),
		Phone:      addr.Phone,
	}
}

func decodeAddress(doc *addressDocument) *domain.Address {
	if doc == nil {
		return nil
	}
	return &domain.Address{
		Recipient:  doc.Recipient,
		Line1:      doc.Line1,
		Line2:      doc.Line2,
		City:       doc.City,
		State:      doc.State,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
		Phone:      doc.Phone,
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)
