package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/timberhaven/api/internal/domain"
	pfirestore "github.com/timberhaven/api/internal/platform/firestore"
	"github.com/timberhaven/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order documents with their frozen pricing breakdowns.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{base: base}, nil
}

// Insert stores a new order document. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the persisted order state with the provided snapshot.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if _, err := docRef.Set(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(orderID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns orders matching the filter ordered by most recent creation.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statusFilters := normaliseStatuses(filter.Status)
	userID := strings.TrimSpace(filter.UserID)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID != "" {
			q = q.Where("userId", "==", userID)
		}

		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statusFilters) > 10 {
				statusFilters = statusFilters[:10]
			}
			q = q.Where("status", "in", statusFilters)
		}

		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type orderDocument struct {
	OrderNumber     string                    `firestore:"orderNumber"`
	UserID          string                    `firestore:"userId"`
	CartRef         *string                   `firestore:"cartRef,omitempty"`
	Status          string                    `firestore:"status"`
	Currency        string                    `firestore:"currency"`
	ModelID         string                    `firestore:"modelId"`
	ModelName       string                    `firestore:"modelName"`
	BasePrice       int64                     `firestore:"basePrice"`
	SetupFee        int64                     `firestore:"setupFee"`
	Selections      []optionSelectionDocument `firestore:"selections,omitempty"`
	DestinationZIP  string                    `firestore:"destinationZip,omitempty"`
	DeliveryAddress *addressDocument          `firestore:"deliveryAddress,omitempty"`
	Delivery        *deliveryQuoteDocument    `firestore:"delivery,omitempty"`
	Promotion       *cartPromotionDocument    `firestore:"promo,omitempty"`
	Breakdown       breakdownDocument         `firestore:"breakdown"`
	Contact         *orderContactDocument     `firestore:"contact,omitempty"`
	Notes           string                    `firestore:"notes,omitempty"`
	ManualReview    bool                      `firestore:"manualReview"`
	Metadata        map[string]any            `firestore:"metadata,omitempty"`
	CreatedAt       time.Time                 `firestore:"createdAt"`
	UpdatedAt       time.Time                 `firestore:"updatedAt"`
	PlacedAt        *time.Time                `firestore:"placedAt,omitempty"`
	PaidAt          *time.Time                `firestore:"paidAt,omitempty"`
	DeliveredAt     *time.Time                `firestore:"deliveredAt,omitempty"`
	CanceledAt      *time.Time                `firestore:"canceledAt,omitempty"`
	CancelReason    *string                   `firestore:"cancelReason,omitempty"`
}

type orderContactDocument struct {
	Email string `firestore:"email,omitempty"`
	Phone string `firestore:"phone,omitempty"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	createdAt := order.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := order.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	doc := orderDocument{
		OrderNumber:     strings.TrimSpace(order.OrderNumber),
		UserID:          strings.TrimSpace(order.UserID),
		CartRef:         order.CartRef,
		Status:          strings.TrimSpace(string(order.Status)),
		Currency:        strings.ToLower(strings.TrimSpace(order.Currency)),
		ModelID:         strings.TrimSpace(order.ModelID),
		ModelName:       strings.TrimSpace(order.ModelName),
		BasePrice:       order.BasePrice,
		SetupFee:        order.SetupFee,
		Selections:      encodeSelections(order.Selections),
		DestinationZIP:  strings.TrimSpace(order.DestinationZIP),
		DeliveryAddress: encodeAddress(order.DeliveryAddress),
		Delivery:        encodeDeliveryQuote(order.Delivery),
		Promotion:       encodeCartPromotion(order.Promotion),
		Notes:           strings.TrimSpace(order.Notes),
		ManualReview:    order.Flags.ManualReview,
		Metadata:        cloneMap(order.Metadata),
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
		PlacedAt:        normalizeTimePointer(order.PlacedAt),
		PaidAt:          normalizeTimePointer(order.PaidAt),
		DeliveredAt:     normalizeTimePointer(order.DeliveredAt),
		CanceledAt:      normalizeTimePointer(order.CanceledAt),
		CancelReason:    order.CancelReason,
	}
	if encoded := encodeBreakdown(&order.Breakdown); encoded != nil {
		doc.Breakdown = *encoded
	}
	if order.Contact != nil {
		doc.Contact = &orderContactDocument{
			Email: strings.TrimSpace(order.Contact.Email),
			Phone: strings.TrimSpace(order.Contact.Phone),
		}
	}
	return doc
}

func decodeOrderDocument(id string, doc orderDocument, createdAt, updatedAt time.Time) domain.Order {
	order := domain.Order{
		ID:              strings.TrimSpace(id),
		OrderNumber:     doc.OrderNumber,
		UserID:          doc.UserID,
		CartRef:         doc.CartRef,
		Status:          domain.OrderStatus(doc.Status),
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
		Notes:           doc.Notes,
		Flags:           domain.OrderFlags{ManualReview: doc.ManualReview},
		Metadata:        cloneMap(doc.Metadata),
		CreatedAt:       chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:       chooseTime(doc.UpdatedAt, updatedAt),
		PlacedAt:        doc.PlacedAt,
		PaidAt:          doc.PaidAt,
		DeliveredAt:     doc.DeliveredAt,
		CanceledAt:      doc.CanceledAt,
		CancelReason:    doc.CancelReason,
	}
	if decoded := decodeBreakdown(&doc.Breakdown); decoded != nil {
		order.Breakdown = *decoded
	}
	if doc.Contact != nil {
		order.Contact = &domain.OrderContact{
			Email: doc.Contact.Email,
			Phone: doc.Contact.Phone,
		}
	}
	return order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
