package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/timberhaven/api/internal/domain"
	pfirestore "github.com/timberhaven/api/internal/platform/firestore"
	"github.com/timberhaven/api/internal/repositories"
)

const orderPaymentsCollection = "order_payments"

// OrderPaymentRepository stores payment records in a top-level collection so
// webhook dispatch can correlate PSP intents without knowing the order first.
type OrderPaymentRepository struct {
	base *pfirestore.BaseRepository[paymentDocument]
}

// NewOrderPaymentRepository constructs a Firestore-backed payment repository.
func NewOrderPaymentRepository(provider *pfirestore.Provider) (*OrderPaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[paymentDocument](provider, orderPaymentsCollection, nil, nil)
	return &OrderPaymentRepository{base: base}, nil
}

// Insert stores a new payment record. The ID must be unique.
func (r *OrderPaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	if r == nil || r.base == nil {
		return errors.New("payment repository not initialised")
	}
	paymentID := strings.TrimSpace(payment.ID)
	if paymentID == "" {
		return errors.New("payment repository: payment id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, paymentID)
	if err != nil {
		return err
	}
	doc := encodePaymentDocument(payment)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("order_payments.insert", err)
	}
	return nil
}

// Update replaces the persisted payment state.
func (r *OrderPaymentRepository) Update(ctx context.Context, payment domain.Payment) error {
	if r == nil || r.base == nil {
		return errors.New("payment repository not initialised")
	}
	paymentID := strings.TrimSpace(payment.ID)
	if paymentID == "" {
		return errors.New("payment repository: payment id is required")
	}
	doc := encodePaymentDocument(payment)
	if _, err := r.base.Set(ctx, paymentID, doc); err != nil {
		return err
	}
	return nil
}

// List returns all payments attached to the given order, oldest first.
func (r *OrderPaymentRepository) List(ctx context.Context, orderID string) ([]domain.Payment, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("payment repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, errors.New("payment repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", id).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	payments := make([]domain.Payment, 0, len(docs))
	for _, doc := range docs {
		payments = append(payments, decodePaymentDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}
	return payments, nil
}

// FindByIntentID locates the payment referencing a PSP intent or session identifier.
func (r *OrderPaymentRepository) FindByIntentID(ctx context.Context, intentID string) (domain.Payment, error) {
	if r == nil || r.base == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	id := strings.TrimSpace(intentID)
	if id == "" {
		return domain.Payment{}, errors.New("payment repository: intent id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("intentId", "==", id).Limit(1)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if len(docs) == 0 {
		return domain.Payment{}, pfirestore.NewNotFoundError("order_payments.find_by_intent", id)
	}
	doc := docs[0]
	return decodePaymentDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

type paymentDocument struct {
	OrderID    string         `firestore:"orderId"`
	Provider   string         `firestore:"provider"`
	IntentID   string         `firestore:"intentId"`
	Status     string         `firestore:"status"`
	Amount     int64          `firestore:"amount"`
	Currency   string         `firestore:"currency"`
	Captured   bool           `firestore:"captured"`
	CapturedAt *time.Time     `firestore:"capturedAt,omitempty"`
	RefundedAt *time.Time     `firestore:"refundedAt,omitempty"`
	Raw        map[string]any `firestore:"raw,omitempty"`
	CreatedAt  time.Time      `firestore:"createdAt"`
	UpdatedAt  time.Time      `firestore:"updatedAt"`
}

func encodePaymentDocument(payment domain.Payment) paymentDocument {
	createdAt := payment.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := payment.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	return paymentDocument{
		OrderID:    strings.TrimSpace(payment.OrderID),
		Provider:   strings.TrimSpace(payment.Provider),
		IntentID:   strings.TrimSpace(payment.IntentID),
		Status:     strings.TrimSpace(payment.Status),
		Amount:     payment.Amount,
		Currency:   strings.ToLower(strings.TrimSpace(payment.Currency)),
		Captured:   payment.Captured,
		CapturedAt: normalizeTimePointer(payment.CapturedAt),
		RefundedAt: normalizeTimePointer(payment.RefundedAt),
		Raw:        cloneMap(payment.Raw),
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}
}

func decodePaymentDocument(id string, doc paymentDocument, createdAt, updatedAt time.Time) domain.Payment {
	return domain.Payment{
		ID:         strings.TrimSpace(id),
		OrderID:    doc.OrderID,
		Provider:   doc.Provider,
		IntentID:   doc.IntentID,
		Status:     doc.Status,
		Amount:     doc.Amount,
		Currency:   doc.Currency,
		Captured:   doc.Captured,
		CapturedAt: doc.CapturedAt,
		RefundedAt: doc.RefundedAt,
		Raw:        cloneMap(doc.Raw),
		CreatedAt:  chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:  chooseTime(doc.UpdatedAt, updatedAt),
	}
}

var _ repositories.OrderPaymentRepository = (*OrderPaymentRepository)(nil)
