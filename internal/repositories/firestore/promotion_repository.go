package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/timberhaven/api/internal/domain"
	pfirestore "github.com/timberhaven/api/internal/platform/firestore"
	"github.com/timberhaven/api/internal/repositories"
)

const (
	promotionsCollection     = "promotions"
	promotionUsageCollection = "promotion_usage"
)

// PromotionRepository maintains promotion definitions keyed by ID with code lookups.
type PromotionRepository struct {
	base *pfirestore.BaseRepository[promotionDocument]
}

// NewPromotionRepository constructs a Firestore-backed promotion repository.
func NewPromotionRepository(provider *pfirestore.Provider) (*PromotionRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[promotionDocument](provider, promotionsCollection, nil, nil)
	return &PromotionRepository{base: base}, nil
}

// Insert stores a new promotion definition.
func (r *PromotionRepository) Insert(ctx context.Context, promotion domain.Promotion) error {
	if r == nil || r.base == nil {
		return errors.New("promotion repository not initialised")
	}
	promoID := strings.TrimSpace(promotion.ID)
	if promoID == "" {
		return errors.New("promotion repository: promotion id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, promoID)
	if err != nil {
		return err
	}
	doc := encodePromotionDocument(promotion)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("promotions.insert", err)
	}
	return nil
}

// Update replaces the persisted promotion definition.
func (r *PromotionRepository) Update(ctx context.Context, promotion domain.Promotion) error {
	if r == nil || r.base == nil {
		return errors.New("promotion repository not initialised")
	}
	promoID := strings.TrimSpace(promotion.ID)
	if promoID == "" {
		return errors.New("promotion repository: promotion id is required")
	}
	doc := encodePromotionDocument(promotion)
	if _, err := r.base.Set(ctx, promoID, doc); err != nil {
		return err
	}
	return nil
}

// Delete removes the promotion definition.
func (r *PromotionRepository) Delete(ctx context.Context, promotionID string) error {
	if r == nil || r.base == nil {
		return errors.New("promotion repository not initialised")
	}
	id := strings.TrimSpace(promotionID)
	if id == "" {
		return errors.New("promotion repository: promotion id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("promotions.delete", err)
	}
	return nil
}

// FindByCode resolves a promotion by its redemption code.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (domain.Promotion, error) {
	if r == nil || r.base == nil {
		return domain.Promotion{}, errors.New("promotion repository not initialised")
	}
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return domain.Promotion{}, errors.New("promotion repository: code is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", normalized).Limit(1)
	})
	if err != nil {
		return domain.Promotion{}, err
	}
	if len(docs) == 0 {
		return domain.Promotion{}, pfirestore.NewNotFoundError("promotions.find_by_code", normalized)
	}
	doc := docs[0]
	return decodePromotionDocument(doc.ID, doc.Data), nil
}

// List returns promotions matching the filter ordered by start time.
func (r *PromotionRepository) List(ctx context.Context, filter repositories.PromotionListFilter) (domain.CursorPage[domain.Promotion], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Promotion]{}, errors.New("promotion repository not initialised")
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
			return domain.CursorPage[domain.Promotion]{}, fmt.Errorf("promotion repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statusFilters := normaliseStatuses(filter.Status)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			if len(statusFilters) > 10 {
				statusFilters = statusFilters[:10]
			}
			q = q.Where("status", "in", statusFilters)
		}

		q = q.OrderBy("startsAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Promotion]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		nextToken = encodeListToken(last.Data.StartsAt, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Promotion, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodePromotionDocument(doc.ID, doc.Data))
	}

	return domain.CursorPage[domain.Promotion]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type promotionDocument struct {
	Code        string         `firestore:"code"`
	Name        string         `firestore:"name"`
	Description string         `firestore:"description,omitempty"`
	Status      string         `firestore:"status"`
	AmountOff   int64          `firestore:"amountOff"`
	StartsAt    time.Time      `firestore:"startsAt"`
	EndsAt      time.Time      `firestore:"endsAt"`
	UsageLimit  *int           `firestore:"usageLimit,omitempty"`
	Metadata    map[string]any `firestore:"metadata,omitempty"`
}

func encodePromotionDocument(promotion domain.Promotion) promotionDocument {
	return promotionDocument{
		Code:        strings.ToUpper(strings.TrimSpace(promotion.Code)),
		Name:        strings.TrimSpace(promotion.Name),
		Description: strings.TrimSpace(promotion.Description),
		Status:      strings.ToLower(strings.TrimSpace(promotion.Status)),
		AmountOff:   promotion.AmountOff,
		StartsAt:    promotion.StartsAt.UTC(),
		EndsAt:      promotion.EndsAt.UTC(),
		UsageLimit:  promotion.UsageLimit,
		Metadata:    cloneMap(promotion.Metadata),
	}
}

func decodePromotionDocument(id string, doc promotionDocument) domain.Promotion {
	return domain.Promotion{
		ID:          strings.TrimSpace(id),
		Code:        doc.Code,
		Name:        doc.Name,
		Description: doc.Description,
		Status:      doc.Status,
		AmountOff:   doc.AmountOff,
		StartsAt:    doc.StartsAt,
		EndsAt:      doc.EndsAt,
		UsageLimit:  doc.UsageLimit,
		Metadata:    cloneMap(doc.Metadata),
	}
}

// PromotionUsageRepository tracks per-user redemption counts with transactional increments.
type PromotionUsageRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[promotionUsageDocument]
}

// NewPromotionUsageRepository constructs a Firestore-backed usage repository.
func NewPromotionUsageRepository(provider *pfirestore.Provider) (*PromotionUsageRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion usage repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[promotionUsageDocument](provider, promotionUsageCollection, nil, nil)
	return &PromotionUsageRepository{provider: provider, base: base}, nil
}

// IncrementUsage atomically bumps the usage count for the promotion/user pair.
func (r *PromotionUsageRepository) IncrementUsage(ctx context.Context, promoID string, userID string, now time.Time) (domain.PromotionUsage, error) {
	if r == nil || r.provider == nil {
		return domain.PromotionUsage{}, errors.New("promotion usage repository not initialised")
	}
	promo := strings.TrimSpace(promoID)
	user := strings.TrimSpace(userID)
	if promo == "" || user == "" {
		return domain.PromotionUsage{}, errors.New("promotion usage repository: promotion and user ids are required")
	}

	docID := usageDocID(promo, user)
	now = now.UTC()
	var usage domain.PromotionUsage

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, docID)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.NotFound:
			doc := promotionUsageDocument{
				PromotionID: promo,
				UserID:      user,
				Count:       1,
				FirstUsedAt: now,
				LastUsedAt:  now,
			}
			if err := tx.Create(ref, doc); err != nil {
				return err
			}
			usage = decodePromotionUsageDocument(doc)
			return nil
		case codes.OK:
			// proceed
		default:
			return err
		}

		var doc promotionUsageDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore promotion_usage decode %s: %w", docID, err)
		}
		doc.Count++
		doc.LastUsedAt = now
		if doc.FirstUsedAt.IsZero() {
			doc.FirstUsedAt = now
		}
		if err := tx.Set(ref, doc, firestore.MergeAll); err != nil {
			return err
		}
		usage = decodePromotionUsageDocument(doc)
		return nil
	})
	if err != nil {
		return domain.PromotionUsage{}, pfirestore.WrapError("promotion_usage.increment", err)
	}
	return usage, nil
}

// GetUsage fetches the redemption record for one promotion/user pair.
func (r *PromotionUsageRepository) GetUsage(ctx context.Context, promoID string, userID string) (domain.PromotionUsage, error) {
	if r == nil || r.base == nil {
		return domain.PromotionUsage{}, errors.New("promotion usage repository not initialised")
	}
	promo := strings.TrimSpace(promoID)
	user := strings.TrimSpace(userID)
	if promo == "" || user == "" {
		return domain.PromotionUsage{}, errors.New("promotion usage repository: promotion and user ids are required")
	}
	doc, err := r.base.Get(ctx, usageDocID(promo, user))
	if err != nil {
		return domain.PromotionUsage{}, err
	}
	return decodePromotionUsageDocument(doc.Data), nil
}

// RemoveUsage deletes the usage record, e.g. when a checkout is voided.
func (r *PromotionUsageRepository) RemoveUsage(ctx context.Context, promoID string, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("promotion usage repository not initialised")
	}
	promo := strings.TrimSpace(promoID)
	user := strings.TrimSpace(userID)
	if promo == "" || user == "" {
		return errors.New("promotion usage repository: promotion and user ids are required")
	}
	ref, err := r.base.DocumentRef(ctx, usageDocID(promo, user))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("promotion_usage.remove", err)
	}
	return nil
}

// ListUsage returns usage records for a promotion ordered by most recent redemption.
func (r *PromotionUsageRepository) ListUsage(ctx context.Context, promoID string, pager domain.Pagination) (domain.CursorPage[domain.PromotionUsage], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.PromotionUsage]{}, errors.New("promotion usage repository not initialised")
	}
	promo := strings.TrimSpace(promoID)
	if promo == "" {
		return domain.CursorPage[domain.PromotionUsage]{}, errors.New("promotion usage repository: promotion id is required")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.PromotionUsage]{}, fmt.Errorf("promotion usage repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("promotionId", "==", promo)
		q = q.OrderBy("lastUsedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.PromotionUsage]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		nextToken = encodeListToken(last.Data.LastUsedAt, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.PromotionUsage, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodePromotionUsageDocument(doc.Data))
	}

	return domain.CursorPage[domain.PromotionUsage]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type promotionUsageDocument struct {
	PromotionID string    `firestore:"promotionId"`
	UserID      string    `firestore:"userId"`
	Count       int       `firestore:"count"`
	FirstUsedAt time.Time `firestore:"firstUsedAt"`
	LastUsedAt  time.Time `firestore:"lastUsedAt"`
}

func decodePromotionUsageDocument(doc promotionUsageDocument) domain.PromotionUsage {
	return domain.PromotionUsage{
		PromotionID: doc.PromotionID,
		UserID:      doc.UserID,
		Count:       doc.Count,
		FirstUsedAt: doc.FirstUsedAt,
		LastUsedAt:  doc.LastUsedAt,
	}
}

func usageDocID(promoID, userID string) string {
	return promoID + "_" + userID
}

var (
	_ repositories.PromotionRepository      = (*PromotionRepository)(nil)
	_ repositories.PromotionUsageRepository = (*PromotionUsageRepository)(nil)
)
