package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/timberhaven/api/internal/domain"
)

func intPtr(v int) *int { return &v }

func springPromotion() domain.Promotion {
	return domain.Promotion{
		ID:        "promo_spring",
		Code:      "SPRING25",
		Name:      "Spring Sale",
		Status:    "active",
		AmountOff: 60_000,
		StartsAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndsAt:    time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newPromotionTestEnv(t *testing.T, promotions ...domain.Promotion) (PromotionService, *fakePromotionRepo, *fakeUsageRepo) {
	t.Helper()
	repo := newFakePromotionRepo(promotions...)
	usage := newFakeUsageRepo()
	svc, err := NewPromotionService(PromotionServiceDeps{
		Promotions: repo,
		Usage:      usage,
		IDGen:      func() string { return "promo_new" },
		Clock:      func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewPromotionService returned error: %v", err)
	}
	return svc, repo, usage
}

func TestValidatePromotionEligible(t *testing.T) {
	svc, _, _ := newPromotionTestEnv(t, springPromotion())

	result, err := svc.ValidatePromotion(context.Background(), ValidatePromotionCommand{
		Code:     "spring25",
		UserID:   "user-1",
		Subtotal: 5_120_000,
		Currency: "usd",
	})
	if err != nil {
		t.Fatalf("ValidatePromotion returned error: %v", err)
	}
	if !result.Eligible {
		t.Fatalf("expected eligible, got reason %q", result.Reason)
	}
	if result.Code != "SPRING25" {
		t.Fatalf("expected normalised code, got %q", result.Code)
	}
	if result.DiscountAmount != 60_000 {
		t.Fatalf("discount = %d, want 60000", result.DiscountAmount)
	}
}

func TestValidatePromotionClampsDiscountToSubtotal(t *testing.T) {
	promo := springPromotion()
	promo.AmountOff = 10_000_000
	svc, _, _ := newPromotionTestEnv(t, promo)

	result, err := svc.ValidatePromotion(context.Background(), ValidatePromotionCommand{
		Code:     "SPRING25",
		UserID:   "user-1",
		Subtotal: 5_120_000,
	})
	if err != nil {
		t.Fatalf("ValidatePromotion returned error: %v", err)
	}
	if !result.Eligible || result.DiscountAmount != 5_120_000 {
		t.Fatalf("expected discount clamped to subtotal, got %+v", result)
	}
}

func TestValidatePromotionRejectionReasons(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.Promotion)
		code   string
		reason string
	}{
		{name: "unknown code", code: "NOPE", reason: "unknown_code"},
		{name: "inactive", mutate: func(p *domain.Promotion) { p.Status = "archived" }, reason: "inactive"},
		{name: "not started", mutate: func(p *domain.Promotion) {
			p.StartsAt = time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
		}, reason: "not_started"},
		{name: "expired", mutate: func(p *domain.Promotion) {
			p.EndsAt = time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
		}, reason: "expired"},
		{name: "no discount", mutate: func(p *domain.Promotion) { p.AmountOff = 0 }, reason: "no_discount"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			promo := springPromotion()
			if tc.mutate != nil {
				tc.mutate(&promo)
			}
			svc, _, _ := newPromotionTestEnv(t, promo)

			code := tc.code
			if code == "" {
				code = promo.Code
			}
			result, err := svc.ValidatePromotion(context.Background(), ValidatePromotionCommand{
				Code:     code,
				UserID:   "user-1",
				Subtotal: 5_120_000,
			})
			if err != nil {
				t.Fatalf("ValidatePromotion returned error: %v", err)
			}
			if result.Eligible {
				t.Fatal("expected ineligible result")
			}
			if result.Reason != tc.reason {
				t.Fatalf("reason = %q, want %q", result.Reason, tc.reason)
			}
		})
	}
}

func TestValidatePromotionPerUserLimit(t *testing.T) {
	promo := springPromotion()
	promo.UsageLimit = intPtr(1)
	svc, _, usage := newPromotionTestEnv(t, promo)

	cmd := ValidatePromotionCommand{Code: "SPRING25", UserID: "user-1", Subtotal: 5_120_000}
	result, err := svc.ValidatePromotion(context.Background(), cmd)
	if err != nil || !result.Eligible {
		t.Fatalf("first use should be eligible, got %+v err %v", result, err)
	}

	if err := svc.RecordRedemption(context.Background(), RecordRedemptionCommand{Code: "SPRING25", UserID: "user-1"}); err != nil {
		t.Fatalf("RecordRedemption returned error: %v", err)
	}
	record, err := usage.GetUsage(context.Background(), "promo_spring", "user-1")
	if err != nil || record.Count != 1 {
		t.Fatalf("expected one recorded use, got %+v err %v", record, err)
	}

	result, err = svc.ValidatePromotion(context.Background(), cmd)
	if err != nil {
		t.Fatalf("ValidatePromotion returned error: %v", err)
	}
	if result.Eligible || result.Reason != "limit_reached" {
		t.Fatalf("expected limit_reached after redemption, got %+v", result)
	}

	// Another user is unaffected by the first user's redemption.
	other, err := svc.ValidatePromotion(context.Background(), ValidatePromotionCommand{Code: "SPRING25", UserID: "user-2", Subtotal: 5_120_000})
	if err != nil || !other.Eligible {
		t.Fatalf("second user should be eligible, got %+v err %v", other, err)
	}
}

func TestRecordRedemptionUnknownCode(t *testing.T) {
	svc, _, _ := newPromotionTestEnv(t)
	err := svc.RecordRedemption(context.Background(), RecordRedemptionCommand{Code: "GHOST", UserID: "user-1"})
	if !errors.Is(err, ErrPromotionNotFound) {
		t.Fatalf("expected ErrPromotionNotFound, got %v", err)
	}
}

func TestCreatePromotionNormalises(t *testing.T) {
	svc, repo, _ := newPromotionTestEnv(t)

	created, err := svc.CreatePromotion(context.Background(), UpsertPromotionCommand{
		Promotion: domain.Promotion{Code: "  fall10 ", Name: " Fall Special ", AmountOff: 25_000},
		ActorID:   "admin-1",
	})
	if err != nil {
		t.Fatalf("CreatePromotion returned error: %v", err)
	}
	if created.Code != "FALL10" || created.Status != "active" || created.ID != "promo_new" {
		t.Fatalf("unexpected created promotion: %+v", created)
	}

	stored, err := repo.FindByCode(context.Background(), "FALL10")
	if err != nil || stored.Name != "Fall Special" {
		t.Fatalf("expected persisted promotion, got %+v err %v", stored, err)
	}
}

func TestCreatePromotionDuplicateCode(t *testing.T) {
	svc, _, _ := newPromotionTestEnv(t, springPromotion())
	_, err := svc.CreatePromotion(context.Background(), UpsertPromotionCommand{
		Promotion: domain.Promotion{Code: "SPRING25", AmountOff: 10_000},
	})
	if !errors.Is(err, ErrPromotionConflict) {
		t.Fatalf("expected ErrPromotionConflict, got %v", err)
	}
}

func TestUpsertPromotionValidation(t *testing.T) {
	svc, _, _ := newPromotionTestEnv(t)

	cases := []struct {
		name  string
		promo domain.Promotion
	}{
		{name: "missing code", promo: domain.Promotion{AmountOff: 10_000}},
		{name: "negative amount", promo: domain.Promotion{Code: "X", AmountOff: -1}},
		{name: "zero usage limit", promo: domain.Promotion{Code: "X", AmountOff: 10_000, UsageLimit: intPtr(0)}},
		{name: "inverted window", promo: domain.Promotion{
			Code:      "X",
			AmountOff: 10_000,
			StartsAt:  time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			EndsAt:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreatePromotion(context.Background(), UpsertPromotionCommand{Promotion: tc.promo}); !errors.Is(err, ErrPromotionInvalidInput) {
				t.Fatalf("expected ErrPromotionInvalidInput, got %v", err)
			}
		})
	}

	t.Run("update requires id", func(t *testing.T) {
		_, err := svc.UpdatePromotion(context.Background(), UpsertPromotionCommand{
			Promotion: domain.Promotion{Code: "X", AmountOff: 10_000},
		})
		if !errors.Is(err, ErrPromotionInvalidInput) {
			t.Fatalf("expected ErrPromotionInvalidInput, got %v", err)
		}
	})
}

func TestListPromotionsFiltersStatus(t *testing.T) {
	archived := springPromotion()
	archived.ID = "promo_old"
	archived.Code = "WINTER24"
	archived.Status = "archived"
	svc, _, _ := newPromotionTestEnv(t, springPromotion(), archived)

	page, err := svc.ListPromotions(context.Background(), PromotionListFilter{Status: "active"})
	if err != nil {
		t.Fatalf("ListPromotions returned error: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Code != "SPRING25" {
		t.Fatalf("expected only the active promotion, got %+v", page.Items)
	}
}

func TestListPromotionUsage(t *testing.T) {
	svc, _, usage := newPromotionTestEnv(t, springPromotion())
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if _, err := usage.IncrementUsage(context.Background(), "promo_spring", "user-1", now); err != nil {
		t.Fatalf("IncrementUsage returned error: %v", err)
	}

	page, err := svc.ListPromotionUsage(context.Background(), PromotionUsageFilter{PromotionID: "promo_spring"})
	if err != nil {
		t.Fatalf("ListPromotionUsage returned error: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].UserID != "user-1" {
		t.Fatalf("unexpected usage page: %+v", page.Items)
	}

	if _, err := svc.ListPromotionUsage(context.Background(), PromotionUsageFilter{}); !errors.Is(err, ErrPromotionInvalidInput) {
		t.Fatalf("expected ErrPromotionInvalidInput for missing promotion id, got %v", err)
	}
}
