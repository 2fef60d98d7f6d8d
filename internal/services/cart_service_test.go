package services

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	domain "github.com/timberhaven/api/internal/domain"
)

func newTestCartService(t *testing.T, carts *fakeCartRepo, catalog *fakeCatalogRepo, opts ...func(*CartServiceDeps)) CartService {
	t.Helper()
	deps := CartServiceDeps{
		Carts:   carts,
		Catalog: catalog,
		Pricing: NewPricingEngine(),
		Delivery: fixedDelivery{quote: domain.DeliveryQuote{
			Fee:           250_000,
			Currency:      "usd",
			DistanceMiles: 220,
			EtaWeeksMin:   1,
			EtaWeeksMax:   3,
		}},
		Clock: func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) },
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := NewCartService(deps)
	if err != nil {
		t.Fatalf("NewCartService returned error: %v", err)
	}
	return svc
}

func TestGetOrCreateCartCreatesOnFirstUse(t *testing.T) {
	carts := newFakeCartRepo()
	svc := newTestCartService(t, carts, newFakeCatalogRepo(testHomeModel()))

	cart, err := svc.GetOrCreateCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetOrCreateCart returned error: %v", err)
	}
	if cart.UserID != "user-1" || cart.ID != "user-1" {
		t.Fatalf("unexpected cart identity: %+v", cart)
	}
	if cart.Currency != "usd" {
		t.Fatalf("expected default currency usd, got %q", cart.Currency)
	}

	again, err := svc.GetOrCreateCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetOrCreateCart returned error: %v", err)
	}
	if !reflect.DeepEqual(cart, again) {
		t.Fatalf("second call returned a different cart:\n%+v\n%+v", cart, again)
	}
}

func TestSetModelConfiguresCart(t *testing.T) {
	carts := newFakeCartRepo()
	svc := newTestCartService(t, carts, newFakeCatalogRepo(testHomeModel()))

	cart, err := svc.SetModel(context.Background(), SetCartModelCommand{UserID: "user-1", ModelID: "mdl_cedar"})
	if err != nil {
		t.Fatalf("SetModel returned error: %v", err)
	}
	if cart.ModelID != "mdl_cedar" || cart.BasePrice != 5_000_000 || cart.SetupFee != 80_000 {
		t.Fatalf("model not applied to cart: %+v", cart)
	}
	if cart.Breakdown == nil {
		t.Fatal("expected breakdown after configuring a model")
	}
	if cart.Breakdown.Total != 5_080_000 {
		t.Fatalf("expected total 5080000 (base + setup), got %d", cart.Breakdown.Total)
	}
}

func TestSetModelResetsSelectionsAndPromotion(t *testing.T) {
	carts := newFakeCartRepo()
	svc := newTestCartService(t, carts, newFakeCatalogRepo(testHomeModel()),
		func(deps *CartServiceDeps) {
			deps.Promotions = fixedPromotions{result: PromotionValidationResult{Code: "SPRING", Eligible: true, DiscountAmount: 60_000}}
		})

	if _, err := svc.SetModel(context.Background(), SetCartModelCommand{UserID: "user-1", ModelID: "mdl_cedar"}); err != nil {
		t.Fatalf("SetModel returned error: %v", err)
	}
	if _, err := svc.UpsertSelection(context.Background(), UpsertCartSelectionCommand{UserID: "user-1", Code: "solar", Quantity: 2}); err != nil {
		t.Fatalf("UpsertSelection returned error: %v", err)
	}
	if _, err := svc.ApplyPromotion(context.Background(), ApplyCartPromotionCommand{UserID: "user-1", Code: "SPRING"}); err != nil {
		t.Fatalf("ApplyPromotion returned error: %v", err)
	}

	cart, err := svc.SetModel(context.Background(), SetCartModelCommand{UserID: "user-1", ModelID: "mdl_cedar"})
	if err != nil {
		t.Fatalf("SetModel returned error: %v", err)
	}
	if len(cart.Selections) != 0 {
		t.Fatalf("expected selections reset, got %+v", cart.Selections)
	}
	if cart.Promotion != nil {
		t.Fatalf("expected promotion cleared, got %+v", cart.Promotion)
	}
}

func TestUpsertSelectionRepricesWholesale(t *testing.T) {
	carts := newFakeCartRepo()
	svc := newTestCartService(t, carts, newFakeCatalogRepo(testHomeModel()))

	if _, err := svc.SetModel(context.Background(), SetCartModelCommand{UserID: "user-1", ModelID: "mdl_cedar"}); err != nil {
		t.Fatalf("SetModel returned error: %v", err)
	}

	cart, err := svc.UpsertSelection(context.Background(), UpsertCartSelectionCommand{UserID: "user-1", Code: "solar", Quantity: 2})
	if err != nil {
		t.Fatalf("UpsertSelection returned error: %v", err)
	}
	if cart.Breakdown.Options != 90_000 {
		t.Fatalf("expected options 90000, got %d", cart.Breakdown.Options)
	}

	cart, err = svc.UpsertSelection(context.Background(), UpsertCartSelectionCommand{UserID: "user-1", Code: "solar", Quantity: 4})
	if err != nil {
		t.Fatalf("UpsertSelection returned error: %v", err)
	}
	if len(cart.Selections) != 1 || cart.Selections[0].Quantity != 4 {
		t.Fatalf("expected the selection replaced, got %+v", cart.Selections)
	}
	if cart.Breakdown.Options != 180_000 {
		t.Fatalf("expected options 180000 after quantity change, got %d", cart.Breakdown.Options)
	}
}

func TestUpsertSelectionValidation(t *testing.T) {
	carts := newFakeCartRepo()
	svc := newTestCartService(t, carts, newFakeCatalogRepo(testHomeModel()))

	if _, err := svc.SetModel(context.Background(), SetCartModelCommand{UserID: "user-1", ModelID: "mdl_cedar"}); err != nil {
		t.Fatalf("SetModel returned error: %v", err)
	}

	t.Run("unknown option", func(t *testing.T) {
		_, err := svc.UpsertSelection(context.Background(), UpsertCartSelectionCommand{UserID: "user-1", Code: "jacuzzi", Quantity: 1})
		if !errors.Is(err, ErrCartOptionNotFound) {
			t.Fatalf("expected ErrCartOptionNotFound, got %v", err)
		}
	})

	t.Run("unavailable option", func(t *testing.T) {
		_, err := svc.UpsertSelection(context.Background(), UpsertCartSelectionCommand{UserID: "user-1", Code: "retired-option", Quantity: 1})
		if !errors.Is(err, ErrCartOptionNotFound) {
			t.Fatalf("expected ErrCartOptionNotFound, got %v", err)
		}
	})

	t.Run("quantity above max", func(t *testing.T) {
		_, err := svc.UpsertSelection(context.Background(), UpsertCartSelectionCommand{UserID: "user-1", Code: "solar", Quantity: 5})
		if !errors.Is(err, ErrCartInvalidInput) {
			t.Fatalf("expected ErrCartInvalidInput, got %v", err)
		}
	})

	t.Run("zero quantity", func(t *testing.T) {
		_, err := svc.UpsertSelection(context.Background(), UpsertCartSelectionCommand{UserID: "user-1", Code: "solar", Quantity: 0})
		if !errors.Is(err, ErrCartInvalidInput) {
			t.Fatalf("expected ErrCartInvalidInput, got %v", err)
		}
	})

	t.Run("failure leaves stored cart untouched", func(t *testing.T) {
		before, err := carts.GetCart(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("GetCart returned error: %v", err)
		}
		if _, err := svc.UpsertSelection(context.Background(), UpsertCartSelectionCommand{UserID: "user-1", Code: "solar", Quantity: 99}); err == nil {
			t.Fatal("expected validation failure")
		}
		after, err := carts.GetCart(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("GetCart returned error: %v", err)
		}
		if !reflect.DeepEqual(before, after) {
			t.Fatalf("stored cart changed despite failure:\n%+v\n%+v", before, after)
		}
	})
}

func TestUpsertSelectionRequiresModel(t *testing.T) {
	svc := newTestCartService(t, newFakeCartRepo(), newFakeCatalogRepo(testHomeModel()))

	_, err := svc.UpsertSelection(context.Background(), UpsertCartSelectionCommand{UserID: "user-1", Code: "solar", Quantity: 1})
	if !errors.Is(err, ErrCartModelNotSet) {
		t.Fatalf("expected ErrCartModelNotSet, got %v", err)
	}
}

func TestRemoveSelection(t *testing.T) {
	svc := newTestCartService(t, newFakeCartRepo(), newFakeCatalogRepo(testHomeModel()))

	if _, err := svc.SetModel(context.Background(), SetCartModelCommand{UserID: "user-1", ModelID: "mdl_cedar"}); err != nil {
		t.Fatalf("SetModel returned error: %v", err)
	}
	if _, err := svc.UpsertSelection(context.Background(), UpsertCartSelectionCommand{UserID: "user-1", Code: "solar", Quantity: 1}); err != nil {
		t.Fatalf("UpsertSelection returned error: %v", err)
	}

	cart, err := svc.RemoveSelection(context.Background(), RemoveCartSelectionCommand{UserID: "user-1", Code: "solar"})
	if err != nil {
		t.Fatalf("RemoveSelection returned error: %v", err)
	}
	if len(cart.Selections) != 0 {
		t.Fatalf("expected no selections, got %+v", cart.Selections)
	}
	if cart.Breakdown.Options != 0 {
		t.Fatalf("expected options back to 0, got %d", cart.Breakdown.Options)
	}

	if _, err := svc.RemoveSelection(context.Background(), RemoveCartSelectionCommand{UserID: "user-1", Code: "solar"}); !errors.Is(err, ErrCartOptionNotFound) {
		t.Fatalf("expected ErrCartOptionNotFound for absent selection, got %v", err)
	}
}

func TestSetDestinationMergesQuote(t *testing.T) {
	svc := newTestCartService(t, newFakeCartRepo(), newFakeCatalogRepo(testHomeModel()))

	if _, err := svc.SetModel(context.Background(), SetCartModelCommand{UserID: "user-1", ModelID: "mdl_cedar"}); err != nil {
		t.Fatalf("SetModel returned error: %v", err)
	}

	cart, err := svc.SetDestination(context.Background(), SetCartDestinationCommand{UserID: "user-1", PostalCode: "78701"})
	if err != nil {
		t.Fatalf("SetDestination returned error: %v", err)
	}
	if cart.DestinationZIP != "78701" {
		t.Fatalf("expected destination 78701, got %q", cart.DestinationZIP)
	}
	if cart.Delivery == nil || cart.Delivery.Fee != 250_000 {
		t.Fatalf("expected delivery quote merged, got %+v", cart.Delivery)
	}
	if cart.Breakdown.Delivery != 250_000 {
		t.Fatalf("expected delivery in breakdown, got %d", cart.Breakdown.Delivery)
	}
	if cart.Breakdown.Total != 5_330_000 {
		t.Fatalf("expected total 5330000, got %d", cart.Breakdown.Total)
	}
}

func TestSetDestinationInvalidZip(t *testing.T) {
	svc := newTestCartService(t, newFakeCartRepo(), newFakeCatalogRepo(testHomeModel()),
		func(deps *CartServiceDeps) {
			deps.Delivery = fixedDelivery{err: ErrDeliveryInvalidInput}
		})

	_, err := svc.SetDestination(context.Background(), SetCartDestinationCommand{UserID: "user-1", PostalCode: "00000"})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestApplyPromotionAddsDiscount(t *testing.T) {
	svc := newTestCartService(t, newFakeCartRepo(), newFakeCatalogRepo(testHomeModel()),
		func(deps *CartServiceDeps) {
			deps.Promotions = fixedPromotions{result: PromotionValidationResult{Code: "SPRING", Eligible: true, DiscountAmount: 60_000}}
		})

	if _, err := svc.SetModel(context.Background(), SetCartModelCommand{UserID: "user-1", ModelID: "mdl_cedar"}); err != nil {
		t.Fatalf("SetModel returned error: %v", err)
	}

	cart, err := svc.ApplyPromotion(context.Background(), ApplyCartPromotionCommand{UserID: "user-1", Code: "spring"})
	if err != nil {
		t.Fatalf("ApplyPromotion returned error: %v", err)
	}
	if cart.Promotion == nil || !cart.Promotion.Applied || cart.Promotion.DiscountAmount != 60_000 {
		t.Fatalf("unexpected promotion state: %+v", cart.Promotion)
	}
	if cart.Breakdown.Discounts != -60_000 {
		t.Fatalf("expected discounts -60000, got %d", cart.Breakdown.Discounts)
	}
	if cart.Breakdown.Total != 5_020_000 {
		t.Fatalf("expected total 5020000, got %d", cart.Breakdown.Total)
	}

	cart, err = svc.RemovePromotion(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("RemovePromotion returned error: %v", err)
	}
	if cart.Promotion != nil || cart.Breakdown.Discounts != 0 {
		t.Fatalf("expected promotion removed, got %+v", cart)
	}
}

func TestApplyPromotionRejected(t *testing.T) {
	svc := newTestCartService(t, newFakeCartRepo(), newFakeCatalogRepo(testHomeModel()),
		func(deps *CartServiceDeps) {
			deps.Promotions = fixedPromotions{result: PromotionValidationResult{Code: "SPRING", Reason: "expired"}}
		})

	if _, err := svc.SetModel(context.Background(), SetCartModelCommand{UserID: "user-1", ModelID: "mdl_cedar"}); err != nil {
		t.Fatalf("SetModel returned error: %v", err)
	}

	_, err := svc.ApplyPromotion(context.Background(), ApplyCartPromotionCommand{UserID: "user-1", Code: "SPRING"})
	if !errors.Is(err, ErrCartPromotionRejected) {
		t.Fatalf("expected ErrCartPromotionRejected, got %v", err)
	}
}

func TestClearCart(t *testing.T) {
	carts := newFakeCartRepo()
	svc := newTestCartService(t, carts, newFakeCatalogRepo(testHomeModel()))

	if _, err := svc.GetOrCreateCart(context.Background(), "user-1"); err != nil {
		t.Fatalf("GetOrCreateCart returned error: %v", err)
	}
	if err := svc.ClearCart(context.Background(), "user-1"); err != nil {
		t.Fatalf("ClearCart returned error: %v", err)
	}
	if _, ok := carts.carts["user-1"]; ok {
		t.Fatal("expected cart deleted")
	}

	// Clearing an absent cart is a no-op.
	if err := svc.ClearCart(context.Background(), "user-1"); err != nil {
		t.Fatalf("ClearCart on missing cart returned error: %v", err)
	}
}
