package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
	"github.com/tienda-flor/storefront-api/internal/repositories"
)

func newSessionServiceForTest(t *testing.T, cart *stubCartSource) (SessionService, *repositories.MemorySessionRepository) {
	t.Helper()
	repo := repositories.NewMemorySessionRepository()
	svc, err := NewSessionService(SessionServiceDeps{
		Sessions: repo,
		Cart:     cart,
		Currency: "ARS",
	})
	if err != nil {
		t.Fatalf("NewSessionService returned error: %v", err)
	}
	return svc, repo
}

func TestSessionServiceCreateSyncsCartAndSubtotal(t *testing.T) {
	cart := &stubCartSource{snapshotFn: func(context.Context, string) ([]domain.CartLine, error) {
		return testCartLines(), nil
	}}
	svc, _ := newSessionServiceForTest(t, cart)

	session, err := svc.Create(context.Background(), CreateSessionCommand{ShopperID: "shopper_1"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if session.ID == "" {
		t.Fatalf("expected a session id")
	}
	if session.Step != domain.StepCart {
		t.Fatalf("expected step %d, got %d", domain.StepCart, session.Step)
	}
	if got := session.CartSubtotal(); got != 4500 {
		t.Fatalf("expected subtotal 4500, got %d", got)
	}
}

func TestSessionServiceAdvanceToEnforcesStepGating(t *testing.T) {
	cart := &stubCartSource{snapshotFn: func(context.Context, string) ([]domain.CartLine, error) {
		return testCartLines(), nil
	}}
	svc, _ := newSessionServiceForTest(t, cart)

	session, err := svc.Create(context.Background(), CreateSessionCommand{ShopperID: "shopper_1"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if _, err := svc.AdvanceTo(context.Background(), session.ID, domain.StepIdentification); !errors.Is(err, ErrInvalidStepTransition) {
		t.Fatalf("expected ErrInvalidStepTransition, got %v", err)
	}
	if _, err := svc.AdvanceTo(context.Background(), session.ID, domain.StepDelivery); !errors.Is(err, ErrInvalidStepTransition) {
		t.Fatalf("expected ErrInvalidStepTransition for step 3, got %v", err)
	}

	if _, err := svc.CompleteStep(context.Background(), session.ID, domain.StepCart); err != nil {
		t.Fatalf("CompleteStep returned error: %v", err)
	}
	advanced, err := svc.AdvanceTo(context.Background(), session.ID, domain.StepIdentification)
	if err != nil {
		t.Fatalf("AdvanceTo returned error: %v", err)
	}
	if advanced.Step != domain.StepIdentification {
		t.Fatalf("expected step %d, got %d", domain.StepIdentification, advanced.Step)
	}
}

func TestSessionServiceCompleteCartStepRequiresLines(t *testing.T) {
	cart := &stubCartSource{}
	svc, _ := newSessionServiceForTest(t, cart)

	session, err := svc.Create(context.Background(), CreateSessionCommand{ShopperID: "shopper_1"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if _, err := svc.CompleteStep(context.Background(), session.ID, domain.StepCart); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestSessionServiceCompleteStepIsIdempotent(t *testing.T) {
	cart := &stubCartSource{snapshotFn: func(context.Context, string) ([]domain.CartLine, error) {
		return testCartLines(), nil
	}}
	svc, _ := newSessionServiceForTest(t, cart)

	session, _ := svc.Create(context.Background(), CreateSessionCommand{ShopperID: "shopper_1"})
	first, err := svc.CompleteStep(context.Background(), session.ID, domain.StepCart)
	if err != nil {
		t.Fatalf("CompleteStep returned error: %v", err)
	}
	second, err := svc.CompleteStep(context.Background(), session.ID, domain.StepCart)
	if err != nil {
		t.Fatalf("repeated CompleteStep returned error: %v", err)
	}
	if !first.StepCompleted(domain.StepCart) || !second.StepCompleted(domain.StepCart) {
		t.Fatalf("expected step 1 completed on both calls")
	}
}

func TestSessionServiceAddressEditInvalidatesQuote(t *testing.T) {
	cart := &stubCartSource{}
	svc, repo := newSessionServiceForTest(t, cart)

	cost := int64(850)
	seedSession(t, repo, domain.CheckoutSession{
		ID:            "sess_1",
		ShopperID:     "shopper_1",
		Step:          domain.StepDelivery,
		DeliveryType:  domain.DeliveryShipping,
		Address:       completeAddress(),
		QuoteState:    domain.QuoteQuoted,
		ShippingCost:  &cost,
		QuoteCurrency: "ARS",
		QuoteFP:       domain.QuoteFingerprint(completeAddress(), nil),
	})

	session, err := svc.SetAddressField(context.Background(), "sess_1", "postalCode", "1406")
	if err != nil {
		t.Fatalf("SetAddressField returned error: %v", err)
	}
	if session.ShippingCost != nil {
		t.Fatalf("expected shipping cost reset to nil, got %d", *session.ShippingCost)
	}
	if session.QuoteState != domain.QuoteNotQuoted {
		t.Fatalf("expected quote state %q, got %q", domain.QuoteNotQuoted, session.QuoteState)
	}
}

func TestSessionServiceNonCostFieldKeepsQuote(t *testing.T) {
	cart := &stubCartSource{}
	svc, repo := newSessionServiceForTest(t, cart)

	cost := int64(850)
	seedSession(t, repo, domain.CheckoutSession{
		ID:           "sess_1",
		ShopperID:    "shopper_1",
		DeliveryType: domain.DeliveryShipping,
		Address:      completeAddress(),
		QuoteState:   domain.QuoteQuoted,
		ShippingCost: &cost,
	})

	session, err := svc.SetAddressField(context.Background(), "sess_1", "floor", "3B")
	if err != nil {
		t.Fatalf("SetAddressField returned error: %v", err)
	}
	if session.ShippingCost == nil || *session.ShippingCost != 850 {
		t.Fatalf("expected quote preserved for non cost-affecting field")
	}
}

func TestSessionServiceCartChangeInvalidatesQuote(t *testing.T) {
	cart := &stubCartSource{}
	svc, repo := newSessionServiceForTest(t, cart)

	cost := int64(850)
	seedSession(t, repo, domain.CheckoutSession{
		ID:            "sess_1",
		ShopperID:     "shopper_1",
		Step:          domain.StepDelivery,
		DeliveryType:  domain.DeliveryShipping,
		Address:       completeAddress(),
		QuoteState:    domain.QuoteQuoted,
		ShippingCost:  &cost,
		QuoteCurrency: "ARS",
		QuoteFP:       domain.QuoteFingerprint(completeAddress(), testCartLines()),
	})

	session, err := svc.SetCartLines(context.Background(), "sess_1", []domain.CartLine{
		{ProductID: "p9", Name: "Orquídea", UnitPrice: 4000, Quantity: 1},
	})
	if err != nil {
		t.Fatalf("SetCartLines returned error: %v", err)
	}
	if session.ShippingCost != nil {
		t.Fatalf("expected shipping cost reset to nil after cart change, got %d", *session.ShippingCost)
	}
	if session.QuoteState != domain.QuoteNotQuoted {
		t.Fatalf("expected quote state %q, got %q", domain.QuoteNotQuoted, session.QuoteState)
	}
}

func TestSessionServiceUnchangedCartKeepsQuote(t *testing.T) {
	cart := &stubCartSource{}
	svc, repo := newSessionServiceForTest(t, cart)

	cost := int64(850)
	seedSession(t, repo, domain.CheckoutSession{
		ID:            "sess_1",
		ShopperID:     "shopper_1",
		Step:          domain.StepDelivery,
		DeliveryType:  domain.DeliveryShipping,
		Address:       completeAddress(),
		QuoteState:    domain.QuoteQuoted,
		ShippingCost:  &cost,
		QuoteCurrency: "ARS",
		QuoteFP:       domain.QuoteFingerprint(completeAddress(), testCartLines()),
	})

	session, err := svc.SetCartLines(context.Background(), "sess_1", testCartLines())
	if err != nil {
		t.Fatalf("SetCartLines returned error: %v", err)
	}
	if session.ShippingCost == nil || *session.ShippingCost != 850 {
		t.Fatalf("expected quote preserved when the cart is unchanged")
	}
	if session.QuoteState != domain.QuoteQuoted {
		t.Fatalf("expected quote state %q, got %q", domain.QuoteQuoted, session.QuoteState)
	}
}

func TestSessionServiceAddressEditDropsCandidateLinkage(t *testing.T) {
	cart := &stubCartSource{}
	svc, repo := newSessionServiceForTest(t, cart)

	address := completeAddress()
	address.CandidateRef = "cand_1"
	seedSession(t, repo, domain.CheckoutSession{
		ID:            "sess_1",
		ShopperID:     "shopper_1",
		Address:       address,
		AddressLocked: true,
	})

	session, err := svc.SetAddressField(context.Background(), "sess_1", "street", "Av. Corrientes")
	if err != nil {
		t.Fatalf("SetAddressField returned error: %v", err)
	}
	if session.AddressLocked {
		t.Fatalf("expected address unlocked after manual edit")
	}
	if session.Address.CandidateRef != "" {
		t.Fatalf("expected candidate linkage dropped, got %q", session.Address.CandidateRef)
	}
}

func TestSessionServicePickupForcesZeroCost(t *testing.T) {
	cart := &stubCartSource{}
	svc, repo := newSessionServiceForTest(t, cart)

	seedSession(t, repo, domain.CheckoutSession{ID: "sess_1", ShopperID: "shopper_1"})

	session, err := svc.SetDeliveryType(context.Background(), "sess_1", domain.DeliveryPickup)
	if err != nil {
		t.Fatalf("SetDeliveryType returned error: %v", err)
	}
	if session.ShippingCost == nil || *session.ShippingCost != 0 {
		t.Fatalf("expected pickup cost fixed at 0")
	}
	if session.QuoteState != domain.QuoteQuoted {
		t.Fatalf("expected quote state %q, got %q", domain.QuoteQuoted, session.QuoteState)
	}

	session, err = svc.SetDeliveryType(context.Background(), "sess_1", domain.DeliveryShipping)
	if err != nil {
		t.Fatalf("SetDeliveryType returned error: %v", err)
	}
	if session.ShippingCost != nil {
		t.Fatalf("expected switching to shipping to reset cost to nil")
	}
}

func TestSessionServiceSetPaymentMethodValidates(t *testing.T) {
	cart := &stubCartSource{}
	svc, repo := newSessionServiceForTest(t, cart)
	seedSession(t, repo, domain.CheckoutSession{ID: "sess_1", ShopperID: "shopper_1"})

	if _, err := svc.SetPaymentMethod(context.Background(), "sess_1", "bitcoin"); !errors.Is(err, ErrSessionInvalidInput) {
		t.Fatalf("expected ErrSessionInvalidInput, got %v", err)
	}
	session, err := svc.SetPaymentMethod(context.Background(), "sess_1", "Transferencia")
	if err != nil {
		t.Fatalf("SetPaymentMethod returned error: %v", err)
	}
	if session.PaymentMethod != "transferencia" {
		t.Fatalf("expected normalized method, got %q", session.PaymentMethod)
	}
}

func TestSessionServiceCartLinesAreNeverPersisted(t *testing.T) {
	cart := &stubCartSource{snapshotFn: func(context.Context, string) ([]domain.CartLine, error) {
		return testCartLines(), nil
	}}
	svc, repo := newSessionServiceForTest(t, cart)

	session, err := svc.Create(context.Background(), CreateSessionCommand{ShopperID: "shopper_1"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	stored, err := repo.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("repo.Get returned error: %v", err)
	}
	if len(stored.Cart) != 0 {
		t.Fatalf("expected stored session without cart lines, got %d", len(stored.Cart))
	}

	loaded, err := svc.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if len(loaded.Cart) != 2 {
		t.Fatalf("expected cart re-synced from source, got %d lines", len(loaded.Cart))
	}
}

func TestSessionServiceGetUnknownSession(t *testing.T) {
	cart := &stubCartSource{}
	svc, _ := newSessionServiceForTest(t, cart)

	if _, err := svc.Get(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionServiceResetDeletesSession(t *testing.T) {
	cart := &stubCartSource{}
	svc, repo := newSessionServiceForTest(t, cart)
	seedSession(t, repo, domain.CheckoutSession{ID: "sess_1", ShopperID: "shopper_1"})

	if err := svc.Reset(context.Background(), "sess_1"); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if _, err := repo.Get(context.Background(), "sess_1"); err == nil {
		t.Fatalf("expected session deleted")
	}
}
