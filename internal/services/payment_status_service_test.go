package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
	"github.com/tienda-flor/storefront-api/internal/repositories"
)

type paymentStatusFixture struct {
	svc           PaymentStatusService
	sessions      *repositories.MemorySessionRepository
	finalizations *repositories.MemoryFinalizationRepository
	cart          *stubCartSource
	guests        *stubProvisioner
	publisher     *stubPublisher
}

func newPaymentStatusFixture(t *testing.T) *paymentStatusFixture {
	t.Helper()
	f := &paymentStatusFixture{
		sessions:      repositories.NewMemorySessionRepository(),
		finalizations: repositories.NewMemoryFinalizationRepository(),
		cart:          &stubCartSource{},
		guests:        &stubProvisioner{},
		publisher:     &stubPublisher{},
	}
	svc, err := NewPaymentStatusService(PaymentStatusServiceDeps{
		Sessions:      f.sessions,
		Finalizations: f.finalizations,
		Cart:          f.cart,
		Guests:        f.guests,
		Publisher:     f.publisher,
	})
	if err != nil {
		t.Fatalf("NewPaymentStatusService returned error: %v", err)
	}
	f.svc = svc
	return f
}

func TestResolveMapsKnownStatuses(t *testing.T) {
	f := newPaymentStatusFixture(t)

	cases := []struct {
		status   string
		severity Severity
		action   StatusAction
		terminal bool
	}{
		{status: "approved", severity: SeveritySuccess, action: ActionViewOrders, terminal: true},
		{status: "authorized", severity: SeverityInfo, action: ActionViewOrders, terminal: false},
		{status: "in_process", severity: SeverityWarning, action: ActionViewOrders, terminal: false},
		{status: "pending", severity: SeverityWarning, action: ActionViewOrders, terminal: false},
		{status: "in_mediation", severity: SeverityWarning, action: ActionContactSupport, terminal: false},
		{status: "rejected", severity: SeverityError, action: ActionRetryPayment, terminal: true},
		{status: "cancelled", severity: SeverityError, action: ActionRetryPayment, terminal: true},
		{status: "refunded", severity: SeverityInfo, action: ActionContactSupport, terminal: true},
		{status: "charged_back", severity: SeverityError, action: ActionContactSupport, terminal: true},
		{status: "efectivo", severity: SeverityInfo, action: ActionViewOrders, terminal: true},
		{status: "processing", severity: SeverityNeutral, action: ActionContinue, terminal: false},
	}
	for _, tc := range cases {
		descriptor := f.svc.Resolve(domain.PaymentOutcome{Status: tc.status})
		if descriptor.Severity != tc.severity {
			t.Fatalf("%s: expected severity %q, got %q", tc.status, tc.severity, descriptor.Severity)
		}
		if descriptor.Action != tc.action {
			t.Fatalf("%s: expected action %q, got %q", tc.status, tc.action, descriptor.Action)
		}
		if descriptor.Terminal != tc.terminal {
			t.Fatalf("%s: expected terminal %v", tc.status, tc.terminal)
		}
		if descriptor.ShowBankDetails {
			t.Fatalf("%s: expected no bank details", tc.status)
		}
	}
}

func TestResolveTransferenciaShowsBankDetailsWhenPresent(t *testing.T) {
	f := newPaymentStatusFixture(t)

	details := &domain.BankDetails{BankName: "Banco Nación", CBU: "0110000000000000000000", Alias: "tienda.flor"}
	descriptor := f.svc.Resolve(domain.PaymentOutcome{Status: "transferencia", BankDetails: details})
	if !descriptor.ShowBankDetails || descriptor.BankDetails == nil {
		t.Fatalf("expected bank details shown when present")
	}
	if descriptor.Action != ActionViewOrders {
		t.Fatalf("expected view orders action, got %q", descriptor.Action)
	}

	withoutDetails := f.svc.Resolve(domain.PaymentOutcome{Status: "transferencia"})
	if withoutDetails.ShowBankDetails {
		t.Fatalf("expected no bank details section when none provided")
	}
}

func TestResolveUnknownStatusFallsBackToNeutral(t *testing.T) {
	f := newPaymentStatusFixture(t)

	for _, status := range []string{"quux", "", "APPROVED_V2", "   "} {
		descriptor := f.svc.Resolve(domain.PaymentOutcome{Status: status})
		if descriptor.Severity != SeverityNeutral {
			t.Fatalf("%q: expected neutral severity, got %q", status, descriptor.Severity)
		}
		if descriptor.Terminal {
			t.Fatalf("%q: unrecognized status must not be terminal", status)
		}
	}
}

func TestFinalizeNonTerminalHasNoEffects(t *testing.T) {
	f := newPaymentStatusFixture(t)
	seedSession(t, f.sessions, domain.CheckoutSession{ID: "sess_1", ShopperID: "shopper_1"})

	result, err := f.svc.Finalize(context.Background(), FinalizeCommand{
		SessionID: "sess_1",
		Outcome:   domain.PaymentOutcome{Status: "pending", OrderID: "ord_1"},
	})
	if err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}
	if result.EffectsApplied {
		t.Fatalf("expected no effects for non-terminal status")
	}
	if f.cart.clearCalls != 0 {
		t.Fatalf("expected cart untouched")
	}
	if _, err := f.sessions.Get(context.Background(), "sess_1"); err != nil {
		t.Fatalf("expected session preserved, got %v", err)
	}
}

func TestFinalizeAppliesTerminalEffectsExactlyOnce(t *testing.T) {
	f := newPaymentStatusFixture(t)
	seedSession(t, f.sessions, domain.CheckoutSession{
		ID:            "sess_1",
		ShopperID:     "shopper_1",
		IdentityMode:  domain.IdentityGuestActive,
		Contact:       domain.ContactInfo{Email: "ana@example.com", GuestID: "guest_9"},
		PaymentMethod: "mercadopago",
	})

	cmd := FinalizeCommand{
		SessionID: "sess_1",
		Outcome:   domain.PaymentOutcome{Status: "approved", OrderID: "ord_7"},
	}
	first, err := f.svc.Finalize(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}
	if !first.EffectsApplied {
		t.Fatalf("expected effects applied on first terminal resolution")
	}

	// A refresh on the result view resolves the same outcome again.
	second, err := f.svc.Finalize(context.Background(), cmd)
	if err != nil {
		t.Fatalf("repeated Finalize returned error: %v", err)
	}
	if second.EffectsApplied {
		t.Fatalf("expected no effects on repeat")
	}
	if second.Descriptor.Severity != SeveritySuccess {
		t.Fatalf("expected descriptor still resolved on repeat")
	}

	if f.cart.clearCalls != 1 {
		t.Fatalf("expected exactly one cart clear, got %d", f.cart.clearCalls)
	}
	if f.guests.demoteCalls != 1 {
		t.Fatalf("expected exactly one guest demotion, got %d", f.guests.demoteCalls)
	}
	if f.publisher.calls != 1 {
		t.Fatalf("expected exactly one finalized event, got %d", f.publisher.calls)
	}
	if _, err := f.sessions.Get(context.Background(), "sess_1"); !errors.Is(translateSessionError(err), ErrSessionNotFound) {
		t.Fatalf("expected session cleared, got %v", err)
	}
}

func TestFinalizeSkipsGuestDemotionForAuthenticatedShopper(t *testing.T) {
	f := newPaymentStatusFixture(t)
	seedSession(t, f.sessions, domain.CheckoutSession{
		ID:           "sess_1",
		ShopperID:    "shopper_1",
		IdentityMode: domain.IdentityAuthenticated,
		Contact:      domain.ContactInfo{Email: "ana@example.com", AccountID: "acc_1"},
	})

	if _, err := f.svc.Finalize(context.Background(), FinalizeCommand{
		SessionID: "sess_1",
		Outcome:   domain.PaymentOutcome{Status: "efectivo", OrderID: "ord_8"},
	}); err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}
	if f.guests.demoteCalls != 0 {
		t.Fatalf("expected no guest demotion for authenticated shopper")
	}
}

func TestFinalizeTerminalRequiresOrderID(t *testing.T) {
	f := newPaymentStatusFixture(t)

	if _, err := f.svc.Finalize(context.Background(), FinalizeCommand{
		Outcome: domain.PaymentOutcome{Status: "approved"},
	}); !errors.Is(err, ErrFinalizeInvalidInput) {
		t.Fatalf("expected ErrFinalizeInvalidInput, got %v", err)
	}
}
