package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
	"github.com/tienda-flor/storefront-api/internal/gateways"
	"github.com/tienda-flor/storefront-api/internal/repositories"
)

func newOrderServiceForTest(t *testing.T, orders *stubOrderGateway, cart *stubCartSource) (OrderService, *repositories.MemorySessionRepository) {
	t.Helper()
	repo := repositories.NewMemorySessionRepository()
	svc, err := NewOrderService(OrderServiceDeps{
		Sessions: repo,
		Cart:     cart,
		Orders:   orders,
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}
	return svc, repo
}

func submittableSession() domain.CheckoutSession {
	cost := int64(850)
	address := completeAddress()
	return domain.CheckoutSession{
		ID:            "sess_1",
		ShopperID:     "shopper_1",
		Step:          domain.StepDelivery,
		IdentityMode:  domain.IdentityGuestActive,
		Contact:       domain.ContactInfo{Email: "ana@example.com", GuestID: "guest_9"},
		DeliveryType:  domain.DeliveryShipping,
		Address:       address,
		QuoteState:    domain.QuoteQuoted,
		ShippingCost:  &cost,
		QuoteCurrency: "ARS",
		QuoteFP:       domain.QuoteFingerprint(address, testCartLines()),
		PaymentMethod: "efectivo",
	}
}

func TestSubmitProducesLocalResultPath(t *testing.T) {
	orders := &stubOrderGateway{createFn: func(_ context.Context, submission domain.OrderSubmission, _ string) (domain.OrderReceipt, error) {
		if submission.SubmissionID == "" {
			t.Fatalf("expected a submission id")
		}
		if submission.ShippingCost != 850 {
			t.Fatalf("expected shipping cost 850, got %d", submission.ShippingCost)
		}
		return domain.OrderReceipt{OrderID: "ord_7", PaymentMethod: "efectivo"}, nil
	}}
	cart := &stubCartSource{snapshotFn: func(context.Context, string) ([]domain.CartLine, error) {
		return testCartLines(), nil
	}}
	svc, repo := newOrderServiceForTest(t, orders, cart)
	seedSession(t, repo, submittableSession())

	result, err := svc.Submit(context.Background(), SubmitOrderCommand{SessionID: "sess_1"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if result.RedirectURL != "" {
		t.Fatalf("expected no external redirect for efectivo")
	}
	if !strings.Contains(result.ResultPath, "orderId=ord_7") || !strings.Contains(result.ResultPath, "method=efectivo") {
		t.Fatalf("unexpected result path %q", result.ResultPath)
	}
	if cart.clearCalls != 1 {
		t.Fatalf("expected exactly one cart clear, got %d", cart.clearCalls)
	}

	stored, err := repo.Get(context.Background(), "sess_1")
	if err != nil {
		t.Fatalf("repo.Get returned error: %v", err)
	}
	if stored.SubmitInFlight {
		t.Fatalf("expected submit lock released after success")
	}
}

func TestSubmitRedirectsToHostedPaymentPage(t *testing.T) {
	orders := &stubOrderGateway{createFn: func(context.Context, domain.OrderSubmission, string) (domain.OrderReceipt, error) {
		return domain.OrderReceipt{OrderID: "ord_7", PaymentMethod: "mercadopago", RedirectURL: "https://pay.example/ord_7"}, nil
	}}
	cart := &stubCartSource{snapshotFn: func(context.Context, string) ([]domain.CartLine, error) {
		return testCartLines(), nil
	}}
	svc, repo := newOrderServiceForTest(t, orders, cart)

	session := submittableSession()
	session.PaymentMethod = "mercadopago"
	seedSession(t, repo, session)

	result, err := svc.Submit(context.Background(), SubmitOrderCommand{SessionID: "sess_1"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if result.RedirectURL != "https://pay.example/ord_7" {
		t.Fatalf("expected external redirect, got %q", result.RedirectURL)
	}
	if result.ResultPath != "" {
		t.Fatalf("expected no local result path when redirecting externally")
	}
}

func TestSubmitPreconditionsProduceDistinctErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.CheckoutSession)
		lines  []domain.CartLine
		want   error
	}{
		{
			name:   "empty cart",
			mutate: func(*domain.CheckoutSession) {},
			lines:  nil,
			want:   ErrEmptyCart,
		},
		{
			name:   "missing payment method",
			mutate: func(s *domain.CheckoutSession) { s.PaymentMethod = "" },
			lines:  testCartLines(),
			want:   ErrPaymentMethodRequired,
		},
		{
			name:   "unresolved identity",
			mutate: func(s *domain.CheckoutSession) { s.IdentityMode = domain.IdentityGuestChosen },
			lines:  testCartLines(),
			want:   ErrIdentityUnresolved,
		},
		{
			name:   "missing quote",
			mutate: func(s *domain.CheckoutSession) { s.ShippingCost = nil },
			lines:  testCartLines(),
			want:   ErrShippingQuoteRequired,
		},
		{
			name: "stale quote fingerprint",
			mutate: func(s *domain.CheckoutSession) {
				s.Address.PostalCode = "1406"
			},
			lines: testCartLines(),
			want:  ErrShippingQuoteRequired,
		},
		{
			name:   "cart changed since quote",
			mutate: func(*domain.CheckoutSession) {},
			lines: []domain.CartLine{
				{ProductID: "p9", Name: "Orquídea", UnitPrice: 4000, Quantity: 1},
			},
			want: ErrShippingQuoteRequired,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := &stubOrderGateway{}
			cart := &stubCartSource{snapshotFn: func(context.Context, string) ([]domain.CartLine, error) {
				return tc.lines, nil
			}}
			svc, repo := newOrderServiceForTest(t, orders, cart)

			session := submittableSession()
			tc.mutate(&session)
			seedSession(t, repo, session)

			if _, err := svc.Submit(context.Background(), SubmitOrderCommand{SessionID: "sess_1"}); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if orders.calls != 0 {
				t.Fatalf("expected no order-creation call, got %d", orders.calls)
			}
		})
	}
}

func TestSubmitMutualExclusion(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	orders := &stubOrderGateway{createFn: func(context.Context, domain.OrderSubmission, string) (domain.OrderReceipt, error) {
		close(entered)
		<-release
		return domain.OrderReceipt{OrderID: "ord_7"}, nil
	}}
	cart := &stubCartSource{snapshotFn: func(context.Context, string) ([]domain.CartLine, error) {
		return testCartLines(), nil
	}}
	svc, repo := newOrderServiceForTest(t, orders, cart)
	seedSession(t, repo, submittableSession())

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = svc.Submit(context.Background(), SubmitOrderCommand{SessionID: "sess_1"})
	}()

	<-entered
	_, secondErr := svc.Submit(context.Background(), SubmitOrderCommand{SessionID: "sess_1"})
	close(release)
	wg.Wait()

	if firstErr != nil {
		t.Fatalf("first submission returned error: %v", firstErr)
	}
	if !errors.Is(secondErr, ErrSubmissionInFlight) {
		t.Fatalf("expected ErrSubmissionInFlight, got %v", secondErr)
	}
	if orders.calls != 1 {
		t.Fatalf("expected exactly one order-creation call, got %d", orders.calls)
	}
}

func TestSubmit401PreservesSession(t *testing.T) {
	orders := &stubOrderGateway{createFn: func(context.Context, domain.OrderSubmission, string) (domain.OrderReceipt, error) {
		return domain.OrderReceipt{}, gateways.ErrOrderUnauthorized
	}}
	cart := &stubCartSource{snapshotFn: func(context.Context, string) ([]domain.CartLine, error) {
		return testCartLines(), nil
	}}
	svc, repo := newOrderServiceForTest(t, orders, cart)

	seeded := submittableSession()
	seedSession(t, repo, seeded)

	if _, err := svc.Submit(context.Background(), SubmitOrderCommand{SessionID: "sess_1", BearerToken: "stale"}); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}

	stored, err := repo.Get(context.Background(), "sess_1")
	if err != nil {
		t.Fatalf("expected session preserved, got %v", err)
	}
	if stored.Step != seeded.Step {
		t.Fatalf("expected step unchanged, got %d", stored.Step)
	}
	if stored.Contact.Email != seeded.Contact.Email {
		t.Fatalf("expected contact preserved")
	}
	if stored.SubmitInFlight {
		t.Fatalf("expected submit lock released after 401")
	}
	if cart.clearCalls != 0 {
		t.Fatalf("expected cart untouched after 401, got %d clears", cart.clearCalls)
	}
}
