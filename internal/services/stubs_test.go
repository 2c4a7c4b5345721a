package services

import (
	"context"
	"sync/atomic"
	"testing"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
	"github.com/tienda-flor/storefront-api/internal/events"
	"github.com/tienda-flor/storefront-api/internal/gateways"
	"github.com/tienda-flor/storefront-api/internal/repositories"
)

type stubCartSource struct {
	snapshotFn    func(ctx context.Context, shopperID string) ([]domain.CartLine, error)
	clearFn       func(ctx context.Context, shopperID string) error
	snapshotCalls int32
	clearCalls    int32
}

func (s *stubCartSource) Snapshot(ctx context.Context, shopperID string) ([]domain.CartLine, error) {
	atomic.AddInt32(&s.snapshotCalls, 1)
	if s.snapshotFn != nil {
		return s.snapshotFn(ctx, shopperID)
	}
	return []domain.CartLine{}, nil
}

func (s *stubCartSource) Clear(ctx context.Context, shopperID string) error {
	atomic.AddInt32(&s.clearCalls, 1)
	if s.clearFn != nil {
		return s.clearFn(ctx, shopperID)
	}
	return nil
}

type stubGeocoder struct {
	searchFn func(ctx context.Context, query string) ([]domain.AddressCandidate, error)
	calls    int32
}

func (s *stubGeocoder) Search(ctx context.Context, query string) ([]domain.AddressCandidate, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.searchFn != nil {
		return s.searchFn(ctx, query)
	}
	return []domain.AddressCandidate{}, nil
}

type stubRater struct {
	rateFn func(ctx context.Context, req gateways.RateRequest) (domain.ShippingQuote, error)
	calls  int32
}

func (s *stubRater) Rate(ctx context.Context, req gateways.RateRequest) (domain.ShippingQuote, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.rateFn != nil {
		return s.rateFn(ctx, req)
	}
	return domain.ShippingQuote{}, nil
}

type stubProvisioner struct {
	provisionFn    func(ctx context.Context, contact domain.ContactInfo) (string, error)
	demoteFn       func(ctx context.Context, guestID string) error
	provisionCalls int32
	demoteCalls    int32
}

func (s *stubProvisioner) Provision(ctx context.Context, contact domain.ContactInfo) (string, error) {
	atomic.AddInt32(&s.provisionCalls, 1)
	if s.provisionFn != nil {
		return s.provisionFn(ctx, contact)
	}
	return "guest_1", nil
}

func (s *stubProvisioner) Demote(ctx context.Context, guestID string) error {
	atomic.AddInt32(&s.demoteCalls, 1)
	if s.demoteFn != nil {
		return s.demoteFn(ctx, guestID)
	}
	return nil
}

type stubOrderGateway struct {
	createFn func(ctx context.Context, submission domain.OrderSubmission, token string) (domain.OrderReceipt, error)
	calls    int32
}

func (s *stubOrderGateway) Create(ctx context.Context, submission domain.OrderSubmission, token string) (domain.OrderReceipt, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.createFn != nil {
		return s.createFn(ctx, submission, token)
	}
	return domain.OrderReceipt{OrderID: "ord_1"}, nil
}

type stubPublisher struct {
	publishFn func(ctx context.Context, message events.OrderFinalizedMessage) (string, error)
	calls     int32
}

func (s *stubPublisher) PublishOrderFinalized(ctx context.Context, message events.OrderFinalizedMessage) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.publishFn != nil {
		return s.publishFn(ctx, message)
	}
	return "msg_1", nil
}

func testCartLines() []domain.CartLine {
	return []domain.CartLine{
		{ProductID: "p1", Name: "Ramo de rosas", UnitPrice: 1000, Quantity: 2},
		{ProductID: "p2", Name: "Caja de bombones", UnitPrice: 2500, Quantity: 1},
	}
}

func seedSession(t *testing.T, repo repositories.CheckoutSessionRepository, session domain.CheckoutSession) domain.CheckoutSession {
	t.Helper()
	saved, err := repo.Save(context.Background(), session)
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return saved
}

func completeAddress() domain.AddressFields {
	return domain.AddressFields{
		Street:     "Av. Rivadavia",
		Number:     "1200",
		City:       "CABA",
		Province:   "Buenos Aires",
		PostalCode: "1033",
	}
}
