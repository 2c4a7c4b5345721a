package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
	"github.com/tienda-flor/storefront-api/internal/repositories"
)

func newAddressServiceForTest(t *testing.T, geocoder *stubGeocoder, debounce time.Duration) (AddressService, *repositories.MemorySessionRepository) {
	t.Helper()
	repo := repositories.NewMemorySessionRepository()
	svc, err := NewAddressService(AddressServiceDeps{
		Sessions: repo,
		Geocoder: geocoder,
		Debounce: debounce,
	})
	if err != nil {
		t.Fatalf("NewAddressService returned error: %v", err)
	}
	return svc, repo
}

func TestAddressSearchShortQuerySkipsLookup(t *testing.T) {
	geocoder := &stubGeocoder{}
	svc, _ := newAddressServiceForTest(t, geocoder, 0)

	result, err := svc.Search(context.Background(), SearchAddressCommand{SessionID: "sess_1", Query: "ri"})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(result.Candidates) != 0 {
		t.Fatalf("expected no candidates for short query")
	}
	if geocoder.calls != 0 {
		t.Fatalf("expected no lookup for short query, got %d calls", geocoder.calls)
	}
}

func TestAddressSearchReturnsCandidates(t *testing.T) {
	geocoder := &stubGeocoder{searchFn: func(_ context.Context, query string) ([]domain.AddressCandidate, error) {
		return []domain.AddressCandidate{{ID: "c1", FormattedAddress: query + " 100"}}, nil
	}}
	svc, _ := newAddressServiceForTest(t, geocoder, 0)

	result, err := svc.Search(context.Background(), SearchAddressCommand{SessionID: "sess_1", Query: "rivadavia"})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].ID != "c1" {
		t.Fatalf("unexpected candidates: %+v", result.Candidates)
	}
	if result.Advisory != "" || result.Superseded {
		t.Fatalf("expected clean result, got %+v", result)
	}
}

func TestAddressSearchLastQueryWins(t *testing.T) {
	geocoder := &stubGeocoder{searchFn: func(_ context.Context, query string) ([]domain.AddressCandidate, error) {
		return []domain.AddressCandidate{{ID: query}}, nil
	}}
	svc, _ := newAddressServiceForTest(t, geocoder, 60*time.Millisecond)

	var wg sync.WaitGroup
	var firstResult AddressSearchResult
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstResult, firstErr = svc.Search(context.Background(), SearchAddressCommand{SessionID: "sess_1", Query: "rivadavia"})
	}()

	// Let the first query register its sequence number before superseding it.
	time.Sleep(15 * time.Millisecond)
	secondResult, secondErr := svc.Search(context.Background(), SearchAddressCommand{SessionID: "sess_1", Query: "corrientes"})
	wg.Wait()

	if firstErr != nil || secondErr != nil {
		t.Fatalf("unexpected errors: %v, %v", firstErr, secondErr)
	}
	if !firstResult.Superseded {
		t.Fatalf("expected first query to be superseded, got %+v", firstResult)
	}
	if len(secondResult.Candidates) != 1 || secondResult.Candidates[0].ID != "corrientes" {
		t.Fatalf("expected second query's candidates, got %+v", secondResult.Candidates)
	}
}

func TestAddressSearchDegradesToAdvisoryOnLookupFailure(t *testing.T) {
	geocoder := &stubGeocoder{searchFn: func(context.Context, string) ([]domain.AddressCandidate, error) {
		return nil, errors.New("dns failure")
	}}
	svc, _ := newAddressServiceForTest(t, geocoder, 0)

	result, err := svc.Search(context.Background(), SearchAddressCommand{SessionID: "sess_1", Query: "rivadavia"})
	if err != nil {
		t.Fatalf("expected advisory degrade, got error: %v", err)
	}
	if len(result.Candidates) != 0 {
		t.Fatalf("expected empty candidates on degrade")
	}
	if result.Advisory == "" {
		t.Fatalf("expected an advisory message")
	}
}

func TestSelectCandidateLocksAddress(t *testing.T) {
	geocoder := &stubGeocoder{}
	svc, repo := newAddressServiceForTest(t, geocoder, 0)

	cost := int64(850)
	seedSession(t, repo, domain.CheckoutSession{
		ID:           "sess_1",
		ShopperID:    "shopper_1",
		DeliveryType: domain.DeliveryShipping,
		QuoteState:   domain.QuoteQuoted,
		ShippingCost: &cost,
	})

	session, err := svc.SelectCandidate(context.Background(), SelectCandidateCommand{
		SessionID: "sess_1",
		Candidate: domain.AddressCandidate{
			ID:         "cand_1",
			Street:     "Av. Rivadavia",
			Number:     "1200",
			City:       "CABA",
			Province:   "Buenos Aires",
			PostalCode: "1033",
		},
	})
	if err != nil {
		t.Fatalf("SelectCandidate returned error: %v", err)
	}
	if !session.AddressLocked {
		t.Fatalf("expected address locked after selection")
	}
	if session.Address.CandidateRef != "cand_1" {
		t.Fatalf("expected candidate linkage, got %q", session.Address.CandidateRef)
	}
	if session.Address.Street != "Av. Rivadavia" || session.Address.PostalCode != "1033" {
		t.Fatalf("expected candidate fields applied: %+v", session.Address)
	}
	if session.ShippingCost != nil {
		t.Fatalf("expected quote invalidated by new address fields")
	}
}

func TestEnableManualEditKeepsTypedText(t *testing.T) {
	geocoder := &stubGeocoder{}
	svc, repo := newAddressServiceForTest(t, geocoder, 0)

	address := completeAddress()
	address.CandidateRef = "cand_1"
	seedSession(t, repo, domain.CheckoutSession{
		ID:            "sess_1",
		ShopperID:     "shopper_1",
		Address:       address,
		AddressLocked: true,
	})

	session, err := svc.EnableManualEdit(context.Background(), "sess_1")
	if err != nil {
		t.Fatalf("EnableManualEdit returned error: %v", err)
	}
	if session.AddressLocked {
		t.Fatalf("expected address unlocked")
	}
	if session.Address.CandidateRef != "" {
		t.Fatalf("expected candidate linkage dropped")
	}
	if session.Address.Street != address.Street || session.Address.PostalCode != address.PostalCode {
		t.Fatalf("expected typed text preserved: %+v", session.Address)
	}
}
