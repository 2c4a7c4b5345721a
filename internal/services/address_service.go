package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
	"github.com/tienda-flor/storefront-api/internal/platform/sequencer"
	"github.com/tienda-flor/storefront-api/internal/repositories"
)

const (
	defaultDebounceInterval = 500 * time.Millisecond
	defaultMinQueryLength   = 3

	lookupAdvisory = "address lookup unavailable, continue with manual entry"
)

// ErrCandidateInvalid indicates the selected candidate is missing required fields.
var ErrCandidateInvalid = errors.New("address: candidate invalid")

// AddressServiceDeps wires the dependencies required by the address service.
type AddressServiceDeps struct {
	Sessions repositories.CheckoutSessionRepository
	Geocoder Geocoder
	// Debounce delays lookups after input; zero resolves immediately.
	Debounce       time.Duration
	MinQueryLength int
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type addressService struct {
	sessions repositories.CheckoutSessionRepository
	geocoder Geocoder
	debounce time.Duration
	minQuery int
	sequence *sequencer.Sequence
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewAddressService constructs an AddressService validating required dependencies.
func NewAddressService(deps AddressServiceDeps) (AddressService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("address service: session repository is required")
	}
	if deps.Geocoder == nil {
		return nil, errors.New("address service: geocoder is required")
	}

	debounce := deps.Debounce
	if debounce < 0 {
		debounce = defaultDebounceInterval
	}
	minQuery := deps.MinQueryLength
	if minQuery <= 0 {
		minQuery = defaultMinQueryLength
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &addressService{
		sessions: deps.Sessions,
		geocoder: deps.Geocoder,
		debounce: debounce,
		minQuery: minQuery,
		sequence: sequencer.NewSequence(),
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// Search runs one debounced lookup for the session. Each call supersedes any
// earlier call still waiting on its debounce or its response: only the latest
// query's result is ever reported as candidates.
func (s *addressService) Search(ctx context.Context, cmd SearchAddressCommand) (AddressSearchResult, error) {
	sessionID := strings.TrimSpace(cmd.SessionID)
	if sessionID == "" {
		return AddressSearchResult{}, ErrSessionInvalidInput
	}

	query := strings.TrimSpace(cmd.Query)
	if len([]rune(query)) < s.minQuery {
		return AddressSearchResult{Candidates: []domain.AddressCandidate{}}, nil
	}

	seq := s.sequence.Next(sessionID)
	if err := s.wait(ctx); err != nil {
		return AddressSearchResult{}, err
	}
	if !s.sequence.IsCurrent(sessionID, seq) {
		return AddressSearchResult{Superseded: true}, nil
	}

	candidates, err := s.geocoder.Search(ctx, query)
	if !s.sequence.IsCurrent(sessionID, seq) {
		return AddressSearchResult{Superseded: true}, nil
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return AddressSearchResult{}, err
		}
		s.logger(ctx, "checkout.address.lookup_degraded", map[string]any{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return AddressSearchResult{
			Candidates: []domain.AddressCandidate{},
			Advisory:   lookupAdvisory,
		}, nil
	}

	if candidates == nil {
		candidates = []domain.AddressCandidate{}
	}
	return AddressSearchResult{Candidates: candidates}, nil
}

// SelectCandidate applies the candidate's fields to the session and locks the
// address until the shopper requests manual edit. Applying new fields counts
// as a cost-affecting change, so any existing quote is invalidated.
func (s *addressService) SelectCandidate(ctx context.Context, cmd SelectCandidateCommand) (domain.CheckoutSession, error) {
	sessionID := strings.TrimSpace(cmd.SessionID)
	if sessionID == "" {
		return domain.CheckoutSession{}, ErrSessionInvalidInput
	}
	candidate := cmd.Candidate
	if strings.TrimSpace(candidate.Street) == "" || strings.TrimSpace(candidate.City) == "" {
		return domain.CheckoutSession{}, ErrCandidateInvalid
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.CheckoutSession{}, translateSessionError(err)
	}

	session.Address.Street = candidate.Street
	session.Address.Number = candidate.Number
	session.Address.City = candidate.City
	session.Address.Province = candidate.Province
	session.Address.PostalCode = candidate.PostalCode
	session.Address.CandidateRef = candidate.ID
	session.AddressLocked = true
	if session.DeliveryType == domain.DeliveryShipping {
		invalidateQuote(&session)
	}
	session.UpdatedAt = s.now()

	saved, err := s.sessions.Save(ctx, session)
	if err != nil {
		return domain.CheckoutSession{}, translateSessionError(err)
	}
	s.logger(ctx, "checkout.address.candidate_selected", map[string]any{
		"session_id":   sessionID,
		"candidate_id": candidate.ID,
	})
	return saved, nil
}

// EnableManualEdit unlocks the address fields and drops the candidate linkage
// without clearing text the shopper already typed.
func (s *addressService) EnableManualEdit(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return domain.CheckoutSession{}, ErrSessionInvalidInput
	}

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return domain.CheckoutSession{}, translateSessionError(err)
	}

	session.AddressLocked = false
	session.Address.CandidateRef = ""
	session.UpdatedAt = s.now()

	saved, err := s.sessions.Save(ctx, session)
	if err != nil {
		return domain.CheckoutSession{}, translateSessionError(err)
	}
	return saved, nil
}

func (s *addressService) wait(ctx context.Context) error {
	if s.debounce <= 0 {
		return nil
	}
	timer := time.NewTimer(s.debounce)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SelectCandidateCommand applies one geocoding candidate to a session.
type SelectCandidateCommand struct {
	SessionID string
	Candidate domain.AddressCandidate
}
