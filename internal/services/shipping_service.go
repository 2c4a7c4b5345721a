package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
	"github.com/tienda-flor/storefront-api/internal/gateways"
	"github.com/tienda-flor/storefront-api/internal/platform/sequencer"
	"github.com/tienda-flor/storefront-api/internal/repositories"
)

const quoteTimeout = 15 * time.Second

var (
	// ErrQuoteUnavailable indicates the session is not quotable: missing or
	// incomplete address fields, or delivery type is not shipping.
	ErrQuoteUnavailable = errors.New("shipping: quote unavailable")
	// ErrQuoteProviderError indicates the pricing collaborator failed; the
	// shopper may re-submit but must not advance past the shipping step.
	ErrQuoteProviderError = errors.New("shipping: quote provider error")
	// ErrQuoteNotFailed indicates a retry was requested outside the failed state.
	ErrQuoteNotFailed = errors.New("shipping: quote is not in failed state")
)

// ShippingServiceDeps wires the dependencies required by the shipping service.
type ShippingServiceDeps struct {
	Sessions repositories.CheckoutSessionRepository
	Cart     CartSource
	Rater    ShippingRater
	Currency string
	// Debounce delays the rater call after a quote request; zero quotes
	// synchronously before RequestQuote returns.
	Debounce time.Duration
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type shippingService struct {
	sessions repositories.CheckoutSessionRepository
	cart     CartSource
	rater    ShippingRater
	currency string
	interval time.Duration
	debounce *sequencer.Debouncer
	sequence *sequencer.Sequence
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewShippingService constructs a ShippingService validating required dependencies.
func NewShippingService(deps ShippingServiceDeps) (ShippingService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("shipping service: session repository is required")
	}
	if deps.Cart == nil {
		return nil, errors.New("shipping service: cart source is required")
	}
	if deps.Rater == nil {
		return nil, errors.New("shipping service: rater is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "ARS"
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &shippingService{
		sessions: deps.Sessions,
		cart:     deps.Cart,
		rater:    deps.Rater,
		currency: currency,
		interval: deps.Debounce,
		debounce: sequencer.NewDebouncer(deps.Debounce),
		sequence: sequencer.NewSequence(),
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// RequestQuote moves the session into the quoting state and schedules the
// rater call behind the debounce. A quote that resolves after its input
// fingerprint (address plus cart) or request sequence went stale is
// discarded, never applied.
func (s *shippingService) RequestQuote(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	return s.beginQuote(ctx, sessionID, false)
}

// RetryQuote re-enters quoting from the failed state. Retrying is explicit;
// there is no silent auto-retry after a provider failure.
func (s *shippingService) RetryQuote(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	return s.beginQuote(ctx, sessionID, true)
}

func (s *shippingService) beginQuote(ctx context.Context, sessionID string, retry bool) (domain.CheckoutSession, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return domain.CheckoutSession{}, ErrSessionInvalidInput
	}

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return domain.CheckoutSession{}, translateSessionError(err)
	}

	if retry && session.QuoteState != domain.QuoteFailed {
		return domain.CheckoutSession{}, ErrQuoteNotFailed
	}
	if session.DeliveryType == domain.DeliveryPickup {
		// Pickup is fixed at zero cost and never reaches the rater.
		return session, nil
	}
	if session.DeliveryType != domain.DeliveryShipping || !session.Address.Complete() {
		return domain.CheckoutSession{}, ErrQuoteUnavailable
	}

	lines, err := s.cart.Snapshot(ctx, session.ShopperID)
	if err != nil {
		return domain.CheckoutSession{}, errors.Join(ErrSessionUnavailable, err)
	}

	session.QuoteState = domain.QuoteQuoting
	session.ShippingCost = nil
	session.QuoteFP = ""
	session.UpdatedAt = s.now()
	saved, err := s.sessions.Save(ctx, session)
	if err != nil {
		return domain.CheckoutSession{}, translateSessionError(err)
	}

	snapshot := quoteSnapshot{
		sessionID:   id,
		fingerprint: domain.QuoteFingerprint(session.Address, lines),
		address:     session.Address,
		lines:       lines,
		seq:         s.sequence.Next(id),
	}

	if s.interval <= 0 {
		var quoteErr error
		s.debounce.Trigger(id, func() {
			quoteErr = s.performQuote(snapshot)
		})
		if quoteErr != nil {
			return domain.CheckoutSession{}, quoteErr
		}
		resolved, err := s.sessions.Get(ctx, id)
		if err != nil {
			return domain.CheckoutSession{}, translateSessionError(err)
		}
		resolved.Cart = lines
		return resolved, nil
	}

	s.debounce.Trigger(id, func() {
		s.performQuote(snapshot)
	})

	saved.Cart = lines
	return saved, nil
}

// performQuote runs outside the request that scheduled it, so it carries its
// own timeout instead of the caller's context. The returned error is the
// classified provider failure; async callers drop it after logging.
func (s *shippingService) performQuote(snapshot quoteSnapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), quoteTimeout)
	defer cancel()

	quote, rateErr := s.rater.Rate(ctx, gateways.RateRequest{
		Address:  snapshot.address,
		Lines:    snapshot.lines,
		Currency: s.currency,
	})

	if !s.sequence.IsCurrent(snapshot.sessionID, snapshot.seq) {
		return nil
	}

	session, err := s.sessions.Get(ctx, snapshot.sessionID)
	if err != nil {
		s.logger(ctx, "checkout.shipping.quote_apply_failed", map[string]any{
			"session_id": snapshot.sessionID,
			"error":      err.Error(),
		})
		return translateSessionError(err)
	}
	// Inputs changed while the quote was in flight: the result is stale and
	// must be dropped. The cart half of the tuple is re-read from the source
	// because lines are never persisted with the session.
	lines, err := s.cart.Snapshot(ctx, session.ShopperID)
	if err != nil {
		s.logger(ctx, "checkout.shipping.quote_apply_failed", map[string]any{
			"session_id": snapshot.sessionID,
			"error":      err.Error(),
		})
		return errors.Join(ErrSessionUnavailable, err)
	}
	if domain.QuoteFingerprint(session.Address, lines) != snapshot.fingerprint {
		return nil
	}
	if session.QuoteState != domain.QuoteQuoting {
		return nil
	}

	if rateErr != nil {
		session.QuoteState = domain.QuoteFailed
		session.ShippingCost = nil
		session.QuoteFP = ""
		s.logger(ctx, "checkout.shipping.quote_failed", map[string]any{
			"session_id": snapshot.sessionID,
			"error":      rateErr.Error(),
		})
	} else {
		cost := quote.Cost
		session.QuoteState = domain.QuoteQuoted
		session.ShippingCost = &cost
		session.QuoteCurrency = quote.Currency
		session.QuoteFP = snapshot.fingerprint
		s.logger(ctx, "checkout.shipping.quoted", map[string]any{
			"session_id": snapshot.sessionID,
			"cost":       cost,
			"currency":   quote.Currency,
		})
	}

	session.UpdatedAt = s.now()
	if _, err := s.sessions.Save(ctx, session); err != nil {
		s.logger(ctx, "checkout.shipping.quote_persist_failed", map[string]any{
			"session_id": snapshot.sessionID,
			"error":      err.Error(),
		})
		return translateSessionError(err)
	}
	return classifyRateError(rateErr)
}

type quoteSnapshot struct {
	sessionID   string
	fingerprint string
	address     domain.AddressFields
	lines       []domain.CartLine
	seq         uint64
}

func classifyRateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gateways.ErrShippingRejected):
		return errors.Join(ErrQuoteUnavailable, err)
	default:
		return errors.Join(ErrQuoteProviderError, err)
	}
}
