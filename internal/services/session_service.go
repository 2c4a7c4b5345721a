package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
	"github.com/tienda-flor/storefront-api/internal/repositories"
)

var (
	// ErrSessionInvalidInput indicates the caller supplied invalid parameters.
	ErrSessionInvalidInput = errors.New("session: invalid input")
	// ErrSessionNotFound indicates no checkout session exists for the id.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionUnavailable indicates the session store or cart source is unreachable.
	ErrSessionUnavailable = errors.New("session: unavailable")
	// ErrInvalidStepTransition indicates a step was requested before completing the prior ones.
	ErrInvalidStepTransition = errors.New("session: invalid step transition")
	// ErrEmptyCart indicates the cart has no lines where a non-empty cart is required.
	ErrEmptyCart = errors.New("session: cart is empty")
)

var allowedPaymentMethods = map[string]bool{
	"mercadopago":   true,
	"transferencia": true,
	"efectivo":      true,
}

// SessionServiceDeps wires the dependencies required by the session service.
type SessionServiceDeps struct {
	Sessions repositories.CheckoutSessionRepository
	Cart     CartSource
	Currency string
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type sessionService struct {
	sessions repositories.CheckoutSessionRepository
	cart     CartSource
	currency string
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewSessionService constructs a SessionService validating required dependencies.
func NewSessionService(deps SessionServiceDeps) (SessionService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("session service: session repository is required")
	}
	if deps.Cart == nil {
		return nil, errors.New("session service: cart source is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "ARS"
	}

	return &sessionService{
		sessions: deps.Sessions,
		cart:     deps.Cart,
		currency: currency,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// Create starts a fresh session on the cart step with the shopper's current cart.
func (s *sessionService) Create(ctx context.Context, cmd CreateSessionCommand) (domain.CheckoutSession, error) {
	shopperID := strings.TrimSpace(cmd.ShopperID)
	if shopperID == "" {
		return domain.CheckoutSession{}, ErrSessionInvalidInput
	}

	lines, err := s.cart.Snapshot(ctx, shopperID)
	if err != nil {
		return domain.CheckoutSession{}, errors.Join(ErrSessionUnavailable, err)
	}

	now := s.now()
	session := domain.CheckoutSession{
		ID:             ulid.Make().String(),
		ShopperID:      shopperID,
		Step:           domain.StepCart,
		CompletedSteps: make(map[domain.CheckoutStep]bool),
		Cart:           lines,
		IdentityMode:   domain.IdentityUnknown,
		QuoteState:     domain.QuoteNotQuoted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	saved, err := s.save(ctx, session)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	s.logger(ctx, "checkout.session.created", map[string]any{
		"session_id": saved.ID,
		"shopper_id": shopperID,
		"cart_lines": len(lines),
	})
	saved.Cart = lines
	return saved, nil
}

// Get loads the session and re-syncs cart lines from the cart source.
func (s *sessionService) Get(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	return s.load(ctx, sessionID)
}

// AdvanceTo moves the session to the step when all prior steps are complete.
func (s *sessionService) AdvanceTo(ctx context.Context, sessionID string, step domain.CheckoutStep) (domain.CheckoutSession, error) {
	if step < domain.StepCart || step > domain.LastStep {
		return domain.CheckoutSession{}, ErrSessionInvalidInput
	}

	return s.mutate(ctx, sessionID, func(session *domain.CheckoutSession) error {
		if !session.CanAdvanceTo(step) {
			return ErrInvalidStepTransition
		}
		session.Step = step
		return nil
	})
}

// CompleteStep marks the step complete; repeating the call is a no-op.
// Completing the cart step requires a non-empty cart.
func (s *sessionService) CompleteStep(ctx context.Context, sessionID string, step domain.CheckoutStep) (domain.CheckoutSession, error) {
	if step < domain.StepCart || step > domain.LastStep {
		return domain.CheckoutSession{}, ErrSessionInvalidInput
	}

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if step == domain.StepCart && len(session.Cart) == 0 {
		return domain.CheckoutSession{}, ErrEmptyCart
	}
	if step == domain.StepIdentification && !session.IdentityResolved() {
		return domain.CheckoutSession{}, ErrIdentityBlocked
	}
	if session.StepCompleted(step) {
		return session, nil
	}

	if session.CompletedSteps == nil {
		session.CompletedSteps = make(map[domain.CheckoutStep]bool)
	}
	session.CompletedSteps[step] = true

	lines := session.Cart
	saved, err := s.save(ctx, session)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	saved.Cart = lines
	return saved, nil
}

// SetCartLines replaces the in-session cart projection. Completed steps are
// untouched; lines are never written to the session store. Under shipping
// delivery a cart change invalidates any quote produced from the old lines.
func (s *sessionService) SetCartLines(ctx context.Context, sessionID string, lines []domain.CartLine) (domain.CheckoutSession, error) {
	session, err := s.loadStored(ctx, sessionID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}

	session.Cart = append([]domain.CartLine(nil), lines...)
	if session.DeliveryType == domain.DeliveryShipping &&
		session.QuoteState != domain.QuoteNotQuoted &&
		session.QuoteFP != domain.QuoteFingerprint(session.Address, session.Cart) {
		invalidateQuote(&session)
	}
	saved, err := s.save(ctx, session)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	saved.Cart = session.Cart
	return saved, nil
}

// SetAddressField mutates one address field. Any edit drops the candidate
// linkage; cost-affecting edits under shipping delivery invalidate the quote.
func (s *sessionService) SetAddressField(ctx context.Context, sessionID, field, value string) (domain.CheckoutSession, error) {
	key := strings.ToLower(strings.TrimSpace(field))

	return s.mutate(ctx, sessionID, func(session *domain.CheckoutSession) error {
		switch key {
		case "street":
			session.Address.Street = value
		case "number":
			session.Address.Number = value
		case "city":
			session.Address.City = value
		case "province":
			session.Address.Province = value
		case "postalcode":
			session.Address.PostalCode = value
		case "floor":
			session.Address.Floor = value
		case "notes":
			session.Address.Notes = value
		default:
			return ErrSessionInvalidInput
		}

		session.Address.CandidateRef = ""
		session.AddressLocked = false

		if session.DeliveryType == domain.DeliveryShipping && domain.CostAffecting(key) {
			invalidateQuote(session)
		}
		return nil
	})
}

// SetDeliveryType selects shipping or pickup. Pickup fixes the cost at zero
// without quoting; switching to shipping resets the quote.
func (s *sessionService) SetDeliveryType(ctx context.Context, sessionID string, deliveryType domain.DeliveryType) (domain.CheckoutSession, error) {
	if deliveryType != domain.DeliveryShipping && deliveryType != domain.DeliveryPickup {
		return domain.CheckoutSession{}, ErrSessionInvalidInput
	}

	return s.mutate(ctx, sessionID, func(session *domain.CheckoutSession) error {
		session.DeliveryType = deliveryType
		if deliveryType == domain.DeliveryPickup {
			cost := int64(0)
			session.ShippingCost = &cost
			session.QuoteState = domain.QuoteQuoted
			session.QuoteCurrency = s.currency
			session.QuoteFP = ""
			return nil
		}
		invalidateQuote(session)
		return nil
	})
}

// SetPaymentMethod records the selected payment method.
func (s *sessionService) SetPaymentMethod(ctx context.Context, sessionID, method string) (domain.CheckoutSession, error) {
	normalized := strings.ToLower(strings.TrimSpace(method))
	if !allowedPaymentMethods[normalized] {
		return domain.CheckoutSession{}, ErrSessionInvalidInput
	}

	return s.mutate(ctx, sessionID, func(session *domain.CheckoutSession) error {
		session.PaymentMethod = normalized
		return nil
	})
}

// SetContactInfo records the shopper's contact data for the identification step.
func (s *sessionService) SetContactInfo(ctx context.Context, sessionID string, contact domain.ContactInfo) (domain.CheckoutSession, error) {
	email := strings.ToLower(strings.TrimSpace(contact.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.CheckoutSession{}, ErrSessionInvalidInput
	}

	return s.mutate(ctx, sessionID, func(session *domain.CheckoutSession) error {
		session.Contact.Email = email
		session.Contact.FullName = strings.TrimSpace(contact.FullName)
		session.Contact.Phone = strings.TrimSpace(contact.Phone)
		return nil
	})
}

// SetObservations records free-text order notes.
func (s *sessionService) SetObservations(ctx context.Context, sessionID, observations string) (domain.CheckoutSession, error) {
	return s.mutate(ctx, sessionID, func(session *domain.CheckoutSession) error {
		session.Observations = strings.TrimSpace(observations)
		return nil
	})
}

// Reset destroys the session after a terminal outcome or explicit cancellation.
func (s *sessionService) Reset(ctx context.Context, sessionID string) error {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return ErrSessionInvalidInput
	}
	if err := s.sessions.Delete(ctx, id); err != nil {
		return translateSessionError(err)
	}
	s.logger(ctx, "checkout.session.reset", map[string]any{"session_id": id})
	return nil
}

// load returns the stored session with cart lines re-synced from the source.
func (s *sessionService) load(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	session, err := s.loadStored(ctx, sessionID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}

	lines, err := s.cart.Snapshot(ctx, session.ShopperID)
	if err != nil {
		return domain.CheckoutSession{}, errors.Join(ErrSessionUnavailable, err)
	}
	session.Cart = lines
	return session, nil
}

func (s *sessionService) loadStored(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return domain.CheckoutSession{}, ErrSessionInvalidInput
	}

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return domain.CheckoutSession{}, translateSessionError(err)
	}
	return session, nil
}

func (s *sessionService) mutate(ctx context.Context, sessionID string, apply func(*domain.CheckoutSession) error) (domain.CheckoutSession, error) {
	session, err := s.loadStored(ctx, sessionID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if err := apply(&session); err != nil {
		return domain.CheckoutSession{}, err
	}
	return s.save(ctx, session)
}

func (s *sessionService) save(ctx context.Context, session domain.CheckoutSession) (domain.CheckoutSession, error) {
	session.UpdatedAt = s.now()
	saved, err := s.sessions.Save(ctx, session)
	if err != nil {
		return domain.CheckoutSession{}, translateSessionError(err)
	}
	return saved, nil
}

func invalidateQuote(session *domain.CheckoutSession) {
	session.ShippingCost = nil
	session.QuoteState = domain.QuoteNotQuoted
	session.QuoteFP = ""
	session.QuoteCurrency = ""
}

func translateSessionError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		if repoErr.IsNotFound() {
			return ErrSessionNotFound
		}
		if repoErr.IsUnavailable() {
			return errors.Join(ErrSessionUnavailable, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Join(ErrSessionUnavailable, err)
}
