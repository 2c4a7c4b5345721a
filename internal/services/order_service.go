package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
	"github.com/tienda-flor/storefront-api/internal/gateways"
	"github.com/tienda-flor/storefront-api/internal/repositories"
)

var (
	// ErrPaymentMethodRequired indicates no payment method has been selected.
	ErrPaymentMethodRequired = errors.New("order: payment method required")
	// ErrShippingQuoteRequired indicates the shipping cost is missing or was
	// quoted against an address that has since changed.
	ErrShippingQuoteRequired = errors.New("order: valid shipping quote required")
	// ErrIdentityUnresolved indicates the shopper is neither authenticated nor
	// an active guest.
	ErrIdentityUnresolved = errors.New("order: identity unresolved")
	// ErrSubmissionInFlight indicates another submission for the session is
	// already running; the attempt is rejected, never queued.
	ErrSubmissionInFlight = errors.New("order: submission already in flight")
	// ErrSessionExpired indicates the order collaborator rejected the caller's
	// credentials. The session is preserved so the shopper can re-authenticate
	// and retry from the same step.
	ErrSessionExpired = errors.New("order: session expired, re-authentication required")
	// ErrSubmissionFailed indicates the order collaborator rejected or could
	// not process the submission; the session stays on the current step.
	ErrSubmissionFailed = errors.New("order: submission failed")
)

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	Sessions   repositories.CheckoutSessionRepository
	Cart       CartSource
	Orders     OrderGateway
	ResultPath string
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	sessions   repositories.CheckoutSessionRepository
	cart       CartSource
	orders     OrderGateway
	resultPath string
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("order service: session repository is required")
	}
	if deps.Cart == nil {
		return nil, errors.New("order service: cart source is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order service: order gateway is required")
	}

	resultPath := strings.TrimSpace(deps.ResultPath)
	if resultPath == "" {
		resultPath = "/checkout/result"
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		sessions:   deps.Sessions,
		cart:       deps.Cart,
		orders:     deps.Orders,
		resultPath: resultPath,
		now:        func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

// Submit validates the session, performs the single order-creation call under
// the per-session in-flight lock, clears the cart source exactly once on
// success, and decides the redirect target by payment method.
func (s *orderService) Submit(ctx context.Context, cmd SubmitOrderCommand) (SubmitResult, error) {
	sessionID := strings.TrimSpace(cmd.SessionID)
	if sessionID == "" {
		return SubmitResult{}, ErrSessionInvalidInput
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return SubmitResult{}, translateSessionError(err)
	}

	lines, err := s.cart.Snapshot(ctx, session.ShopperID)
	if err != nil {
		return SubmitResult{}, errors.Join(ErrSessionUnavailable, err)
	}
	session.Cart = lines

	if err := validateSubmission(session); err != nil {
		return SubmitResult{}, err
	}

	acquired, err := s.sessions.AcquireSubmitLock(ctx, sessionID)
	if err != nil {
		return SubmitResult{}, translateSessionError(err)
	}
	if !acquired {
		return SubmitResult{}, ErrSubmissionInFlight
	}

	submission := domain.OrderSubmission{
		SubmissionID:  ulid.Make().String(),
		SessionID:     sessionID,
		ShopperID:     session.ShopperID,
		GuestID:       session.Contact.GuestID,
		Contact:       session.Contact,
		PaymentMethod: session.PaymentMethod,
		Lines:         lines,
		DeliveryType:  session.DeliveryType,
		Address:       session.Address,
		ShippingCost:  *session.ShippingCost,
		Currency:      session.QuoteCurrency,
		Observations:  session.Observations,
		SubmittedAt:   s.now(),
	}

	receipt, err := s.orders.Create(ctx, submission, cmd.BearerToken)
	if err != nil {
		s.releaseLock(ctx, sessionID)
		if errors.Is(err, gateways.ErrOrderUnauthorized) {
			s.logger(ctx, "checkout.order.unauthorized", map[string]any{"session_id": sessionID})
			return SubmitResult{}, ErrSessionExpired
		}
		s.logger(ctx, "checkout.order.submit_failed", map[string]any{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return SubmitResult{}, errors.Join(ErrSubmissionFailed, err)
	}

	if err := s.cart.Clear(ctx, session.ShopperID); err != nil {
		// The order exists; cart cleanup is retried at finalization.
		s.logger(ctx, "checkout.order.cart_clear_failed", map[string]any{
			"session_id": sessionID,
			"order_id":   receipt.OrderID,
			"error":      err.Error(),
		})
	}
	s.releaseLock(ctx, sessionID)

	result := SubmitResult{Receipt: receipt}
	if receipt.RedirectURL != "" {
		result.RedirectURL = receipt.RedirectURL
	} else {
		params := url.Values{}
		params.Set("orderId", receipt.OrderID)
		params.Set("method", session.PaymentMethod)
		result.ResultPath = fmt.Sprintf("%s?%s", s.resultPath, params.Encode())
	}

	s.logger(ctx, "checkout.order.submitted", map[string]any{
		"session_id":     sessionID,
		"order_id":       receipt.OrderID,
		"payment_method": session.PaymentMethod,
		"external":       result.RedirectURL != "",
	})
	return result, nil
}

func (s *orderService) releaseLock(ctx context.Context, sessionID string) {
	if err := s.sessions.ReleaseSubmitLock(ctx, sessionID); err != nil {
		s.logger(ctx, "checkout.order.lock_release_failed", map[string]any{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

// validateSubmission checks every precondition with a distinct error so the
// caller can surface the exact gap.
func validateSubmission(session domain.CheckoutSession) error {
	if len(session.Cart) == 0 {
		return ErrEmptyCart
	}
	if strings.TrimSpace(session.PaymentMethod) == "" {
		return ErrPaymentMethodRequired
	}
	if !session.IdentityResolved() {
		return ErrIdentityUnresolved
	}
	switch session.DeliveryType {
	case domain.DeliveryPickup:
		if session.ShippingCost == nil {
			return ErrShippingQuoteRequired
		}
	case domain.DeliveryShipping:
		// Re-validate the quote against the current address and cart; stale
		// state is never trusted at submission time.
		if session.ShippingCost == nil ||
			session.QuoteState != domain.QuoteQuoted ||
			session.QuoteFP != domain.QuoteFingerprint(session.Address, session.Cart) {
			return ErrShippingQuoteRequired
		}
	default:
		return ErrShippingQuoteRequired
	}
	return nil
}
