package services

import (
	"context"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
	"github.com/tienda-flor/storefront-api/internal/events"
	"github.com/tienda-flor/storefront-api/internal/gateways"
)

// CartSource exposes the authoritative cart for a shopper. Checkout keeps only
// a projection of it and re-reads on every session load.
type CartSource interface {
	Snapshot(ctx context.Context, shopperID string) ([]domain.CartLine, error)
	Clear(ctx context.Context, shopperID string) error
}

// Geocoder resolves free-text queries into normalized address candidates.
type Geocoder interface {
	Search(ctx context.Context, query string) ([]domain.AddressCandidate, error)
}

// ShippingRater prices a shipment for a destination and cart.
type ShippingRater interface {
	Rate(ctx context.Context, req gateways.RateRequest) (domain.ShippingQuote, error)
}

// GuestProvisioner creates and releases provisional guest identities.
type GuestProvisioner interface {
	Provision(ctx context.Context, contact domain.ContactInfo) (string, error)
	Demote(ctx context.Context, guestID string) error
}

// OrderGateway submits finalized checkouts to the order-creation collaborator.
type OrderGateway interface {
	Create(ctx context.Context, submission domain.OrderSubmission, bearerToken string) (domain.OrderReceipt, error)
}

// OrderFinalizedPublisher emits one event per finalized order.
type OrderFinalizedPublisher interface {
	PublishOrderFinalized(ctx context.Context, message events.OrderFinalizedMessage) (string, error)
}

// SessionService owns the persisted checkout state machine. Every mutation is
// durably written before the call returns.
type SessionService interface {
	Create(ctx context.Context, cmd CreateSessionCommand) (domain.CheckoutSession, error)
	Get(ctx context.Context, sessionID string) (domain.CheckoutSession, error)
	AdvanceTo(ctx context.Context, sessionID string, step domain.CheckoutStep) (domain.CheckoutSession, error)
	CompleteStep(ctx context.Context, sessionID string, step domain.CheckoutStep) (domain.CheckoutSession, error)
	SetCartLines(ctx context.Context, sessionID string, lines []domain.CartLine) (domain.CheckoutSession, error)
	SetAddressField(ctx context.Context, sessionID, field, value string) (domain.CheckoutSession, error)
	SetDeliveryType(ctx context.Context, sessionID string, deliveryType domain.DeliveryType) (domain.CheckoutSession, error)
	SetPaymentMethod(ctx context.Context, sessionID, method string) (domain.CheckoutSession, error)
	SetContactInfo(ctx context.Context, sessionID string, contact domain.ContactInfo) (domain.CheckoutSession, error)
	SetObservations(ctx context.Context, sessionID, observations string) (domain.CheckoutSession, error)
	Reset(ctx context.Context, sessionID string) error
}

// CreateSessionCommand starts a checkout session for a shopper.
type CreateSessionCommand struct {
	ShopperID string
}

// AddressService performs debounced candidate lookup and candidate selection.
type AddressService interface {
	Search(ctx context.Context, cmd SearchAddressCommand) (AddressSearchResult, error)
	SelectCandidate(ctx context.Context, cmd SelectCandidateCommand) (domain.CheckoutSession, error)
	EnableManualEdit(ctx context.Context, sessionID string) (domain.CheckoutSession, error)
}

// SearchAddressCommand carries one free-text lookup keyed to a session.
type SearchAddressCommand struct {
	SessionID string
	Query     string
}

// AddressSearchResult carries candidates, or an advisory when the lookup
// degraded, or a superseded marker when a newer query replaced this one.
type AddressSearchResult struct {
	Candidates []domain.AddressCandidate
	Advisory   string
	Superseded bool
}

// ShippingService owns the quote lifecycle for a session.
type ShippingService interface {
	// RequestQuote schedules a debounced quote for the session's current
	// address. With a zero debounce interval the quote resolves before return.
	RequestQuote(ctx context.Context, sessionID string) (domain.CheckoutSession, error)
	// RetryQuote re-enters quoting from the failed state on explicit request.
	RetryQuote(ctx context.Context, sessionID string) (domain.CheckoutSession, error)
}

// IdentityService resolves how the shopper is identified during checkout.
type IdentityService interface {
	// EnterIdentification records the auth check outcome when the shopper
	// reaches the identification step.
	EnterIdentification(ctx context.Context, cmd EnterIdentificationCommand) (domain.CheckoutSession, error)
	// ChooseGuest provisions a guest identity exactly once per session.
	ChooseGuest(ctx context.Context, cmd ChooseGuestCommand) (domain.CheckoutSession, error)
}

// EnterIdentificationCommand reports the shopper's authentication state.
type EnterIdentificationCommand struct {
	SessionID string
	// AccountID and Email are set when the shopper is authenticated.
	AccountID string
	Email     string
}

// ChooseGuestCommand carries the contact data a guest checks out with.
type ChooseGuestCommand struct {
	SessionID string
	Contact   domain.ContactInfo
}

// OrderService validates the session and performs the single submission call.
type OrderService interface {
	Submit(ctx context.Context, cmd SubmitOrderCommand) (SubmitResult, error)
}

// SubmitOrderCommand triggers order creation for a session.
type SubmitOrderCommand struct {
	SessionID string
	// BearerToken is forwarded to the order collaborator for authenticated shoppers.
	BearerToken string
}

// SubmitResult carries the receipt and the redirect decision.
type SubmitResult struct {
	Receipt domain.OrderReceipt
	// RedirectURL points at the hosted payment page when the method needs one;
	// otherwise ResultPath points at the local result view.
	RedirectURL string
	ResultPath  string
}

// PaymentStatusService maps reported payment outcomes to rendering
// descriptors and applies terminal side effects exactly once.
type PaymentStatusService interface {
	// Resolve is a total mapping; unknown statuses yield the neutral descriptor.
	Resolve(outcome domain.PaymentOutcome) StatusDescriptor
	// Finalize resolves the outcome and, for terminal statuses, runs the
	// one-shot cleanup guarded by the persisted finalization marker.
	Finalize(ctx context.Context, cmd FinalizeCommand) (FinalizeResult, error)
}

// FinalizeCommand carries the reported outcome for a session's order.
type FinalizeCommand struct {
	SessionID string
	Outcome   domain.PaymentOutcome
}

// FinalizeResult reports the descriptor and whether side effects ran now.
type FinalizeResult struct {
	Descriptor     StatusDescriptor
	EffectsApplied bool
}

// Severity classifies a payment outcome for rendering.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityNeutral Severity = "neutral"
)

// StatusAction names the primary action offered on the result view.
type StatusAction string

const (
	ActionViewOrders     StatusAction = "view_orders"
	ActionContactSupport StatusAction = "contact_support"
	ActionRetryPayment   StatusAction = "retry_payment"
	ActionContinue       StatusAction = "continue"
)

// StatusDescriptor is the rendering contract for a payment outcome.
type StatusDescriptor struct {
	Status          string
	Title           string
	Message         string
	Severity        Severity
	ShowBankDetails bool
	BankDetails     *domain.BankDetails
	Action          StatusAction
	Terminal        bool
}
