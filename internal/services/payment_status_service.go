package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
	"github.com/tienda-flor/storefront-api/internal/events"
	"github.com/tienda-flor/storefront-api/internal/repositories"
)

// ErrFinalizeInvalidInput indicates the finalize call lacked an order id.
var ErrFinalizeInvalidInput = errors.New("paymentstatus: invalid input")

// statusEntry is one row of the outcome mapping. The table is total: any
// status not listed resolves to defaultStatusEntry.
type statusEntry struct {
	title           string
	message         string
	severity        Severity
	action          StatusAction
	showBankDetails bool
	terminal        bool
}

var statusTable = map[string]statusEntry{
	"approved": {
		title:    "Pago aprobado",
		message:  "Tu pago fue acreditado y el pedido está en preparación.",
		severity: SeveritySuccess,
		action:   ActionViewOrders,
		terminal: true,
	},
	"authorized": {
		title:    "Pago autorizado",
		message:  "El pago fue autorizado y está pendiente de captura.",
		severity: SeverityInfo,
		action:   ActionViewOrders,
	},
	"in_process": {
		title:    "Pago en revisión",
		message:  "El medio de pago está revisando la operación.",
		severity: SeverityWarning,
		action:   ActionViewOrders,
	},
	"pending": {
		title:    "Pago pendiente",
		message:  "Estamos esperando la confirmación del pago.",
		severity: SeverityWarning,
		action:   ActionViewOrders,
	},
	"in_mediation": {
		title:    "Pago en mediación",
		message:  "La operación entró en mediación; contactá a soporte.",
		severity: SeverityWarning,
		action:   ActionContactSupport,
	},
	"rejected": {
		title:    "Pago rechazado",
		message:  "El pago fue rechazado. Probá con otro medio de pago.",
		severity: SeverityError,
		action:   ActionRetryPayment,
		terminal: true,
	},
	"cancelled": {
		title:    "Pago cancelado",
		message:  "La operación fue cancelada.",
		severity: SeverityError,
		action:   ActionRetryPayment,
		terminal: true,
	},
	"refunded": {
		title:    "Pago devuelto",
		message:  "El pago fue devuelto a tu medio de pago.",
		severity: SeverityInfo,
		action:   ActionContactSupport,
		terminal: true,
	},
	"charged_back": {
		title:    "Contracargo registrado",
		message:  "Se registró un contracargo sobre la operación.",
		severity: SeverityError,
		action:   ActionContactSupport,
		terminal: true,
	},
	"transferencia": {
		title:           "Pedido registrado",
		message:         "Transferí el total a la cuenta indicada para confirmar el pedido.",
		severity:        SeverityInfo,
		action:          ActionViewOrders,
		showBankDetails: true,
		terminal:        true,
	},
	"efectivo": {
		title:    "Pedido registrado",
		message:  "Aboná en efectivo al recibir o retirar tu pedido.",
		severity: SeverityInfo,
		action:   ActionViewOrders,
		terminal: true,
	},
	"processing": {
		title:    "Procesando",
		message:  "Estamos procesando el resultado del pago.",
		severity: SeverityNeutral,
		action:   ActionContinue,
	},
}

var defaultStatusEntry = statusEntry{
	title:    "Estado del pago",
	message:  "Recibimos el pedido; te avisaremos cuando el pago se confirme.",
	severity: SeverityNeutral,
	action:   ActionContinue,
}

// PaymentStatusServiceDeps wires the dependencies required by the payment status service.
type PaymentStatusServiceDeps struct {
	Sessions      repositories.CheckoutSessionRepository
	Finalizations repositories.FinalizationRepository
	Cart          CartSource
	Guests        GuestProvisioner
	Publisher     OrderFinalizedPublisher
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type paymentStatusService struct {
	sessions      repositories.CheckoutSessionRepository
	finalizations repositories.FinalizationRepository
	cart          CartSource
	guests        GuestProvisioner
	publisher     OrderFinalizedPublisher
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentStatusService constructs a PaymentStatusService validating required dependencies.
func NewPaymentStatusService(deps PaymentStatusServiceDeps) (PaymentStatusService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("payment status service: session repository is required")
	}
	if deps.Finalizations == nil {
		return nil, errors.New("payment status service: finalization repository is required")
	}
	if deps.Cart == nil {
		return nil, errors.New("payment status service: cart source is required")
	}
	if deps.Guests == nil {
		return nil, errors.New("payment status service: guest provisioner is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentStatusService{
		sessions:      deps.Sessions,
		finalizations: deps.Finalizations,
		cart:          deps.Cart,
		guests:        deps.Guests,
		publisher:     deps.Publisher,
		now:           func() time.Time { return clock().UTC() },
		logger:        logger,
	}, nil
}

// Resolve maps the reported outcome to its rendering descriptor. The mapping
// is total: unrecognized statuses fall into the neutral default, never error.
func (s *paymentStatusService) Resolve(outcome domain.PaymentOutcome) StatusDescriptor {
	status := strings.ToLower(strings.TrimSpace(outcome.Status))
	entry, ok := statusTable[status]
	if !ok {
		entry = defaultStatusEntry
	}

	descriptor := StatusDescriptor{
		Status:   status,
		Title:    entry.title,
		Message:  entry.message,
		Severity: entry.severity,
		Action:   entry.action,
		Terminal: entry.terminal,
	}
	if entry.showBankDetails && outcome.BankDetails != nil {
		descriptor.ShowBankDetails = true
		descriptor.BankDetails = outcome.BankDetails
	}
	return descriptor
}

// Finalize resolves the outcome and, for terminal statuses, runs the one-shot
// cleanup: clear the checkout session, clear the cart source, and demote an
// active guest. The persisted marker keyed by order id guarantees a refresh
// of the result view cannot repeat the effects.
func (s *paymentStatusService) Finalize(ctx context.Context, cmd FinalizeCommand) (FinalizeResult, error) {
	descriptor := s.Resolve(cmd.Outcome)
	if !descriptor.Terminal {
		return FinalizeResult{Descriptor: descriptor}, nil
	}

	orderID := strings.TrimSpace(cmd.Outcome.OrderID)
	if orderID == "" {
		return FinalizeResult{}, ErrFinalizeInvalidInput
	}

	won, err := s.finalizations.MarkFinalized(ctx, orderID, s.now())
	if err != nil {
		return FinalizeResult{}, translateSessionError(err)
	}
	if !won {
		return FinalizeResult{Descriptor: descriptor}, nil
	}

	s.applyTerminalEffects(ctx, cmd, descriptor)
	return FinalizeResult{Descriptor: descriptor, EffectsApplied: true}, nil
}

// applyTerminalEffects is best-effort after the marker is won: each failure is
// logged and the remaining effects still run, since the marker already records
// the order as finalized.
func (s *paymentStatusService) applyTerminalEffects(ctx context.Context, cmd FinalizeCommand, descriptor StatusDescriptor) {
	orderID := strings.TrimSpace(cmd.Outcome.OrderID)
	sessionID := strings.TrimSpace(cmd.SessionID)

	var session domain.CheckoutSession
	haveSession := false
	if sessionID != "" {
		loaded, err := s.sessions.Get(ctx, sessionID)
		if err == nil {
			session = loaded
			haveSession = true
		} else if !errors.Is(translateSessionError(err), ErrSessionNotFound) {
			s.logger(ctx, "checkout.finalize.session_load_failed", map[string]any{
				"order_id":   orderID,
				"session_id": sessionID,
				"error":      err.Error(),
			})
		}
	}

	if haveSession {
		if err := s.cart.Clear(ctx, session.ShopperID); err != nil {
			s.logger(ctx, "checkout.finalize.cart_clear_failed", map[string]any{
				"order_id": orderID,
				"error":    err.Error(),
			})
		}
		if session.IdentityMode == domain.IdentityGuestActive && session.Contact.GuestID != "" {
			if err := s.guests.Demote(ctx, session.Contact.GuestID); err != nil {
				s.logger(ctx, "checkout.finalize.guest_demote_failed", map[string]any{
					"order_id": orderID,
					"guest_id": session.Contact.GuestID,
					"error":    err.Error(),
				})
			}
		}
		if err := s.sessions.Delete(ctx, sessionID); err != nil {
			s.logger(ctx, "checkout.finalize.session_delete_failed", map[string]any{
				"order_id":   orderID,
				"session_id": sessionID,
				"error":      err.Error(),
			})
		}
	}

	if s.publisher != nil {
		message := events.OrderFinalizedMessage{
			OrderID:       orderID,
			SessionID:     sessionID,
			ShopperID:     session.ShopperID,
			PaymentMethod: session.PaymentMethod,
			PaymentStatus: descriptor.Status,
			FinalizedAt:   s.now(),
		}
		if _, err := s.publisher.PublishOrderFinalized(ctx, message); err != nil {
			s.logger(ctx, "checkout.finalize.publish_failed", map[string]any{
				"order_id": orderID,
				"error":    err.Error(),
			})
		}
	}

	s.logger(ctx, "checkout.finalize.applied", map[string]any{
		"order_id": orderID,
		"status":   descriptor.Status,
	})
}
