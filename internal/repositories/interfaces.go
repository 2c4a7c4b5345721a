package repositories

import (
	"context"
	"time"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CheckoutSessionRepository persists checkout progress between requests.
// Implementations must exclude cart lines from durable storage: the cart
// source stays authoritative and lines are re-synced on load.
type CheckoutSessionRepository interface {
	Get(ctx context.Context, sessionID string) (domain.CheckoutSession, error)
	Save(ctx context.Context, session domain.CheckoutSession) (domain.CheckoutSession, error)
	Delete(ctx context.Context, sessionID string) error

	// AcquireSubmitLock atomically flips the in-flight submission flag and
	// reports whether this caller won it. A second concurrent submission
	// must observe false.
	AcquireSubmitLock(ctx context.Context, sessionID string) (bool, error)
	ReleaseSubmitLock(ctx context.Context, sessionID string) error
}

// FinalizationRepository records which order ids have already run their
// terminal side effects, so a refresh on the result view cannot repeat them.
type FinalizationRepository interface {
	// MarkFinalized records the order id exactly once, returning false when
	// the marker already existed.
	MarkFinalized(ctx context.Context, orderID string, at time.Time) (bool, error)
	IsFinalized(ctx context.Context, orderID string) (bool, error)
}
