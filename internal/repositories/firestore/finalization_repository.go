package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	pfirestore "github.com/tienda-flor/storefront-api/internal/platform/firestore"
	"github.com/tienda-flor/storefront-api/internal/repositories"
)

const finalizationCollection = "orderFinalizations"

// FinalizationRepository stores one marker document per finalized order.
// Create-if-absent semantics give the exactly-once guarantee: the first
// caller wins, repeats observe AlreadyExists.
type FinalizationRepository struct {
	base *pfirestore.BaseRepository[finalizationDocument]
}

// NewFinalizationRepository constructs a Firestore-backed marker store.
func NewFinalizationRepository(provider *pfirestore.Provider) (*FinalizationRepository, error) {
	if provider == nil {
		return nil, errors.New("finalization repository requires firestore provider")
	}
	return &FinalizationRepository{
		base: pfirestore.NewBaseRepository[finalizationDocument](provider, finalizationCollection),
	}, nil
}

// MarkFinalized creates the marker document, returning false when a marker
// for the order already exists.
func (r *FinalizationRepository) MarkFinalized(ctx context.Context, orderID string, at time.Time) (bool, error) {
	if r == nil || r.base == nil {
		return false, errors.New("finalization repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return false, errors.New("finalization repository: order id is required")
	}

	_, err := r.base.Create(ctx, id, finalizationDocument{FinalizedAt: at.UTC()})
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsFinalized reports whether a marker exists for the order.
func (r *FinalizationRepository) IsFinalized(ctx context.Context, orderID string) (bool, error) {
	if r == nil || r.base == nil {
		return false, errors.New("finalization repository not initialised")
	}

	_, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

type finalizationDocument struct {
	FinalizedAt time.Time `firestore:"finalizedAt"`
}

var _ repositories.FinalizationRepository = (*FinalizationRepository)(nil)
