package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
	pfirestore "github.com/tienda-flor/storefront-api/internal/platform/firestore"
	"github.com/tienda-flor/storefront-api/internal/repositories"
)

const sessionCollection = "checkoutSessions"

// SessionRepository persists checkout sessions within Firestore. Cart lines
// are deliberately excluded from the document: the cart source is
// authoritative and lines are re-synced on load.
type SessionRepository struct {
	base     *pfirestore.BaseRepository[sessionDocument]
	provider *pfirestore.Provider
}

// NewSessionRepository constructs a Firestore-backed session repository.
func NewSessionRepository(provider *pfirestore.Provider) (*SessionRepository, error) {
	if provider == nil {
		return nil, errors.New("session repository requires firestore provider")
	}
	return &SessionRepository{
		base:     pfirestore.NewBaseRepository[sessionDocument](provider, sessionCollection),
		provider: provider,
	}, nil
}

// Get loads a session by id. The returned session carries no cart lines.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	if r == nil || r.base == nil {
		return domain.CheckoutSession{}, errors.New("session repository not initialised")
	}
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return domain.CheckoutSession{}, errors.New("session repository: session id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	return sessionFromDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// Save upserts the session document, stripping cart lines.
func (r *SessionRepository) Save(ctx context.Context, session domain.CheckoutSession) (domain.CheckoutSession, error) {
	if r == nil || r.base == nil {
		return domain.CheckoutSession{}, errors.New("session repository not initialised")
	}
	id := strings.TrimSpace(session.ID)
	if id == "" {
		return domain.CheckoutSession{}, errors.New("session repository: session id is required")
	}

	doc := sessionToDocument(session)
	result, err := r.base.Set(ctx, id, doc)
	if err != nil {
		return domain.CheckoutSession{}, err
	}

	saved := session
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// Delete removes the session document.
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	if r == nil || r.base == nil {
		return errors.New("session repository not initialised")
	}
	return r.base.Delete(ctx, strings.TrimSpace(sessionID))
}

// AcquireSubmitLock flips the in-flight flag inside a transaction so that
// exactly one concurrent submission can win it.
func (r *SessionRepository) AcquireSubmitLock(ctx context.Context, sessionID string) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("session repository not initialised")
	}
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return false, errors.New("session repository: session id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return false, err
	}

	acquired := false
	ref := client.Collection(sessionCollection).Doc(id)
	err = client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc sessionDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.SubmitInFlight {
			return nil
		}
		acquired = true
		return tx.Update(ref, []firestore.Update{
			{Path: "submitInFlight", Value: true},
			{Path: "updatedAt", Value: time.Now().UTC()},
		})
	})
	if err != nil {
		return false, pfirestore.WrapError("checkoutSessions.acquireSubmitLock", err)
	}
	return acquired, nil
}

// ReleaseSubmitLock clears the in-flight flag.
func (r *SessionRepository) ReleaseSubmitLock(ctx context.Context, sessionID string) error {
	if r == nil || r.base == nil {
		return errors.New("session repository not initialised")
	}
	_, err := r.base.Update(ctx, strings.TrimSpace(sessionID), []firestore.Update{
		{Path: "submitInFlight", Value: false},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	return err
}

func sessionToDocument(session domain.CheckoutSession) sessionDocument {
	completed := make([]int, 0, len(session.CompletedSteps))
	for step, ok := range session.CompletedSteps {
		if ok {
			completed = append(completed, int(step))
		}
	}

	doc := sessionDocument{
		ShopperID:      strings.TrimSpace(session.ShopperID),
		Step:           int(session.Step),
		CompletedSteps: completed,
		IdentityMode:   string(session.IdentityMode),
		Contact: contactDocument{
			Email:     strings.TrimSpace(session.Contact.Email),
			FullName:  strings.TrimSpace(session.Contact.FullName),
			Phone:     strings.TrimSpace(session.Contact.Phone),
			GuestID:   strings.TrimSpace(session.Contact.GuestID),
			AccountID: strings.TrimSpace(session.Contact.AccountID),
		},
		DeliveryType: string(session.DeliveryType),
		Address: addressDocument{
			Street:       session.Address.Street,
			Number:       session.Address.Number,
			City:         session.Address.City,
			Province:     session.Address.Province,
			PostalCode:   session.Address.PostalCode,
			Floor:        session.Address.Floor,
			Notes:        session.Address.Notes,
			CandidateRef: session.Address.CandidateRef,
		},
		AddressLocked:  session.AddressLocked,
		QuoteState:     string(session.QuoteState),
		QuoteCurrency:  session.QuoteCurrency,
		QuoteFP:        session.QuoteFP,
		PaymentMethod:  strings.TrimSpace(session.PaymentMethod),
		Observations:   session.Observations,
		SubmitInFlight: session.SubmitInFlight,
		CreatedAt:      session.CreatedAt.UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if session.ShippingCost != nil {
		cost := *session.ShippingCost
		doc.ShippingCost = &cost
	}
	return doc
}

func sessionFromDocument(id string, doc sessionDocument, createTime, updateTime time.Time) domain.CheckoutSession {
	completed := make(map[domain.CheckoutStep]bool, len(doc.CompletedSteps))
	for _, step := range doc.CompletedSteps {
		completed[domain.CheckoutStep(step)] = true
	}

	session := domain.CheckoutSession{
		ID:             id,
		ShopperID:      doc.ShopperID,
		Step:           domain.CheckoutStep(doc.Step),
		CompletedSteps: completed,
		Cart:           []domain.CartLine{},
		IdentityMode:   domain.IdentityMode(doc.IdentityMode),
		Contact: domain.ContactInfo{
			Email:     doc.Contact.Email,
			FullName:  doc.Contact.FullName,
			Phone:     doc.Contact.Phone,
			GuestID:   doc.Contact.GuestID,
			AccountID: doc.Contact.AccountID,
		},
		DeliveryType: domain.DeliveryType(doc.DeliveryType),
		Address: domain.AddressFields{
			Street:       doc.Address.Street,
			Number:       doc.Address.Number,
			City:         doc.Address.City,
			Province:     doc.Address.Province,
			PostalCode:   doc.Address.PostalCode,
			Floor:        doc.Address.Floor,
			Notes:        doc.Address.Notes,
			CandidateRef: doc.Address.CandidateRef,
		},
		AddressLocked:  doc.AddressLocked,
		QuoteState:     domain.QuoteState(doc.QuoteState),
		QuoteCurrency:  doc.QuoteCurrency,
		QuoteFP:        doc.QuoteFP,
		PaymentMethod:  doc.PaymentMethod,
		Observations:   doc.Observations,
		SubmitInFlight: doc.SubmitInFlight,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      updateTime,
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = createTime
	}
	if session.IdentityMode == "" {
		session.IdentityMode = domain.IdentityUnknown
	}
	if session.QuoteState == "" {
		session.QuoteState = domain.QuoteNotQuoted
	}
	if doc.ShippingCost != nil {
		cost := *doc.ShippingCost
		session.ShippingCost = &cost
	}
	return session
}

type sessionDocument struct {
	ShopperID      string          `firestore:"shopperId"`
	Step           int             `firestore:"step"`
	CompletedSteps []int           `firestore:"completedSteps"`
	IdentityMode   string          `firestore:"identityMode"`
	Contact        contactDocument `firestore:"contact"`
	DeliveryType   string          `firestore:"deliveryType,omitempty"`
	Address        addressDocument `firestore:"address"`
	AddressLocked  bool            `firestore:"addressLocked"`
	QuoteState     string          `firestore:"quoteState"`
	ShippingCost   *int64          `firestore:"shippingCost,omitempty"`
	QuoteCurrency  string          `firestore:"quoteCurrency,omitempty"`
	QuoteFP        string          `firestore:"quoteFingerprint,omitempty"`
	PaymentMethod  string          `firestore:"paymentMethod,omitempty"`
	Observations   string          `firestore:"observations,omitempty"`
	SubmitInFlight bool            `firestore:"submitInFlight"`
	CreatedAt      time.Time       `firestore:"createdAt"`
	UpdatedAt      time.Time       `firestore:"updatedAt"`
}

type contactDocument struct {
	Email     string `firestore:"email,omitempty"`
	FullName  string `firestore:"fullName,omitempty"`
	Phone     string `firestore:"phone,omitempty"`
	GuestID   string `firestore:"guestId,omitempty"`
	AccountID string `firestore:"accountId,omitempty"`
}

type addressDocument struct {
	Street       string `firestore:"street,omitempty"`
	Number       string `firestore:"number,omitempty"`
	City         string `firestore:"city,omitempty"`
	Province     string `firestore:"province,omitempty"`
	PostalCode   string `firestore:"postalCode,omitempty"`
	Floor        string `firestore:"floor,omitempty"`
	Notes        string `firestore:"notes,omitempty"`
	CandidateRef string `firestore:"candidateRef,omitempty"`
}

var _ repositories.CheckoutSessionRepository = (*SessionRepository)(nil)
