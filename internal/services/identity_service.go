package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
	"github.com/tienda-flor/storefront-api/internal/repositories"
)

var (
	// ErrGuestProvisioning indicates the guest identity could not be created.
	// The shopper may retry; the step is never advanced on this error.
	ErrGuestProvisioning = errors.New("identity: guest provisioning failed")
	// ErrIdentityBlocked indicates the shopper must authenticate or explicitly
	// choose guest before proceeding.
	ErrIdentityBlocked = errors.New("identity: blocked pending choice")
)

// IdentityServiceDeps wires the dependencies required by the identity service.
type IdentityServiceDeps struct {
	Sessions repositories.CheckoutSessionRepository
	Guests   GuestProvisioner
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type identityService struct {
	sessions repositories.CheckoutSessionRepository
	guests   GuestProvisioner
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)

	// provisioning serialises guest creation per session so a double-click
	// cannot produce two provisioning calls.
	mu           sync.Mutex
	provisioning map[string]*sync.Mutex
}

// NewIdentityService constructs an IdentityService validating required dependencies.
func NewIdentityService(deps IdentityServiceDeps) (IdentityService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("identity service: session repository is required")
	}
	if deps.Guests == nil {
		return nil, errors.New("identity service: guest provisioner is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &identityService{
		sessions:     deps.Sessions,
		guests:       deps.Guests,
		now:          func() time.Time { return clock().UTC() },
		logger:       logger,
		provisioning: make(map[string]*sync.Mutex),
	}, nil
}

// EnterIdentification records the shopper's auth state when reaching the
// identification step. Authenticated shoppers resolve immediately; everyone
// else is blocked until they authenticate or explicitly choose guest. A guest
// who logs in mid-flow keeps the provisional guest id for order attribution.
func (s *identityService) EnterIdentification(ctx context.Context, cmd EnterIdentificationCommand) (domain.CheckoutSession, error) {
	sessionID := strings.TrimSpace(cmd.SessionID)
	if sessionID == "" {
		return domain.CheckoutSession{}, ErrSessionInvalidInput
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.CheckoutSession{}, translateSessionError(err)
	}

	accountID := strings.TrimSpace(cmd.AccountID)
	if accountID != "" {
		session.IdentityMode = domain.IdentityAuthenticated
		session.Contact.AccountID = accountID
		if email := strings.ToLower(strings.TrimSpace(cmd.Email)); email != "" {
			session.Contact.Email = email
		}
	} else if !session.IdentityResolved() {
		session.IdentityMode = domain.IdentityBlocked
	}

	session.UpdatedAt = s.now()
	saved, err := s.sessions.Save(ctx, session)
	if err != nil {
		return domain.CheckoutSession{}, translateSessionError(err)
	}
	s.logger(ctx, "checkout.identity.entered", map[string]any{
		"session_id": sessionID,
		"mode":       string(saved.IdentityMode),
	})
	return saved, nil
}

// ChooseGuest provisions a provisional guest identity exactly once per
// session. The outcome of the first successful call is cached on the session;
// repeated invocations return it without another provisioning call.
func (s *identityService) ChooseGuest(ctx context.Context, cmd ChooseGuestCommand) (domain.CheckoutSession, error) {
	sessionID := strings.TrimSpace(cmd.SessionID)
	if sessionID == "" {
		return domain.CheckoutSession{}, ErrSessionInvalidInput
	}
	email := strings.ToLower(strings.TrimSpace(cmd.Contact.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.CheckoutSession{}, ErrSessionInvalidInput
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.CheckoutSession{}, translateSessionError(err)
	}

	if session.IdentityMode == domain.IdentityGuestActive && session.Contact.GuestID != "" {
		return session, nil
	}
	if session.IdentityMode == domain.IdentityAuthenticated {
		return session, nil
	}

	session.IdentityMode = domain.IdentityGuestChosen
	session.Contact.Email = email
	session.Contact.FullName = strings.TrimSpace(cmd.Contact.FullName)
	session.Contact.Phone = strings.TrimSpace(cmd.Contact.Phone)

	guestID, err := s.guests.Provision(ctx, session.Contact)
	if err != nil {
		session.UpdatedAt = s.now()
		if _, saveErr := s.sessions.Save(ctx, session); saveErr != nil {
			s.logger(ctx, "checkout.identity.guest_persist_failed", map[string]any{
				"session_id": sessionID,
				"error":      saveErr.Error(),
			})
		}
		s.logger(ctx, "checkout.identity.guest_provision_failed", map[string]any{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return domain.CheckoutSession{}, errors.Join(ErrGuestProvisioning, err)
	}

	session.IdentityMode = domain.IdentityGuestActive
	session.Contact.GuestID = guestID
	session.UpdatedAt = s.now()

	saved, err := s.sessions.Save(ctx, session)
	if err != nil {
		return domain.CheckoutSession{}, translateSessionError(err)
	}
	s.logger(ctx, "checkout.identity.guest_active", map[string]any{
		"session_id": sessionID,
		"guest_id":   guestID,
	})
	return saved, nil
}

func (s *identityService) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.provisioning[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.provisioning[sessionID] = lock
	}
	return lock
}
