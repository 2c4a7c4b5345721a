package gateways

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
)

const (
	identityTimeout   = 8 * time.Second
	idempotencyHeader = "Idempotency-Key"
)

var (
	// ErrIdentityUnavailable signals the identity collaborator is unreachable.
	ErrIdentityUnavailable = errors.New("gateways: identity service unavailable")
	// ErrGuestRejected signals the collaborator refused to provision a guest,
	// for example when the email belongs to a registered account.
	ErrGuestRejected = errors.New("gateways: guest provisioning rejected")
)

// GuestClient provisions transient guest identities against the identity
// collaborator. Each call carries an idempotency key so retried requests
// resolve to the same guest.
type GuestClient struct {
	baseURL string
	http    *http.Client
	newKey  func() string
}

// NewGuestClient constructs a guest provisioning client.
func NewGuestClient(baseURL string, opts ...ClientOption) *GuestClient {
	return &GuestClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    applyClientOptions(&http.Client{Timeout: identityTimeout}, opts),
		newKey:  uuid.NewString,
	}
}

// Provision creates a guest identity for the contact and returns its id.
func (c *GuestClient) Provision(ctx context.Context, contact domain.ContactInfo) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", ErrIdentityUnavailable
	}
	email := strings.ToLower(strings.TrimSpace(contact.Email))
	if email == "" {
		return "", errors.New("gateways: guest email is required")
	}

	endpoint, err := url.JoinPath(c.baseURL, "v1", "guests")
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(guestPayload{
		Email:    email,
		FullName: strings.TrimSpace(contact.FullName),
		Phone:    strings.TrimSpace(contact.Phone),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(idempotencyHeader, c.newKey())

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: status %d", ErrIdentityUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: status %d: %s", ErrGuestRejected, resp.StatusCode, drainError(resp.Body))
	}

	var created struct {
		GuestID string `json:"guestId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrIdentityUnavailable, err)
	}
	guestID := strings.TrimSpace(created.GuestID)
	if guestID == "" {
		return "", fmt.Errorf("%w: empty guest id", ErrIdentityUnavailable)
	}
	return guestID, nil
}

// Demote releases a guest identity after its order has been finalized.
// Missing guests are treated as already demoted.
func (c *GuestClient) Demote(ctx context.Context, guestID string) error {
	if c == nil || c.baseURL == "" {
		return ErrIdentityUnavailable
	}
	id := strings.TrimSpace(guestID)
	if id == "" {
		return nil
	}

	endpoint, err := url.JoinPath(c.baseURL, "v1", "guests", id)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", ErrIdentityUnavailable, resp.StatusCode)
	}
	return nil
}

type guestPayload struct {
	Email    string `json:"email"`
	FullName string `json:"fullName,omitempty"`
	Phone    string `json:"phone,omitempty"`
}
