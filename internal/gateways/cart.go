package gateways

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
)

const cartTimeout = 6 * time.Second

// ErrCartUnavailable signals the cart source could not serve the snapshot.
var ErrCartUnavailable = errors.New("gateways: cart source unavailable")

// CartClient reads and clears the authoritative cart for a shopper. Checkout
// never stores cart lines durably; every session load goes through Snapshot.
type CartClient struct {
	baseURL string
	http    *http.Client
}

// NewCartClient constructs a cart source client.
func NewCartClient(baseURL string, opts ...ClientOption) *CartClient {
	return &CartClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    applyClientOptions(&http.Client{Timeout: cartTimeout}, opts),
	}
}

// Snapshot returns the shopper's current cart lines.
func (c *CartClient) Snapshot(ctx context.Context, shopperID string) ([]domain.CartLine, error) {
	if c == nil || c.baseURL == "" {
		return nil, ErrCartUnavailable
	}
	id := strings.TrimSpace(shopperID)
	if id == "" {
		return nil, errors.New("gateways: shopper id is required")
	}

	endpoint, err := url.JoinPath(c.baseURL, "v1", "carts", id)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return []domain.CartLine{}, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d", ErrCartUnavailable, resp.StatusCode)
	}

	var payload struct {
		Lines []cartLinePayload `json:"lines"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrCartUnavailable, err)
	}

	lines := make([]domain.CartLine, 0, len(payload.Lines))
	for _, p := range payload.Lines {
		lines = append(lines, domain.CartLine{
			ProductID:    strings.TrimSpace(p.ProductID),
			Name:         strings.TrimSpace(p.Name),
			UnitPrice:    p.UnitPrice,
			Quantity:     p.Quantity,
			LineDiscount: p.LineDiscount,
			ImageRef:     strings.TrimSpace(p.ImageRef),
		})
	}
	return lines, nil
}

// Clear empties the shopper's cart. A missing cart is treated as cleared.
func (c *CartClient) Clear(ctx context.Context, shopperID string) error {
	if c == nil || c.baseURL == "" {
		return ErrCartUnavailable
	}
	id := strings.TrimSpace(shopperID)
	if id == "" {
		return errors.New("gateways: shopper id is required")
	}

	endpoint, err := url.JoinPath(c.baseURL, "v1", "carts", id)
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
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", ErrCartUnavailable, resp.StatusCode)
	}
	return nil
}

func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}

type cartLinePayload struct {
	ProductID    string `json:"productId"`
	Name         string `json:"name"`
	UnitPrice    int64  `json:"unitPrice"`
	Quantity     int    `json:"quantity"`
	LineDiscount int64  `json:"lineDiscount"`
	ImageRef     string `json:"imageRef"`
}
