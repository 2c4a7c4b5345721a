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

	domain "github.com/tienda-flor/storefront-api/internal/domain"
)

const shippingTimeout = 8 * time.Second

var (
	// ErrShippingUnavailable signals a transport failure or provider outage.
	ErrShippingUnavailable = errors.New("gateways: shipping rater unavailable")
	// ErrShippingRejected signals the provider refused to rate the shipment,
	// typically an unserviceable address.
	ErrShippingRejected = errors.New("gateways: shipping rate rejected")
)

// ShippingClient obtains shipping rates for a destination and cart.
type ShippingClient struct {
	baseURL string
	http    *http.Client
}

// RateRequest carries the inputs the rater prices against.
type RateRequest struct {
	Address  domain.AddressFields
	Lines    []domain.CartLine
	Currency string
}

// NewShippingClient constructs a shipping rate client.
func NewShippingClient(baseURL string, opts ...ClientOption) *ShippingClient {
	return &ShippingClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    applyClientOptions(&http.Client{Timeout: shippingTimeout}, opts),
	}
}

// Rate prices the shipment. The returned quote carries the fingerprint of the
// address it was computed for.
func (c *ShippingClient) Rate(ctx context.Context, req RateRequest) (domain.ShippingQuote, error) {
	if c == nil || c.baseURL == "" {
		return domain.ShippingQuote{}, ErrShippingUnavailable
	}

	endpoint, err := url.JoinPath(c.baseURL, "v1", "rates")
	if err != nil {
		return domain.ShippingQuote{}, err
	}

	items := make([]rateItemPayload, 0, len(req.Lines))
	for _, line := range req.Lines {
		items = append(items, rateItemPayload{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
		})
	}
	payload, err := json.Marshal(ratePayload{
		Street:     strings.TrimSpace(req.Address.Street),
		Number:     strings.TrimSpace(req.Address.Number),
		City:       strings.TrimSpace(req.Address.City),
		Province:   strings.TrimSpace(req.Address.Province),
		PostalCode: strings.TrimSpace(req.Address.PostalCode),
		Currency:   strings.TrimSpace(req.Currency),
		Items:      items,
	})
	if err != nil {
		return domain.ShippingQuote{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return domain.ShippingQuote{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return domain.ShippingQuote{}, err
		}
		return domain.ShippingQuote{}, fmt.Errorf("%w: %v", ErrShippingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return domain.ShippingQuote{}, fmt.Errorf("%w: status %d", ErrShippingUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return domain.ShippingQuote{}, fmt.Errorf("%w: status %d: %s", ErrShippingRejected, resp.StatusCode, drainError(resp.Body))
	}

	var rate rateResponsePayload
	if err := json.NewDecoder(resp.Body).Decode(&rate); err != nil {
		return domain.ShippingQuote{}, fmt.Errorf("%w: decode: %v", ErrShippingUnavailable, err)
	}
	if rate.Cost < 0 {
		return domain.ShippingQuote{}, fmt.Errorf("%w: negative cost", ErrShippingRejected)
	}

	currency := strings.TrimSpace(rate.Currency)
	if currency == "" {
		currency = strings.TrimSpace(req.Currency)
	}
	return domain.ShippingQuote{
		Cost:        rate.Cost,
		Currency:    currency,
		Fingerprint: req.Address.Fingerprint(),
		QuotedAt:    time.Now().UTC(),
	}, nil
}

type ratePayload struct {
	Street     string            `json:"street"`
	Number     string            `json:"number"`
	City       string            `json:"city"`
	Province   string            `json:"province"`
	PostalCode string            `json:"postalCode"`
	Currency   string            `json:"currency,omitempty"`
	Items      []rateItemPayload `json:"items"`
}

type rateItemPayload struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type rateResponsePayload struct {
	Cost     int64  `json:"cost"`
	Currency string `json:"currency"`
}
