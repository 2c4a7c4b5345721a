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

const orderTimeout = 15 * time.Second

var (
	// ErrOrderUnauthorized signals the order collaborator rejected the caller's
	// credentials. The checkout session must be preserved so the shopper can
	// re-authenticate and retry without losing progress.
	ErrOrderUnauthorized = errors.New("gateways: order creation unauthorized")
	// ErrOrderUnavailable signals a transport failure or collaborator outage.
	ErrOrderUnavailable = errors.New("gateways: order service unavailable")
	// ErrOrderRejected signals the collaborator refused the submission payload.
	ErrOrderRejected = errors.New("gateways: order rejected")
)

// OrderClient submits finalized checkouts to the order-creation collaborator.
type OrderClient struct {
	baseURL string
	http    *http.Client
}

// NewOrderClient constructs an order submission client.
func NewOrderClient(baseURL string, opts ...ClientOption) *OrderClient {
	return &OrderClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    applyClientOptions(&http.Client{Timeout: orderTimeout}, opts),
	}
}

// Create submits the order. The submission id doubles as the idempotency key
// so a retried request cannot create a second order.
func (c *OrderClient) Create(ctx context.Context, submission domain.OrderSubmission, bearerToken string) (domain.OrderReceipt, error) {
	if c == nil || c.baseURL == "" {
		return domain.OrderReceipt{}, ErrOrderUnavailable
	}

	endpoint, err := url.JoinPath(c.baseURL, "v1", "orders")
	if err != nil {
		return domain.OrderReceipt{}, err
	}

	payload, err := json.Marshal(submissionPayload(submission))
	if err != nil {
		return domain.OrderReceipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return domain.OrderReceipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(idempotencyHeader, submission.SubmissionID)
	if token := strings.TrimSpace(bearerToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return domain.OrderReceipt{}, err
		}
		return domain.OrderReceipt{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.OrderReceipt{}, ErrOrderUnauthorized
	case resp.StatusCode >= 500:
		return domain.OrderReceipt{}, fmt.Errorf("%w: status %d", ErrOrderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return domain.OrderReceipt{}, fmt.Errorf("%w: status %d: %s", ErrOrderRejected, resp.StatusCode, drainError(resp.Body))
	}

	var created struct {
		OrderID       string `json:"orderId"`
		PaymentMethod string `json:"paymentMethod"`
		RedirectURL   string `json:"redirectUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("%w: decode: %v", ErrOrderUnavailable, err)
	}
	if strings.TrimSpace(created.OrderID) == "" {
		return domain.OrderReceipt{}, fmt.Errorf("%w: empty order id", ErrOrderUnavailable)
	}

	return domain.OrderReceipt{
		OrderID:       strings.TrimSpace(created.OrderID),
		PaymentMethod: strings.TrimSpace(created.PaymentMethod),
		RedirectURL:   strings.TrimSpace(created.RedirectURL),
	}, nil
}

func submissionPayload(submission domain.OrderSubmission) orderPayload {
	lines := make([]orderLinePayload, 0, len(submission.Lines))
	for _, line := range submission.Lines {
		lines = append(lines, orderLinePayload{
			ProductID:    line.ProductID,
			Name:         line.Name,
			UnitPrice:    line.UnitPrice,
			Quantity:     line.Quantity,
			LineDiscount: line.LineDiscount,
		})
	}
	return orderPayload{
		SubmissionID:  submission.SubmissionID,
		SessionID:     submission.SessionID,
		ShopperID:     submission.ShopperID,
		GuestID:       submission.GuestID,
		Email:         strings.TrimSpace(submission.Contact.Email),
		FullName:      strings.TrimSpace(submission.Contact.FullName),
		Phone:         strings.TrimSpace(submission.Contact.Phone),
		PaymentMethod: submission.PaymentMethod,
		Lines:         lines,
		DeliveryType:  string(submission.DeliveryType),
		Address: addressPayload{
			Street:     submission.Address.Street,
			Number:     submission.Address.Number,
			City:       submission.Address.City,
			Province:   submission.Address.Province,
			PostalCode: submission.Address.PostalCode,
			Floor:      submission.Address.Floor,
			Notes:      submission.Address.Notes,
		},
		ShippingCost: submission.ShippingCost,
		Currency:     submission.Currency,
		Observations: submission.Observations,
		SubmittedAt:  submission.SubmittedAt.UTC().Format(time.RFC3339),
	}
}

type orderPayload struct {
	SubmissionID  string             `json:"submissionId"`
	SessionID     string             `json:"sessionId"`
	ShopperID     string             `json:"shopperId"`
	GuestID       string             `json:"guestId,omitempty"`
	Email         string             `json:"email"`
	FullName      string             `json:"fullName"`
	Phone         string             `json:"phone,omitempty"`
	PaymentMethod string             `json:"paymentMethod"`
	Lines         []orderLinePayload `json:"lines"`
	DeliveryType  string             `json:"deliveryType"`
	Address       addressPayload     `json:"address"`
	ShippingCost  int64              `json:"shippingCost"`
	Currency      string             `json:"currency"`
	Observations  string             `json:"observations,omitempty"`
	SubmittedAt   string             `json:"submittedAt"`
}

type orderLinePayload struct {
	ProductID    string `json:"productId"`
	Name         string `json:"name"`
	UnitPrice    int64  `json:"unitPrice"`
	Quantity     int    `json:"quantity"`
	LineDiscount int64  `json:"lineDiscount,omitempty"`
}

type addressPayload struct {
	Street     string `json:"street"`
	Number     string `json:"number"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postalCode"`
	Floor      string `json:"floor,omitempty"`
	Notes      string `json:"notes,omitempty"`
}
