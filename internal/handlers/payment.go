package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
	"github.com/tienda-flor/storefront-api/internal/platform/httpx"
	"github.com/tienda-flor/storefront-api/internal/services"
)

// PaymentHandlers serves the payment result view. The hosted payment page
// redirects the shopper here with the outcome encoded in query parameters.
type PaymentHandlers struct {
	status services.PaymentStatusService
	// transferDetails are the store's bank coordinates shown for transfers.
	transferDetails *domain.BankDetails
}

// NewPaymentHandlers constructs the payment endpoint group.
func NewPaymentHandlers(status services.PaymentStatusService, transferDetails *domain.BankDetails) *PaymentHandlers {
	return &PaymentHandlers{status: status, transferDetails: transferDetails}
}

// Routes registers the payment endpoints under the provided router.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/result", h.result)
}

type paymentResultResponse struct {
	Status          string               `json:"status"`
	Title           string               `json:"title"`
	Message         string               `json:"message"`
	Severity        string               `json:"severity"`
	Action          string               `json:"action"`
	Terminal        bool                 `json:"terminal"`
	ShowBankDetails bool                 `json:"showBankDetails"`
	BankDetails     *bankDetailsResponse `json:"bankDetails,omitempty"`
	EffectsApplied  bool                 `json:"effectsApplied"`
}

type bankDetailsResponse struct {
	BankName  string `json:"bankName"`
	CBU       string `json:"cbu"`
	Alias     string `json:"alias,omitempty"`
	Holder    string `json:"holder,omitempty"`
	Reference string `json:"reference,omitempty"`
}

func (h *PaymentHandlers) result(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	outcome := domain.PaymentOutcome{
		Status:  strings.TrimSpace(query.Get("status")),
		OrderID: strings.TrimSpace(query.Get("orderId")),
	}
	if strings.EqualFold(outcome.Status, "transferencia") {
		outcome.BankDetails = h.transferDetails
	}

	result, err := h.status.Finalize(ctx, services.FinalizeCommand{
		SessionID: strings.TrimSpace(query.Get("sessionId")),
		Outcome:   outcome,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	resp := paymentResultResponse{
		Status:          result.Descriptor.Status,
		Title:           result.Descriptor.Title,
		Message:         result.Descriptor.Message,
		Severity:        string(result.Descriptor.Severity),
		Action:          string(result.Descriptor.Action),
		Terminal:        result.Descriptor.Terminal,
		ShowBankDetails: result.Descriptor.ShowBankDetails,
		EffectsApplied:  result.EffectsApplied,
	}
	if result.Descriptor.ShowBankDetails && result.Descriptor.BankDetails != nil {
		d := result.Descriptor.BankDetails
		resp.BankDetails = &bankDetailsResponse{
			BankName:  d.BankName,
			CBU:       d.CBU,
			Alias:     d.Alias,
			Holder:    d.Holder,
			Reference: d.Reference,
		}
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrFinalizeInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSessionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout dependencies are unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_status_error", "failed to resolve payment status", http.StatusInternalServerError))
	}
}
