package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
	"github.com/tienda-flor/storefront-api/internal/platform/auth"
	"github.com/tienda-flor/storefront-api/internal/platform/httpx"
	"github.com/tienda-flor/storefront-api/internal/platform/requestctx"
	"github.com/tienda-flor/storefront-api/internal/services"
)

const maxCheckoutBodySize = 8 * 1024

// CheckoutHandlers exposes the checkout session flow over HTTP.
type CheckoutHandlers struct {
	sessions services.SessionService
	address  services.AddressService
	shipping services.ShippingService
	identity services.IdentityService
	orders   services.OrderService
}

// NewCheckoutHandlers constructs the checkout endpoint group.
func NewCheckoutHandlers(
	sessions services.SessionService,
	address services.AddressService,
	shipping services.ShippingService,
	identity services.IdentityService,
	orders services.OrderService,
) *CheckoutHandlers {
	return &CheckoutHandlers{
		sessions: sessions,
		address:  address,
		shipping: shipping,
		identity: identity,
		orders:   orders,
	}
}

// Routes registers the checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/sessions", h.createSession)
	r.Route("/sessions/{sessionID}", func(sr chi.Router) {
		sr.Get("/", h.getSession)
		sr.Delete("/", h.resetSession)
		sr.Post("/advance", h.advance)
		sr.Post("/complete", h.complete)
		sr.Put("/cart", h.setCartLines)
		sr.Patch("/address", h.setAddressField)
		sr.Post("/address/search", h.searchAddress)
		sr.Post("/address/candidate", h.selectCandidate)
		sr.Post("/address/manual-edit", h.enableManualEdit)
		sr.Put("/delivery", h.setDeliveryType)
		sr.Post("/quote", h.requestQuote)
		sr.Post("/quote/retry", h.retryQuote)
		sr.Put("/contact", h.setContact)
		sr.Post("/identity/enter", h.enterIdentification)
		sr.Post("/identity/guest", h.chooseGuest)
		sr.Put("/payment-method", h.setPaymentMethod)
		sr.Put("/observations", h.setObservations)
		sr.Post("/submit", h.submit)
	})
}

type createSessionRequest struct {
	ShopperID string `json:"shopperId"`
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createSessionRequest
	if body, err := readLimitedBody(r, maxCheckoutBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	shopperID := strings.TrimSpace(req.ShopperID)
	if id := requestctx.ShopperID(ctx); id != "" {
		shopperID = id
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		shopperID = identity.ShopperID
	}
	if shopperID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shopperId is required", http.StatusBadRequest))
		return
	}

	session, err := h.sessions.Create(ctx, services.CreateSessionCommand{ShopperID: shopperID})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, sessionResponseFrom(session))
}

func (h *CheckoutHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, err := h.sessions.Get(ctx, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sessionResponseFrom(session))
}

func (h *CheckoutHandlers) resetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.sessions.Reset(ctx, chi.URLParam(r, "sessionID")); err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusNoContent, nil)
}

type stepRequest struct {
	Step int `json:"step"`
}

func (h *CheckoutHandlers) advance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeJSON[stepRequest](ctx, w, r)
	if !ok {
		return
	}
	session, err := h.sessions.AdvanceTo(ctx, chi.URLParam(r, "sessionID"), domain.CheckoutStep(req.Step))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sessionResponseFrom(session))
}

func (h *CheckoutHandlers) complete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeJSON[stepRequest](ctx, w, r)
	if !ok {
		return
	}
	session, err := h.sessions.CompleteStep(ctx, chi.URLParam(r, "sessionID"), domain.CheckoutStep(req.Step))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sessionResponseFrom(session))
}

type cartLinesRequest struct {
	Lines []cartLinePayload `json:"lines"`
}

type cartLinePayload struct {
	ProductID    string `json:"productId"`
	Name         string `json:"name"`
	UnitPrice    int64  `json:"unitPrice"`
	Quantity     int    `json:"quantity"`
	LineDiscount int64  `json:"lineDiscount"`
	ImageRef     string `json:"imageRef"`
}

func (h *CheckoutHandlers) setCartLines(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeJSON[cartLinesRequest](ctx, w, r)
	if !ok {
		return
	}

	lines := make([]domain.CartLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, domain.CartLine{
			ProductID:    strings.TrimSpace(l.ProductID),
			Name:         strings.TrimSpace(l.Name),
			UnitPrice:    l.UnitPrice,
			Quantity:     l.Quantity,
			LineDiscount: l.LineDiscount,
			ImageRef:     strings.TrimSpace(l.ImageRef),
		})
	}

	session, err := h.sessions.SetCartLines(ctx, chi.URLParam(r, "sessionID"), lines)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sessionResponseFrom(session))
}

type addressFieldRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (h *CheckoutHandlers) setAddressField(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeJSON[addressFieldRequest](ctx, w, r)
	if !ok {
		return
	}
	session, err := h.sessions.SetAddressField(ctx, chi.URLParam(r, "sessionID"), req.Field, req.Value)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sessionResponseFrom(session))
}

type addressSearchRequest struct {
	Query string `json:"query"`
}

type addressSearchResponse struct {
	Candidates []candidateResponse `json:"candidates"`
	Advisory   string              `json:"advisory,omitempty"`
	Superseded bool                `json:"superseded,omitempty"`
}

type candidateResponse struct {
	ID               string  `json:"id"`
	FormattedAddress string  `json:"formattedAddress"`
	Street           string  `json:"street"`
	Number           string  `json:"number"`
	City             string  `json:"city"`
	Province         string  `json:"province"`
	PostalCode       string  `json:"postalCode"`
	Lat              float64 `json:"lat"`
	Lon              float64 `json:"lon"`
}

func (h *CheckoutHandlers) searchAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeJSON[addressSearchRequest](ctx, w, r)
	if !ok {
		return
	}

	result, err := h.address.Search(ctx, services.SearchAddressCommand{
		SessionID: chi.URLParam(r, "sessionID"),
		Query:     req.Query,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	resp := addressSearchResponse{
		Candidates: make([]candidateResponse, 0, len(result.Candidates)),
		Advisory:   result.Advisory,
		Superseded: result.Superseded,
	}
	for _, c := range result.Candidates {
		resp.Candidates = append(resp.Candidates, candidateResponse{
			ID:               c.ID,
			FormattedAddress: c.FormattedAddress,
			Street:           c.Street,
			Number:           c.Number,
			City:             c.City,
			Province:         c.Province,
			PostalCode:       c.PostalCode,
			Lat:              c.Lat,
			Lon:              c.Lon,
		})
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

type selectCandidateRequest struct {
	Candidate candidateResponse `json:"candidate"`
}

func (h *CheckoutHandlers) selectCandidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeJSON[selectCandidateRequest](ctx, w, r)
	if !ok {
		return
	}

	session, err := h.address.SelectCandidate(ctx, services.SelectCandidateCommand{
		SessionID: chi.URLParam(r, "sessionID"),
		Candidate: domain.AddressCandidate{
			ID:               strings.TrimSpace(req.Candidate.ID),
			FormattedAddress: req.Candidate.FormattedAddress,
			Street:           req.Candidate.Street,
			Number:           req.Candidate.Number,
			City:             req.Candidate.City,
			Province:         req.Candidate.Province,
			PostalCode:       req.Candidate.PostalCode,
			Lat:              req.Candidate.Lat,
			Lon:              req.Candidate.Lon,
		},
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sessionResponseFrom(session))
}

func (h *CheckoutHandlers) enableManualEdit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, err := h.address.EnableManualEdit(ctx, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sessionResponseFrom(session))
}

type deliveryTypeRequest struct {
	Type string `json:"type"`
}

func (h *CheckoutHandlers) setDeliveryType(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeJSON[deliveryTypeRequest](ctx, w, r)
	if !ok {
		return
	}
	session, err := h.sessions.SetDeliveryType(ctx, chi.URLParam(r, "sessionID"), domain.DeliveryType(strings.ToLower(strings.TrimSpace(req.Type))))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sessionResponseFrom(session))
}

func (h *CheckoutHandlers) requestQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, err := h.shipping.RequestQuote(ctx, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sessionResponseFrom(session))
}

func (h *CheckoutHandlers) retryQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, err := h.shipping.RetryQuote(ctx, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sessionResponseFrom(session))
}

type contactRequest struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
}

func (h *CheckoutHandlers) setContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeJSON[contactRequest](ctx, w, r)
	if !ok {
		return
	}
	session, err := h.sessions.SetContactInfo(ctx, chi.URLParam(r, "sessionID"), domain.ContactInfo{
		Email:    req.Email,
		FullName: req.FullName,
		Phone:    req.Phone,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sessionResponseFrom(session))
}

func (h *CheckoutHandlers) enterIdentification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cmd := services.EnterIdentificationCommand{SessionID: chi.URLParam(r, "sessionID")}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		cmd.AccountID = identity.ShopperID
		cmd.Email = identity.Email
	}

	session, err := h.identity.EnterIdentification(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sessionResponseFrom(session))
}

func (h *CheckoutHandlers) chooseGuest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeJSON[contactRequest](ctx, w, r)
	if !ok {
		return
	}
	session, err := h.identity.ChooseGuest(ctx, services.ChooseGuestCommand{
		SessionID: chi.URLParam(r, "sessionID"),
		Contact: domain.ContactInfo{
			Email:    req.Email,
			FullName: req.FullName,
			Phone:    req.Phone,
		},
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sessionResponseFrom(session))
}

type paymentMethodRequest struct {
	Method string `json:"method"`
}

func (h *CheckoutHandlers) setPaymentMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeJSON[paymentMethodRequest](ctx, w, r)
	if !ok {
		return
	}
	session, err := h.sessions.SetPaymentMethod(ctx, chi.URLParam(r, "sessionID"), req.Method)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sessionResponseFrom(session))
}

type observationsRequest struct {
	Observations string `json:"observations"`
}

func (h *CheckoutHandlers) setObservations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeJSON[observationsRequest](ctx, w, r)
	if !ok {
		return
	}
	session, err := h.sessions.SetObservations(ctx, chi.URLParam(r, "sessionID"), req.Observations)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sessionResponseFrom(session))
}

type submitResponse struct {
	OrderID       string `json:"orderId"`
	PaymentMethod string `json:"paymentMethod"`
	RedirectURL   string `json:"redirectUrl,omitempty"`
	ResultPath    string `json:"resultPath,omitempty"`
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := h.orders.Submit(ctx, services.SubmitOrderCommand{
		SessionID:   chi.URLParam(r, "sessionID"),
		BearerToken: bearerToken(r),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, submitResponse{
		OrderID:       result.Receipt.OrderID,
		PaymentMethod: result.Receipt.PaymentMethod,
		RedirectURL:   result.RedirectURL,
		ResultPath:    result.ResultPath,
	})
}

func decodeJSON[T any](ctx context.Context, w http.ResponseWriter, r *http.Request) (T, bool) {
	var req T
	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return req, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return req, false
	}
	return req, true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSessionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "checkout session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidStepTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_step_transition", "previous steps must be completed first", http.StatusConflict))
	case errors.Is(err, services.ErrEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "cart has no lines", http.StatusConflict))
	case errors.Is(err, services.ErrIdentityBlocked):
		httpx.WriteError(ctx, w, httpx.NewError("identity_blocked", "authenticate or continue as guest first", http.StatusConflict))
	case errors.Is(err, services.ErrCandidateInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_candidate", "candidate is missing required fields", http.StatusBadRequest))
	case errors.Is(err, services.ErrQuoteNotFailed):
		httpx.WriteError(ctx, w, httpx.NewError("quote_not_failed", "quote retry is only allowed after a failure", http.StatusConflict))
	case errors.Is(err, services.ErrQuoteUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("quote_unavailable", "address is incomplete or not quotable", http.StatusConflict))
	case errors.Is(err, services.ErrQuoteProviderError):
		httpx.WriteError(ctx, w, httpx.NewError("quote_provider_error", "shipping cost provider failed; retry the quote", http.StatusBadGateway))
	case errors.Is(err, services.ErrGuestProvisioning):
		httpx.WriteError(ctx, w, httpx.NewError("guest_provisioning_failed", "guest identity could not be created; retry", http.StatusBadGateway))
	case errors.Is(err, services.ErrPaymentMethodRequired):
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_required", "select a payment method before submitting", http.StatusConflict))
	case errors.Is(err, services.ErrShippingQuoteRequired):
		httpx.WriteError(ctx, w, httpx.NewError("shipping_quote_required", "a quote for the current address is required", http.StatusConflict))
	case errors.Is(err, services.ErrIdentityUnresolved):
		httpx.WriteError(ctx, w, httpx.NewError("identity_unresolved", "authenticate or continue as guest before submitting", http.StatusConflict))
	case errors.Is(err, services.ErrSubmissionInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("submission_in_flight", "a submission for this session is already running", http.StatusConflict))
	case errors.Is(err, services.ErrSessionExpired):
		httpx.WriteError(ctx, w, httpx.NewError("session_expired", "re-authenticate and retry; checkout progress is preserved", http.StatusUnauthorized))
	case errors.Is(err, services.ErrSubmissionFailed):
		httpx.WriteError(ctx, w, httpx.NewError("submission_failed", "order could not be created", http.StatusBadGateway))
	case errors.Is(err, services.ErrSessionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout dependencies are unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
