package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPaymentResultAppliesTerminalEffectsOnce(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	base := env.server.URL + "/api/v1/checkout"

	_, created := doJSON(t, http.MethodPost, base+"/sessions", map[string]string{"shopperId": "shopper_1"})
	sessionID := created["id"].(string)
	doJSON(t, http.MethodPost, base+"/sessions/"+sessionID+"/identity/guest", map[string]string{"email": "ana@example.com"})

	resultURL := env.server.URL + "/api/v1/payments/result?status=approved&orderId=ord_7&sessionId=" + sessionID

	resp, body := doJSON(t, http.MethodGet, resultURL, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "success", body["severity"])
	require.Equal(t, true, body["terminal"])
	require.Equal(t, true, body["effectsApplied"])

	resp, body = doJSON(t, http.MethodGet, resultURL, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, body["effectsApplied"])

	require.Equal(t, 1, env.cart.clearCalls)
	require.Equal(t, 1, env.guests.demoteCalls)
	require.Equal(t, 1, env.publisher.calls)
}

func TestPaymentResultTransferenciaIncludesBankDetails(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	resp, body := doJSON(t, http.MethodGet, env.server.URL+"/api/v1/payments/result?status=transferencia&orderId=ord_8", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["showBankDetails"])
	details := body["bankDetails"].(map[string]any)
	require.Equal(t, "Banco Nación", details["bankName"])
	require.Equal(t, true, body["terminal"])
}

func TestPaymentResultUnknownStatusIsNeutral(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	resp, body := doJSON(t, http.MethodGet, env.server.URL+"/api/v1/payments/result?status=quux", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "neutral", body["severity"])
	require.Equal(t, false, body["terminal"])
	require.Equal(t, false, body["effectsApplied"])
}

func TestRouteNotFoundEnvelope(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	resp, body := doJSON(t, http.MethodGet, env.server.URL+"/api/v1/nothing-here", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "route_not_found", body["error"])
}
