package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tienda-flor/storefront-api/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		ok      bool
		sampled bool
	}{
		{name: "decimal span id", header: "105445aa7843bc8bf206b12000100000/1;o=1", ok: true, sampled: true},
		{name: "hex span id unsampled", header: "105445aa7843bc8bf206b12000100000/00f067aa0ba902b7;o=0", ok: true},
		{name: "missing span", header: "105445aa7843bc8bf206b12000100000", ok: false},
		{name: "short trace id", header: "abc123/1;o=1", ok: false},
		{name: "empty", header: "", ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spanCtx, ok := parseCloudTraceContext(tc.header)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if !ok {
				return
			}
			if !spanCtx.HasTraceID() || !spanCtx.HasSpanID() {
				t.Fatalf("expected valid trace and span ids, got %v", spanCtx)
			}
			if spanCtx.IsSampled() != tc.sampled {
				t.Fatalf("expected sampled=%v", tc.sampled)
			}
		})
	}
}

func TestTraceMiddlewarePropagatesRemoteTrace(t *testing.T) {
	const traceID = "105445aa7843bc8bf206b12000100000"

	var seen requestctx.TraceInfo
	var seenOK bool
	handler := TraceMiddleware("demo-project")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, seenOK = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/checkout/sessions", nil)
	req.Header.Set("X-Cloud-Trace-Context", traceID+"/1;o=1")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if !seenOK {
		t.Fatalf("expected trace info on the request context")
	}
	if seen.TraceID != traceID {
		t.Fatalf("expected trace id %q carried through, got %q", traceID, seen.TraceID)
	}
	if seen.ProjectID != "demo-project" {
		t.Fatalf("expected project id recorded, got %q", seen.ProjectID)
	}
	if echoed := recorder.Header().Get("X-Cloud-Trace-Context"); !strings.HasPrefix(echoed, traceID+"/") {
		t.Fatalf("expected trace header echoed, got %q", echoed)
	}
}
