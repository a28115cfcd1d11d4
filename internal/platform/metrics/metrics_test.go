package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_CountsByRoute(t *testing.T) {
	e := echo.New()
	e.Use(Middleware())
	e.GET("/api/v1/trends/:user_id/:canonical_name", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/v1/trends/:user_id/:canonical_name", "204"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trends/u1/hemoglobin", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/v1/trends/:user_id/:canonical_name", "204"))
	if after-before != 1 {
		t.Errorf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestMiddleware_HandlerError(t *testing.T) {
	e := echo.New()
	e.Use(Middleware())
	e.GET("/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "lookup_store_unavailable")
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/fail", "503"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/fail", "503")) - before; got != 1 {
		t.Errorf("expected one 503 recorded, got %v", got)
	}
}

func TestPipelineCounters(t *testing.T) {
	before := testutil.ToFloat64(gateDecisions.WithLabelValues("hold_for_review"))
	GateDecided("hold_for_review")
	if testutil.ToFloat64(gateDecisions.WithLabelValues("hold_for_review"))-before != 1 {
		t.Error("expected gate decision counter to increase")
	}

	before = testutil.ToFloat64(lookupFailures.WithLabelValues("resolve_name"))
	ObserveLookup("resolve_name", time.Millisecond, true)
	ObserveLookup("resolve_name", time.Millisecond, false)
	if testutil.ToFloat64(lookupFailures.WithLabelValues("resolve_name"))-before != 1 {
		t.Error("expected exactly one lookup failure recorded")
	}

	before = testutil.ToFloat64(auditWriteFailures)
	ObserveAuditFlush(4, true)
	if testutil.ToFloat64(auditWriteFailures)-before != 1 {
		t.Error("expected audit failure counter to increase")
	}
}

func TestHandler_Exposition(t *testing.T) {
	ParameterProcessed("normalized")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := Handler()(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "labreview_parameters_processed_total") {
		t.Error("expected pipeline counter in exposition output")
	}
}
