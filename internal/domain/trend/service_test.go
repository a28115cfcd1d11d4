package trend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/labreview/labreview/internal/domain/normalization"
	"github.com/labreview/labreview/internal/platform/lock"
	"github.com/labreview/labreview/pkg/labmodels"
)

func newTestService(t *testing.T, history ...*labmodels.NormalizedParameter) *Service {
	t.Helper()
	repo := normalization.NewMemoryRepository()
	for _, p := range history {
		if _, err := repo.Insert(context.Background(), p); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	return NewService(repo, lock.NewKeyedMutex(), NewCalculator(0.05), 365*24*time.Hour)
}

func TestEvaluate_IncludesUnstoredParameter(t *testing.T) {
	svc := newTestService(t, point("a", 0, 100, "mg/dL"))

	tr, err := svc.Evaluate(context.Background(), point("b", 10, 110, "mg/dL"))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if tr == nil || tr.Direction != labmodels.DirectionIncreasing {
		t.Fatalf("expected increasing trend, got %+v", tr)
	}
}

func TestEvaluate_IgnoresLaterAndOutOfWindowPoints(t *testing.T) {
	svc := newTestService(t,
		point("old", -400, 50, "mg/dL"),
		point("a", 0, 100, "mg/dL"),
		point("later", 30, 300, "mg/dL"),
	)

	tr, err := svc.Evaluate(context.Background(), point("b", 10, 100, "mg/dL"))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if tr == nil || len(tr.DataPoints) != 2 {
		t.Fatalf("expected 2 points, got %+v", tr)
	}
	if tr.Direction != labmodels.DirectionStable {
		t.Errorf("expected stable, got %s", tr.Direction)
	}
}

func TestEvaluate_SinglePointIsNoTrend(t *testing.T) {
	svc := newTestService(t)
	tr, err := svc.Evaluate(context.Background(), point("a", 0, 100, "mg/dL"))
	if err != nil || tr != nil {
		t.Fatalf("expected no trend and no error, got %+v, %v", tr, err)
	}
}

func TestEvaluate_StoredParameterCountedOnce(t *testing.T) {
	a, b := point("a", 0, 100, "mg/dL"), point("b", 10, 110, "mg/dL")
	svc := newTestService(t, a, b)

	tr, err := svc.Evaluate(context.Background(), b)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(tr.DataPoints) != 2 {
		t.Errorf("expected 2 points, got %d", len(tr.DataPoints))
	}
}

func TestHandler_GetTrend(t *testing.T) {
	svc := newTestService(t, point("a", 0, 6.0, "%"), point("b", 90, 6.2, "%"))
	h := NewHandler(svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trends/user-1/hemoglobin_a1c", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("user_id", "canonical_name")
	c.SetParamValues("user-1", "hemoglobin_a1c")

	if err := h.GetTrend(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetTrend_NotEnoughData(t *testing.T) {
	h := NewHandler(newTestService(t, point("a", 0, 6.0, "%")))
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trends/user-1/hemoglobin_a1c", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("user_id", "canonical_name")
	c.SetParamValues("user-1", "hemoglobin_a1c")

	err := h.GetTrend(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound || he.Message != labmodels.CodeInsufficientData {
		t.Fatalf("expected 404 insufficient_data, got %v", err)
	}
}
