package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/xuri/excelize/v2"

	"github.com/labreview/labreview/internal/domain/review"
	"github.com/labreview/labreview/pkg/labmodels"
	"github.com/labreview/labreview/pkg/pagination"
)

type mockQuerier struct {
	rows    []map[string]interface{}
	err     error
	lastSQL string
	args    []interface{}
}

func (m *mockQuerier) Rows(_ context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	m.lastSQL = sql
	m.args = args
	return m.rows, m.err
}

func TestPredefinedMeasures(t *testing.T) {
	expectedIDs := []string{
		"decisions-by-gate-result",
		"flagged-normalization-rate",
		"risk-levels-by-parameter",
		"audit-failures-by-operation",
	}
	if len(PredefinedMeasures) != len(expectedIDs) {
		t.Fatalf("expected %d predefined measures, got %d", len(expectedIDs), len(PredefinedMeasures))
	}
	for i, id := range expectedIDs {
		m := PredefinedMeasures[i]
		if m.ID != id {
			t.Errorf("measure[%d].ID = %s, want %s", i, m.ID, id)
		}
		if m.SQL == "" || m.Name == "" || m.Description == "" || len(m.Columns) == 0 {
			t.Errorf("measure %s is incomplete", m.ID)
		}
		if FindMeasure(id) != &PredefinedMeasures[i] {
			t.Errorf("FindMeasure(%s) did not return the predefined entry", id)
		}
	}
	if FindMeasure("patient-count") != nil {
		t.Error("expected nil for unknown measure")
	}
}

func TestEvaluator_Evaluate(t *testing.T) {
	q := &mockQuerier{rows: []map[string]interface{}{
		{"gate_result": "auto_deliver", "total": int64(3)},
	}}
	e := NewEvaluator(q)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r, err := e.Evaluate(context.Background(), "decisions-by-gate-result", since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.MeasureName != "Decisions by Gate Result" || !r.GeneratedAt.Equal(fixed) {
		t.Errorf("unexpected report header: %+v", r)
	}
	if len(r.Results) != 1 {
		t.Fatalf("expected 1 row, got %d", len(r.Results))
	}
	if len(q.args) != 1 || !q.args[0].(time.Time).Equal(since) {
		t.Errorf("expected since bound as $1, got %v", q.args)
	}
}

func TestEvaluator_Errors(t *testing.T) {
	e := NewEvaluator(&mockQuerier{err: errors.New("connection reset")})

	if _, err := e.Evaluate(context.Background(), "nope", time.Time{}); !errors.Is(err, ErrMeasureNotFound) {
		t.Errorf("expected ErrMeasureNotFound, got %v", err)
	}
	if _, err := e.Evaluate(context.Background(), "risk-levels-by-parameter", time.Time{}); err == nil {
		t.Error("expected query error")
	}

	r, err := NewEvaluator(&mockQuerier{}).Evaluate(context.Background(), "risk-levels-by-parameter", time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Results == nil {
		t.Error("expected empty results slice, not nil")
	}
}

func decision(i int, gr labmodels.GateResult) *labmodels.ReviewDecision {
	return &labmodels.ReviewDecision{
		ID:            uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("d%d", i))),
		RiskFlagRef:   uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("f%d", i))),
		UserID:        "u1",
		CanonicalName: "glucose_fasting",
		GateResult:    gr,
		Reasons:       []string{"risk_level", "low_confidence"},
		DecidedAt:     time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
	}
}

func TestWriteDecisions(t *testing.T) {
	var buf bytes.Buffer
	ds := []*labmodels.ReviewDecision{decision(1, labmodels.GateHoldForReview), decision(2, labmodels.GateAutoDeliver)}
	if err := WriteDecisions(&buf, ds); err != nil {
		t.Fatalf("WriteDecisions: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(decisionSheet)
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][4] != "Gate Result" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	if rows[1][4] != "hold_for_review" || rows[1][5] != "risk_level, low_confidence" {
		t.Errorf("unexpected first row: %v", rows[1])
	}
	if rows[2][6] != "2026-01-01T00:00:02Z" {
		t.Errorf("unexpected timestamp cell: %q", rows[2][6])
	}
	if idx, err := f.GetSheetIndex("Sheet1"); err != nil || idx != -1 {
		t.Error("default sheet should be removed")
	}
}

func TestWriteMeasure(t *testing.T) {
	var buf bytes.Buffer
	r := &MeasureReport{
		MeasureName: "Audit Failures by Operation",
		Columns:     []string{"operation", "total"},
		Results: []map[string]interface{}{
			{"operation": "unit_conversion", "total": int64(4)},
			{"operation": "name_mapping", "total": int64(1)},
		},
	}
	if err := WriteMeasure(&buf, r); err != nil {
		t.Fatalf("WriteMeasure: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Audit Failures by Operation")
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(rows) != 3 || rows[1][0] != "unit_conversion" || rows[1][1] != "4" {
		t.Errorf("unexpected rows: %v", rows)
	}
}

type pagingLister struct {
	decisions []*labmodels.ReviewDecision
	calls     int
}

func (p *pagingLister) ListDecisions(_ context.Context, _ review.DecisionFilter, pg pagination.Params) ([]*labmodels.ReviewDecision, int, error) {
	p.calls++
	total := len(p.decisions)
	if pg.Offset >= total {
		return nil, total, nil
	}
	end := pg.Offset + pg.Limit
	if end > total {
		end = total
	}
	return p.decisions[pg.Offset:end], total, nil
}

func TestCollectDecisions_Pages(t *testing.T) {
	src := &pagingLister{}
	for i := 0; i < exportPageSize+7; i++ {
		src.decisions = append(src.decisions, decision(i, labmodels.GateAutoDeliver))
	}

	got, err := CollectDecisions(context.Background(), src, review.DecisionFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != exportPageSize+7 {
		t.Errorf("expected %d decisions, got %d", exportPageSize+7, len(got))
	}
	if src.calls != 2 {
		t.Errorf("expected 2 pages, got %d", src.calls)
	}
}

func newTestHandler(q Querier) (*Handler, *review.MemoryRepository) {
	repo := review.NewMemoryRepository()
	return NewHandler(NewEvaluator(q), repo), repo
}

func TestHandler_ListMeasures(t *testing.T) {
	h, _ := newTestHandler(&mockQuerier{})
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/reports/measures", nil), rec)

	if err := h.ListMeasures(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != len(PredefinedMeasures) {
		t.Errorf("expected %d measures, got %d", len(PredefinedMeasures), len(body))
	}
	if _, leaked := body[0]["sql"]; leaked {
		t.Error("SQL text should not be exposed")
	}
}

func TestHandler_EvaluateMeasure(t *testing.T) {
	q := &mockQuerier{rows: []map[string]interface{}{{"gate_result": "hold_for_review", "total": int64(2)}}}
	h, _ := newTestHandler(q)
	e := echo.New()

	tests := []struct {
		name       string
		id         string
		query      string
		wantStatus int
		wantType   string
	}{
		{"json", "decisions-by-gate-result", "", http.StatusOK, echo.MIMEApplicationJSON},
		{"xlsx", "decisions-by-gate-result", "?format=xlsx", http.StatusOK, ContentTypeXLSX},
		{"with since", "decisions-by-gate-result", "?since=2026-01-01T00:00:00Z", http.StatusOK, echo.MIMEApplicationJSON},
		{"bad since", "decisions-by-gate-result", "?since=yesterday", http.StatusBadRequest, ""},
		{"unknown", "patient-count", "", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/reports/measures/"+tt.id+tt.query, nil), rec)
			c.SetParamNames("id")
			c.SetParamValues(tt.id)

			err := h.EvaluateMeasure(c)
			if tt.wantStatus != http.StatusOK {
				he, ok := err.(*echo.HTTPError)
				if !ok || he.Code != tt.wantStatus {
					t.Fatalf("expected %d, got %v", tt.wantStatus, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := rec.Header().Get(echo.HeaderContentType); got != tt.wantType && got != tt.wantType+"; charset=UTF-8" {
				t.Errorf("Content-Type = %q, want %q", got, tt.wantType)
			}
		})
	}
}

func TestHandler_ExportDecisions(t *testing.T) {
	h, repo := newTestHandler(&mockQuerier{})
	ctx := context.Background()
	for i, gr := range []labmodels.GateResult{labmodels.GateHoldForReview, labmodels.GateAutoDeliver, labmodels.GateHoldForReview} {
		if err := repo.SaveDecision(ctx, decision(i, gr)); err != nil {
			t.Fatal(err)
		}
	}

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/reports/decisions/export?gate_result=hold_for_review", nil), rec)
	if err := h.ExportDecisions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get("Content-Disposition") != `attachment; filename="review-decisions.xlsx"` {
		t.Errorf("unexpected Content-Disposition %q", rec.Header().Get("Content-Disposition"))
	}

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows(decisionSheet)
	if len(rows) != 3 {
		t.Errorf("expected header + 2 held decisions, got %d rows", len(rows))
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/reports/decisions/export?gate_result=maybe", nil), rec)
	he, ok := h.ExportDecisions(c).(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad gate_result, got %v", he)
	}
}
