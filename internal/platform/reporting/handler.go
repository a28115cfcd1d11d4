package reporting

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/labreview/labreview/internal/domain/review"
	"github.com/labreview/labreview/internal/platform/auth"
	"github.com/labreview/labreview/pkg/labmodels"
	"github.com/labreview/labreview/pkg/pagination"
)

// exportPageSize is the page size used when walking the decision log.
const exportPageSize = 500

// DecisionLister is the read side of the review store.
type DecisionLister interface {
	ListDecisions(ctx context.Context, filter review.DecisionFilter, p pagination.Params) ([]*labmodels.ReviewDecision, int, error)
}

// CollectDecisions pages through every decision matching filter.
func CollectDecisions(ctx context.Context, src DecisionLister, filter review.DecisionFilter) ([]*labmodels.ReviewDecision, error) {
	var all []*labmodels.ReviewDecision
	p := pagination.Params{Limit: exportPageSize}
	for {
		items, total, err := src.ListDecisions(ctx, filter, p)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		p.Offset += len(items)
		if len(items) == 0 || p.Offset >= total {
			return all, nil
		}
	}
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	eval      *Evaluator
	decisions DecisionLister
}

func NewHandler(eval *Evaluator, decisions DecisionLister) *Handler {
	return &Handler{eval: eval, decisions: decisions}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireRole(auth.RoleReviewer))
	g.GET("/measures", h.ListMeasures)
	g.GET("/measures/:id", h.EvaluateMeasure)
	g.GET("/decisions/export", h.ExportDecisions)
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure runs one measure. ?since= takes an RFC 3339 lower bound,
// ?format=xlsx returns a workbook instead of JSON.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	var since time.Time
	if raw := c.QueryParam("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be an RFC 3339 timestamp")
		}
		since = t
	}

	report, err := h.eval.Evaluate(c.Request().Context(), c.Param("id"), since)
	if err != nil {
		if errors.Is(err, ErrMeasureNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "measure_not_found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, labmodels.CodeInternal)
	}

	if c.QueryParam("format") == "xlsx" {
		var buf bytes.Buffer
		if err := WriteMeasure(&buf, report); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, labmodels.CodeInternal)
		}
		return attachment(c, report.MeasureID+".xlsx", buf.Bytes())
	}
	return c.JSON(http.StatusOK, report)
}

// ExportDecisions streams the decision log as a workbook.
func (h *Handler) ExportDecisions(c echo.Context) error {
	filter := review.DecisionFilter{UserID: c.QueryParam("user_id")}
	switch gr := labmodels.GateResult(c.QueryParam("gate_result")); gr {
	case "", labmodels.GateAutoDeliver, labmodels.GateHoldForReview:
		filter.GateResult = gr
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "gate_result must be auto_deliver or hold_for_review")
	}

	decisions, err := CollectDecisions(c.Request().Context(), h.decisions, filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, labmodels.CodeInternal)
	}

	var buf bytes.Buffer
	if err := WriteDecisions(&buf, decisions); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, labmodels.CodeInternal)
	}
	return attachment(c, "review-decisions.xlsx", buf.Bytes())
}

func attachment(c echo.Context, filename string, body []byte) error {
	c.Response().Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	return c.Blob(http.StatusOK, ContentTypeXLSX, body)
}
