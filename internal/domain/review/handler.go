package review

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/labreview/labreview/internal/platform/auth"
	"github.com/labreview/labreview/pkg/labmodels"
	"github.com/labreview/labreview/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleReviewer, auth.RoleClinician))
	read.GET("/review/decisions", h.ListDecisions)
	read.GET("/review/summary", h.Summary)
}

func (h *Handler) ListDecisions(c echo.Context) error {
	pg := pagination.FromContext(c)

	filter := DecisionFilter{UserID: c.QueryParam("user_id")}
	switch gr := labmodels.GateResult(c.QueryParam("gate_result")); gr {
	case "", labmodels.GateAutoDeliver, labmodels.GateHoldForReview:
		filter.GateResult = gr
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "gate_result must be auto_deliver or hold_for_review")
	}

	items, total, err := h.svc.ListDecisions(c.Request().Context(), filter, pg)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, labmodels.CodeInternal)
	}
	if items == nil {
		items = []*labmodels.ReviewDecision{}
	}
	resp := pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL.Path, c.QueryParams())
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Summary(c echo.Context) error {
	s, err := h.svc.Summary(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, labmodels.CodeInternal)
	}
	return c.JSON(http.StatusOK, s)
}
