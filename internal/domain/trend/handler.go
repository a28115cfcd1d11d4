package trend

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/labreview/labreview/internal/platform/auth"
	"github.com/labreview/labreview/pkg/labmodels"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleReviewer))
	read.GET("/trends/:user_id/:canonical_name", h.GetTrend)
}

func (h *Handler) GetTrend(c echo.Context) error {
	userID := c.Param("user_id")
	canonical := c.Param("canonical_name")
	if userID == "" || canonical == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id and canonical_name are required")
	}

	t, err := h.svc.Current(c.Request().Context(), userID, canonical)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, labmodels.Code(err))
	}
	if t == nil {
		return echo.NewHTTPError(http.StatusNotFound, labmodels.CodeInsufficientData)
	}
	return c.JSON(http.StatusOK, t)
}
