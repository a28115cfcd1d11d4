package pipeline

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/labreview/labreview/internal/platform/auth"
	"github.com/labreview/labreview/pkg/labmodels"
)

type Handler struct {
	runner *Runner
}

func NewHandler(runner *Runner) *Handler {
	return &Handler{runner: runner}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	write := api.Group("", auth.RequireRole(auth.RoleIngest))
	write.POST("/pipeline/batches", h.RunBatch)
}

func (h *Handler) RunBatch(c echo.Context) error {
	var req BatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, CodeInvalidRequest)
	}

	result, err := h.runner.Run(c.Request().Context(), req)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, result)
	case IsInvalidRequest(err):
		return echo.NewHTTPError(http.StatusBadRequest, CodeInvalidRequest).SetInternal(err)
	case labmodels.IsRetryable(err):
		c.Response().Header().Set("Retry-After", "5")
		return echo.NewHTTPError(http.StatusServiceUnavailable, labmodels.Code(err)).SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, labmodels.Code(err)).SetInternal(err)
	}
}
