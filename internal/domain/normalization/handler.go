package normalization

import (
	"net/http"
	"strconv"
	"strings"
	"time"

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
	read := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleReviewer, auth.RoleIngest))
	read.GET("/reference/resolve", h.Resolve)
}

// Resolve runs the normalization steps for a single reading without
// persisting anything.
func (h *Handler) Resolve(c echo.Context) error {
	name := strings.TrimSpace(c.QueryParam("name"))
	value := strings.TrimSpace(c.QueryParam("value"))
	if name == "" || value == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name and value are required")
	}

	var patient labmodels.PatientContext
	if a := c.QueryParam("age"); a != "" {
		age, err := strconv.Atoi(a)
		if err != nil || age < 0 || age > 150 {
			return echo.NewHTTPError(http.StatusBadRequest, "age must be an integer between 0 and 150")
		}
		patient.Age = &age
	}
	if g := strings.ToLower(strings.TrimSpace(c.QueryParam("gender"))); g != "" {
		if g != "male" && g != "female" && g != "other" {
			return echo.NewHTTPError(http.StatusBadRequest, "gender must be male, female or other")
		}
		patient.Gender = &g
	}

	raw := labmodels.RawParameter{
		SourceParameterID: "dry-run",
		UserID:            auth.UserIDFromContext(c.Request().Context()),
		Name:              name,
		Value:             value,
		Unit:              c.QueryParam("unit"),
		ObservedAt:        time.Now().UTC(),
		Source:            labmodels.SourceManual,
	}

	res, err := h.svc.Normalize(c.Request().Context(), raw, patient)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, labmodels.Code(err))
	}
	return c.JSON(http.StatusOK, res)
}
