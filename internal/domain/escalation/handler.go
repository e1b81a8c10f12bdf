package escalation

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/referral/internal/platform/auth"
	"github.com/carelink/referral/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "care-coordinator", "provider"))
	g.GET("/escalations", h.ListOpen)
	g.POST("/escalations/:id/acknowledge", h.Acknowledge)
	g.POST("/escalations/:id/resolve", h.Resolve)
}

func (h *Handler) ListOpen(c echo.Context) error {
	pg := pagination.FromContext(c)
	escs, total, err := h.svc.ListOpen(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list escalations")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(escs, total, pg.Limit, pg.Offset))
}

func (h *Handler) Acknowledge(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	esc, err := h.svc.Acknowledge(c.Request().Context(), id, auth.ActorFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, esc)
}

func (h *Handler) Resolve(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	esc, err := h.svc.Resolve(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, esc)
}
