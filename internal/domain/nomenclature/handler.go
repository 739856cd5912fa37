package nomenclature

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/formulary/formulary/internal/platform/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/rxnorm/:rxcui", h.Lookup)
}

// Lookup handles GET /api/v1/rxnorm/:rxcui
func (h *Handler) Lookup(c echo.Context) error {
	m, err := h.svc.Lookup(c.Request().Context(), c.Param("rxcui"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, m)
}
