package prescribing

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/formulary/formulary/internal/platform/apperr"
	"github.com/formulary/formulary/pkg/pagination"
)

// Handler exposes the prescribing statistics endpoints.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/prescribing")
	g.GET("/underperforming", h.Underperforming)
	g.GET("/years", h.Years)
	g.GET("/national-totals", h.NationalTotals)
	g.GET("/trends", h.Trends)
	g.GET("/search", h.Search)
	g.GET("/geo-detail", h.GeoDetail)
	g.GET("/region-detail", h.RegionDetail)
}

// listResponse wraps unpaged lists.
type listResponse struct {
	Data  any `json:"data"`
	Count int `json:"count"`
}

func intParam(c echo.Context, name string) (*int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "parameter '"+name+"' must be an integer")
	}
	return &n, nil
}

func requiredYear(c echo.Context) (int, error) {
	year, err := intParam(c, "year")
	if err != nil {
		return 0, err
	}
	if year == nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "missing required parameter: year")
	}
	return *year, nil
}

// Underperforming handles GET /api/v1/prescribing/underperforming?year=&limit=
func (h *Handler) Underperforming(c echo.Context) error {
	year, err := intParam(c, "year")
	if err != nil {
		return err
	}
	limit, err := intParam(c, "limit")
	if err != nil {
		return err
	}
	out, err := h.svc.RankUnderperforming(c.Request().Context(), RankParams{Year: year, Limit: limit})
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, listResponse{Data: out, Count: len(out)})
}

// Years handles GET /api/v1/prescribing/years and returns a bare array.
func (h *Handler) Years(c echo.Context) error {
	years, err := h.svc.Years(c.Request().Context())
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, years)
}

func (h *Handler) NationalTotals(c echo.Context) error {
	totals, err := h.svc.NationalTotals(c.Request().Context())
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, listResponse{Data: totals, Count: len(totals)})
}

// Trends handles GET /api/v1/prescribing/trends?year=&limit=&offset=
func (h *Handler) Trends(c echo.Context) error {
	year, err := requiredYear(c)
	if err != nil {
		return err
	}
	p, err := pagination.FromContext(c)
	if err != nil {
		return err
	}
	out, total, err := h.svc.Trends(c.Request().Context(), year, p)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, p))
}

// Search handles GET /api/v1/prescribing/search?drug=&startYear=&endYear=
func (h *Handler) Search(c echo.Context) error {
	term := strings.TrimSpace(c.QueryParam("drug"))
	if term == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing required parameter: drug")
	}
	start, err := intParam(c, "startYear")
	if err != nil {
		return err
	}
	end, err := intParam(c, "endYear")
	if err != nil {
		return err
	}
	out, err := h.svc.SearchDrug(c.Request().Context(), SearchParams{Term: term, StartYear: start, EndYear: end})
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, listResponse{Data: out, Count: len(out)})
}

// GeoDetail handles GET /api/v1/prescribing/geo-detail?year=&drug=
func (h *Handler) GeoDetail(c echo.Context) error {
	year, err := requiredYear(c)
	if err != nil {
		return err
	}
	out, err := h.svc.GeoDetail(c.Request().Context(), year, strings.TrimSpace(c.QueryParam("drug")))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, listResponse{Data: out, Count: len(out)})
}

// RegionDetail handles GET /api/v1/prescribing/region-detail?level=&region=&year=
func (h *Handler) RegionDetail(c echo.Context) error {
	rp := RegionParams{
		Level:  strings.TrimSpace(c.QueryParam("level")),
		Region: strings.TrimSpace(c.QueryParam("region")),
	}
	if rp.Level == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing required parameter: level")
	}
	if rp.Region == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing required parameter: region")
	}
	year, err := intParam(c, "year")
	if err != nil {
		return err
	}
	rp.Year = year
	p, err := pagination.FromContext(c)
	if err != nil {
		return err
	}
	out, total, err := h.svc.RegionDetail(c.Request().Context(), rp, p)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, p))
}
