package formulary

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/formulary/formulary/internal/platform/apperr"
	"github.com/formulary/formulary/pkg/pagination"
)

// Handler exposes formulary analysis and lookup endpoints.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers formulary routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/drugs/analysis", h.Analyze)
	api.GET("/drugs/insights", h.DrugInsights)
	api.GET("/formulary/search", h.Search)
	api.GET("/formulary/lookup", h.Lookup)
}

// drugFromQuery reads exactly one of "ndc" or "rxcui".
func drugFromQuery(c echo.Context) (DrugIdentifier, error) {
	ndc, rxcui := c.QueryParam("ndc"), c.QueryParam("rxcui")
	switch {
	case ndc != "" && rxcui != "":
		return DrugIdentifier{}, apperr.Invalidf("provide either ndc or rxcui, not both")
	case ndc != "":
		return ParseDrugIdentifier(KindNDC, ndc)
	case rxcui != "":
		return ParseDrugIdentifier(KindRxCUI, rxcui)
	default:
		return DrugIdentifier{}, apperr.Invalidf("provide either ndc or rxcui")
	}
}

// Analyze handles GET /api/v1/drugs/analysis?ndc=...|rxcui=...
func (h *Handler) Analyze(c echo.Context) error {
	id, err := drugFromQuery(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	report, err := h.svc.Analyze(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, report)
}

// DrugInsights handles GET /api/v1/drugs/insights?ndc=...|rxcui=...
func (h *Handler) DrugInsights(c echo.Context) error {
	id, err := drugFromQuery(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	entries, err := h.svc.DrugEntries(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"drug":    id,
		"entries": entries,
	})
}

func optionalInt(c echo.Context, name string) (*int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperr.Invalidf("parameter '%s' must be an integer", name)
	}
	return &n, nil
}

func optionalFlag(c echo.Context, name string) (*bool, error) {
	switch strings.ToUpper(c.QueryParam(name)) {
	case "":
		return nil, nil
	case "Y":
		b := true
		return &b, nil
	case "N":
		b := false
		return &b, nil
	default:
		return nil, apperr.Invalidf("parameter '%s' must be Y or N", name)
	}
}

func searchFilterFromQuery(c echo.Context) (SearchFilter, error) {
	var f SearchFilter
	var err error

	if raw := c.QueryParam("rxcui"); raw != "" {
		n, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || n <= 0 {
			return f, apperr.Invalidf("parameter 'rxcui' must be a positive integer")
		}
		f.RxCUI = &n
	}
	f.NDC = strings.TrimSpace(c.QueryParam("ndc"))
	if f.Tier, err = optionalInt(c, "tier"); err != nil {
		return f, err
	}
	if f.PriorAuthorization, err = optionalFlag(c, "pa"); err != nil {
		return f, err
	}
	if f.StepTherapy, err = optionalFlag(c, "st"); err != nil {
		return f, err
	}
	if f.QuantityLimit, err = optionalFlag(c, "ql"); err != nil {
		return f, err
	}

	f.SortBy = c.QueryParam("sort_by")
	switch strings.ToUpper(c.QueryParam("sort_dir")) {
	case "", "ASC":
	case "DESC":
		f.SortDesc = true
	default:
		return f, apperr.Invalidf("parameter 'sort_dir' must be ASC or DESC")
	}
	return f, nil
}

// Search handles GET /api/v1/formulary/search?rxcui=&ndc=&tier=&pa=&st=&ql=
func (h *Handler) Search(c echo.Context) error {
	f, err := searchFilterFromQuery(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	p, err := pagination.FromContext(c)
	if err != nil {
		return err
	}
	entries, total, err := h.svc.SearchEntries(c.Request().Context(), f, p)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, p))
}

// Lookup handles GET /api/v1/formulary/lookup?drug_id=&id_type=&plan_id=&contract_id=
func (h *Handler) Lookup(c echo.Context) error {
	drugID := c.QueryParam("drug_id")
	if drugID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'drug_id' is required")
	}
	idType := c.QueryParam("id_type")
	if idType == "" {
		idType = string(KindRxCUI)
	}
	id, err := ParseDrugIdentifier(IDKind(idType), drugID)
	if err != nil {
		return apperr.HTTP(err)
	}
	planID := c.QueryParam("plan_id")
	if planID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'plan_id' is required")
	}

	out, err := h.svc.LookupForPlan(c.Request().Context(), id, planID, c.QueryParam("contract_id"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}
