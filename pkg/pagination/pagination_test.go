package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func ctxWithQuery(query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/trends?"+query, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p, err := FromContext(ctxWithQuery(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_Overrides(t *testing.T) {
	p, err := FromContext(ctxWithQuery("limit=10&offset=30"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Limit != 10 || p.Offset != 30 {
		t.Errorf("expected 10/30, got %d/%d", p.Limit, p.Offset)
	}
}

func TestFromContext_ClampsLimit(t *testing.T) {
	p, err := FromContext(ctxWithQuery("limit=5000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Limit != MaxLimit {
		t.Errorf("expected limit clamped to %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_Invalid(t *testing.T) {
	for _, q := range []string{"limit=abc", "limit=0", "limit=-5", "offset=-1", "offset=x"} {
		_, err := FromContext(ctxWithQuery(q))
		httpErr, ok := err.(*echo.HTTPError)
		if !ok {
			t.Errorf("%s: expected echo.HTTPError, got %v", q, err)
			continue
		}
		if httpErr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, httpErr.Code)
		}
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]int{1, 2}, 12, Params{Limit: 2, Offset: 8})
	if !resp.HasMore {
		t.Error("expected has_more with rows remaining")
	}
	if resp.Total != 12 || resp.Limit != 2 || resp.Offset != 8 {
		t.Errorf("unexpected response %+v", resp)
	}

	last := NewResponse([]int{1, 2}, 12, Params{Limit: 2, Offset: 10})
	if last.HasMore {
		t.Error("expected no more rows on the last page")
	}
}
