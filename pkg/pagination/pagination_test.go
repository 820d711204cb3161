package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestFromContext_Defaults(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	p := FromContext(c)
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_Values(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?limit=5&offset=10", nil), httptest.NewRecorder())

	p := FromContext(c)
	if p.Limit != 5 || p.Offset != 10 {
		t.Errorf("unexpected params %+v", p)
	}
}

func TestParse_Clamps(t *testing.T) {
	if p := Parse("1000", "-3"); p.Limit != MaxLimit || p.Offset != 0 {
		t.Errorf("unexpected params %+v", p)
	}
	if p := Parse("abc", "x"); p.Limit != DefaultLimit || p.Offset != 0 {
		t.Errorf("unexpected params %+v", p)
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a", "b"}, 5, Params{Limit: 2, Offset: 0})
	if !r.HasMore || r.Total != 5 || len(r.Data) != 2 {
		t.Errorf("unexpected response %+v", r)
	}
	last := NewResponse([]string{"e"}, 5, Params{Limit: 2, Offset: 4})
	if last.HasMore {
		t.Error("last page should not have more")
	}
	empty := NewResponse[string](nil, 0, Params{Limit: 2})
	if empty.Data == nil {
		t.Error("expected non-nil empty slice")
	}
}

func TestNextOffset(t *testing.T) {
	if (Params{Limit: 20, Offset: 40}).NextOffset() != 60 {
		t.Error("unexpected next offset")
	}
}
