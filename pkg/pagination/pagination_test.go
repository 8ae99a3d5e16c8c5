package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	c := e.NewContext(req, httptest.NewRecorder())
	return FromContext(c)
}

func TestFromContext(t *testing.T) {
	cases := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"limit=10&offset=30", 10, 30},
		{"limit=0", DefaultLimit, 0},
		{"limit=-5&offset=-1", DefaultLimit, 0},
		{"limit=1000", MaxLimit, 0},
		{"limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tc := range cases {
		got := paramsFor(t, tc.query)
		if got.Limit != tc.wantLimit || got.Offset != tc.wantOffset {
			t.Errorf("query %q: got %+v, want limit=%d offset=%d", tc.query, got, tc.wantLimit, tc.wantOffset)
		}
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]int{1, 2, 3}, 50, 20, 0)
	if !r.HasMore {
		t.Error("expected has_more for first page of 50")
	}
	r = NewResponse([]int{1}, 50, 20, 40)
	if r.HasMore {
		t.Error("expected no more pages past the end")
	}
}
