package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServeDashboard(t *testing.T) {
	rec := httptest.NewRecorder()
	ServeDashboard("/ws")(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "registry_refresh") {
		t.Error("dashboard page not served")
	}
	if !strings.Contains(body, `content="/ws"`) {
		t.Error("events path not rendered into the page")
	}
}
