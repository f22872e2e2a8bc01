package adminapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsMiddlewareEmitsRequestCounters(t *testing.T) {
	mux := NewMux(&mockService{ready: true})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	mux.ServeHTTP(metricsRec, metricsReq)

	if !strings.Contains(metricsRec.Body.String(), "noded_http_requests_total") {
		t.Fatalf("expected noded_http_requests_total in metrics output")
	}
}

func TestIncrementActionIncrementsCounter(t *testing.T) {
	IncrementAction("despawn", "ok")
	IncrementAction("despawn", "")

	mux := NewMux(&mockService{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, series := range []string{
		`noded_admin_actions_total{action="despawn",result="ok"}`,
		`noded_admin_actions_total{action="despawn",result="unspecified"}`,
	} {
		if !strings.Contains(body, series) {
			t.Fatalf("expected %s in metrics output", series)
		}
	}
}
