package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestHandler_exposes_pipeline_metrics(t *testing.T) {
	m := New()
	m.IncAssetsIngested("videos")
	m.IncAssetsFinished("ready")
	m.AddSegmentUploaded(1024)
	m.IncJobFailures("transcode")

	refreshed := false
	rec := httptest.NewRecorder()
	m.Handler(func() {
		refreshed = true
		m.SetActiveAssets(2)
		m.SetPoolStats(1, 3)
	}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !refreshed {
		t.Error("expected gauges to be refreshed before scrape")
	}
	body := rec.Body.String()
	for _, want := range []string{
		`abr_assets_ingested_total{collection="videos"} 1`,
		`abr_assets_finished_total{state="ready"} 1`,
		"abr_segment_bytes_total 1024",
		`abr_job_failures_total{class="transcode"} 1`,
		"abr_active_assets 2",
		"abr_pool_queued_jobs 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in scrape", want)
		}
	}
}

func TestRequestMiddleware_counts_by_route(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(RequestMiddleware(m))
	r.Get("/assets/{asset_id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "asset_id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
		}
	})
	for _, p := range []string{"/assets/a1", "/assets/missing", "/assets/a2", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	rec := httptest.NewRecorder()
	m.Handler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`abr_http_requests_total{method="GET",route="/assets/{asset_id}"} 3`,
		`abr_http_requests_total{method="GET",route="unmatched"} 1`,
		`abr_http_errors_total{class="4xx"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}
}
