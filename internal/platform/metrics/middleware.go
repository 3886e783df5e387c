package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// statusRecorder captures the status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestMiddleware returns chi middleware that counts requests by method and
// matched route, and error responses by status class. Requests no route
// matched are counted under "unmatched" so raw paths never become labels.
func RequestMiddleware(m *Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			m.IncRequests(r.Method, route)
			switch {
			case rec.status >= 500:
				m.IncErrors("5xx")
			case rec.status >= 400:
				m.IncErrors("4xx")
			}
		})
	}
}
