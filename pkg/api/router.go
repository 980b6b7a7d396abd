package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hearing-processor/pkg/metrics"
)

// NewRouter wires every hearing route plus health and metrics endpoints.
func NewRouter(h *Handlers, m *metrics.Metrics) *mux.Router {
	router := mux.NewRouter()
	router.Use(h.instrument(m))

	hearing := router.PathPrefix("/hearing").Subrouter()
	hearing.HandleFunc("/process", h.ProcessHandler).Methods(http.MethodPost)
	hearing.HandleFunc("/status/{sessionId}", h.StatusHandler).Methods(http.MethodGet)
	hearing.HandleFunc("/transcript/{sessionId}", h.TranscriptHandler).Methods(http.MethodGet)
	hearing.HandleFunc("/probability/{sessionId}", h.ProbabilityHandler).Methods(http.MethodGet)
	hearing.HandleFunc("/judgment/{sessionId}", h.JudgmentHandler).Methods(http.MethodGet)
	hearing.HandleFunc("/export/{sessionId}", h.ExportHandler).Methods(http.MethodGet)
	hearing.HandleFunc("/pdf/{sessionId}", h.DocumentHandler).Methods(http.MethodGet)
	hearing.HandleFunc("/cancel/{sessionId}", h.CancelHandler).Methods(http.MethodPost)
	hearing.HandleFunc("/sessions", h.SessionsHandler).Methods(http.MethodGet)
	hearing.HandleFunc("/ws", h.WebSocketHandler)

	router.HandleFunc("/healthz", h.HealthHandler).Methods(http.MethodGet)
	if m != nil {
		router.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	}
	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// instrument records request metrics by route template and logs each request.
func (h *Handlers) instrument(m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			endpoint := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					endpoint = tpl
				}
			}
			elapsed := time.Since(start)
			m.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(rec.status), elapsed.Seconds())

			h.log.WithRequest(r).WithField("status", rec.status).
				WithField("duration", elapsed.String()).Debug("request served")
		})
	}
}
