package httpapi

import (
	"net/http"
	"time"

	"github.com/CrisisTextLine/lightq/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the chi mux for the /queue surface plus the /healthz and
// /metrics adjuncts. Every route is logged at Info on completion with
// requestId/consumerGroup/status.
func NewRouter(engine *API, logger telemetry.Logger, healthz http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/queue", func(r chi.Router) {
		r.Post("/push", engine.handlePush)
		r.Post("/batch/push", engine.handleBatchPush)
		r.Get("/pop", engine.handlePop)
		r.Post("/ack", engine.handleAck)
		r.Post("/nack", engine.handleNack)
		r.Post("/extend-visibility", engine.handleExtendVisibility)
		r.Get("/view", engine.handleView)
		r.Get("/dlq/view", engine.handleDLQView)
		r.Post("/dlq/replay", engine.handleDLQReplay)
	})

	return r
}

// requestLogger logs every request's completion with its request-scoped
// fields.
func requestLogger(logger telemetry.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				"requestId", middleware.GetReqID(r.Context()),
				"consumerGroup", r.Header.Get(headerConsumerGroup),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"durationMs", time.Since(start).Milliseconds(),
			)
		})
	}
}
