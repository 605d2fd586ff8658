package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const slowRequest = 100 * time.Millisecond

// AccessLog logs one line per request and feeds the request metrics.
func AccessLog(log zerolog.Logger, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				duration := time.Since(start)
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				route := "unmatched"
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					route = rctx.RoutePattern()
				}
				metrics.ObserveRequest(r.Method, route, status, duration.Seconds())

				var entry *zerolog.Event
				switch {
				case status >= 500:
					entry = log.Error()
				case status >= 400:
					entry = log.Warn()
				default:
					entry = log.Info()
				}
				entry = entry.
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("route", route).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration_ms", duration).
					Str("ip", r.RemoteAddr).
					Str("request_id", middleware.GetReqID(r.Context()))
				if duration > slowRequest {
					entry = entry.Bool("slow", true)
				}
				entry.Msg("http request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// RequestTimeout bounds the request context. Unlike chi's Timeout it never
// writes a response, so the status comes from the handler's error mapping.
func RequestTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
