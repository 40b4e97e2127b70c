package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Hawyaa/alora-backend/internal/logger"
	"github.com/go-chi/chi/v5/middleware"
)

// RequestLogger tags the request context with its request id and logs one line per request.
// It must run after middleware.RequestID.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := middleware.GetReqID(r.Context())
			ctx := logger.WithAttrs(r.Context(), slog.String("request_id", requestID))
			w.Header().Set(middleware.RequestIDHeader, requestID)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))

			log.InfoContext(ctx, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}
