package thttp

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ridge/iosocket/tlog"
	"go.uber.org/zap"
)

// RequestIDHeader is the response header carrying the ID assigned to a request
const RequestIDHeader = "X-Request-ID"

// Log is a middleware that assigns an ID to each request and logs before and
// after handling it
func Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		requestID := uuid.NewString()
		w.Header().Set(RequestIDHeader, requestID)
		ctx := tlog.With(r.Context(),
			zap.String("requestID", requestID),
			zap.String("method", r.Method),
			zap.String("url", r.URL.String()),
		)
		logger := tlog.Get(ctx)
		logger.Debug("HTTP request handling started")
		var status int
		next.ServeHTTP(CaptureStatus(w, &status), r.WithContext(ctx))
		logger.Debug("HTTP request handling ended", zap.Int("statusCode", status), zap.Duration("elapsed", time.Since(started)))
	})
}
