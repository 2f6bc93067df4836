package httpmiddleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"
	"unicode"

	"github.com/K-crypto-trader/crpypto-trader/libs/logging"
	"github.com/K-crypto-trader/crpypto-trader/libs/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	RequestIDHeader   = "X-Request-ID"
	traceParentHeader = "traceparent"

	maxRequestIDLen = 128
	unmatchedRoute  = "unmatched"
)

// RequestID echoes a caller supplied X-Request-ID or mints one. Ids that are
// too long or carry non-printable bytes are replaced.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(RequestIDHeader)
		if !validRequestID(reqID) {
			reqID = uuid.NewString()
		}
		c.Set(RequestIDHeader, reqID)
		c.Header(RequestIDHeader, reqID)
		c.Next()
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, r := range id {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// RequestIDFromContext returns the id set by RequestID, or "".
func RequestIDFromContext(c *gin.Context) string {
	return c.GetString(RequestIDHeader)
}

// Logger writes one line per request and records request metrics. Handlers
// further down the chain can pick up a request scoped logger with
// logging.FromContext.
func Logger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := RequestIDFromContext(c)
		scoped := logger
		if reqID != "" {
			scoped = logger.With(slog.String("request_id", reqID))
		}
		c.Request = c.Request.WithContext(logging.WithLogger(c.Request.Context(), scoped))

		c.Next()
		latency := time.Since(start)

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}

		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status == http.StatusTooManyRequests:
			level = slog.LevelWarn
		}
		scoped.Log(c.Request.Context(), level, "request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("latency", latency),
			slog.String("client_ip", c.ClientIP()),
			slog.String("user_id", c.GetString("user_id")),
			slog.String("traceparent", c.GetHeader(traceParentHeader)),
		)

		code := strconv.Itoa(status)
		metrics.RequestCount.WithLabelValues(c.Request.Method, route, code).Inc()
		metrics.RequestDuration.WithLabelValues(c.Request.Method, route, code).Observe(latency.Seconds())
	}
}

func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logging.FromContext(c.Request.Context(), logger).Error("panic",
					slog.Any("error", err),
					slog.String("path", c.Request.URL.Path),
					slog.String("request_id", RequestIDFromContext(c)),
					slog.String("stack", string(debug.Stack())),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "message": "internal error"})
			}
		}()
		c.Next()
	}
}
