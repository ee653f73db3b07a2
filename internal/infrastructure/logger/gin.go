package logger

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Keys under which the HTTP layer stores per-request values on the gin context.
const (
	RequestIDKey     = "request_id"
	RequestLoggerKey = "request_logger"
)

const accessMessage = "request served"

// AccessLog writes one line per request once the handler chain returns.
// The request logger it installs carries the request id and, on routes
// with a numeric :tenant parameter, the tenant id.
func AccessLog(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		began := time.Now()

		ctx, l := WithRequestID(c.Request.Context(), base, c.GetString(RequestIDKey))
		if id, err := strconv.ParseInt(c.Param("tenant"), 10, 64); err == nil {
			ctx, l = WithTenantID(ctx, l, id)
		}
		l = l.With(zap.String("method", c.Request.Method), zap.String("route", c.FullPath()))
		c.Request = c.Request.WithContext(WithContext(ctx, l))
		c.Set(RequestLoggerKey, l)

		c.Next()

		// Later middleware may have replaced the logger with a richer one.
		l = Request(c)
		status := c.Writer.Status()
		ce := l.Check(accessLevel(status), accessMessage)
		if ce == nil {
			return
		}
		fields := []zap.Field{
			zap.Int("status", status),
			zap.Duration("latency", time.Since(began)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("body_size", c.Writer.Size()),
		}
		if errs := c.Errors.Errors(); len(errs) > 0 {
			fields = append(fields, zap.Strings("errors", errs))
		}
		ce.Write(fields...)
	}
}

func accessLevel(status int) zapcore.Level {
	if status >= http.StatusInternalServerError {
		return zapcore.ErrorLevel
	}
	if status >= http.StatusBadRequest {
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}

// Recover answers a panicking handler with a StorageFailure body
func Recover(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			base.Error("handler panicked",
				zap.String("request_id", c.GetString(RequestIDKey)),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Any("panic", p),
				zap.Stack("stacktrace"),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"kind":    "StorageFailure",
				"message": "internal error",
			})
		}()
		c.Next()
	}
}

// Request returns the logger AccessLog installed, or a no-op logger.
func Request(c *gin.Context) *zap.Logger {
	if v, ok := c.Get(RequestLoggerKey); ok {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return zap.NewNop()
}

// SetRequest replaces the request logger for the rest of the chain.
func SetRequest(c *gin.Context, l *zap.Logger) {
	c.Set(RequestLoggerKey, l)
}
