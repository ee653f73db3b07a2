package middleware

import (
	"net/http"

	"github.com/collab/admin/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxLoginAttr bounds the login recorded on spans
const maxLoginAttr = 128

// healthPaths are polled by orchestrators and never traced
var healthPaths = map[string]bool{"/ping": true, "/health": true}

// Tracing starts a server span per request through otelgin, named after the
// route pattern. Liveness checks are skipped. A disabled tracer passes
// requests through untouched.
func Tracing(service string, enabled bool) gin.HandlerFunc {
	if !enabled {
		return passThrough
	}
	return otelgin.Middleware(service,
		otelgin.WithGinFilter(func(c *gin.Context) bool { return !healthPaths[c.FullPath()] }),
	)
}

// AnnotateSpan records the request ID, the resolved tenant and the caller's
// login on the request span once the handlers have run, and marks 4xx and
// 5xx responses as errors. The secret is never recorded. It must run after
// Tracing; the tenant is only known when ResolveTenant ran for the route.
func AnnotateSpan() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}
		span.SetAttributes(requestAttributes(c)...)
		if status := c.Writer.Status(); status >= http.StatusBadRequest {
			span.SetAttributes(telemetry.AttrHTTPStatusCode.Int(status))
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func requestAttributes(c *gin.Context) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if id := GetRequestID(c); id != "" {
		attrs = append(attrs, attribute.String("request_id", id))
	}
	if tenantID := GetTenantID(c); tenantID != 0 {
		attrs = append(attrs, telemetry.AttrTenantID.Int64(tenantID))
	}
	if login, _, ok := c.Request.BasicAuth(); ok && login != "" {
		attrs = append(attrs, telemetry.AttrLogin.String(login[:min(len(login), maxLoginAttr)]))
	}
	return attrs
}
