package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordSpans installs a global tracer provider that keeps ended spans
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(t.Context())
		otel.SetTracerProvider(prev)
	})
	return sr
}

func attrsOf(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(span.Attributes()))
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func tracedRouter(enabled bool) *gin.Engine {
	router := gin.New()
	router.Use(RequestID(), Tracing("admin-test", enabled), AnnotateSpan())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/tenants/:tenant/accounts", ResolveTenant(nil), func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/fail", func(c *gin.Context) { c.Status(http.StatusConflict) })
	return router
}

func TestTracing_Spans(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		path    string
		spans   int
	}{
		{"disabled", false, "/tenants/5/accounts", 0},
		{"admin route", true, "/tenants/5/accounts", 1},
		{"health check skipped", true, "/ping", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr := recordSpans(t)
			w := httptest.NewRecorder()
			tracedRouter(tt.enabled).ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Len(t, sr.Ended(), tt.spans)
		})
	}
}

func TestAnnotateSpan(t *testing.T) {
	sr := recordSpans(t)

	req := httptest.NewRequest(http.MethodGet, "/tenants/5/accounts", nil)
	req.SetBasicAuth(strings.Repeat("a", 200), "do-not-record")
	req.Header.Set(RequestIDHeader, "req-55")
	w := httptest.NewRecorder()
	tracedRouter(true).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /tenants/:tenant/accounts", spans[0].Name())

	attrs := attrsOf(spans[0])
	assert.Equal(t, "req-55", attrs["request_id"].AsString())
	assert.Equal(t, int64(5), attrs["tenant_id"].AsInt64())
	assert.Len(t, attrs["login"].AsString(), maxLoginAttr)
	for _, v := range attrs {
		assert.NotContains(t, v.Emit(), "do-not-record")
	}
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)
}

func TestAnnotateSpan_MarksErrors(t *testing.T) {
	sr := recordSpans(t)

	w := httptest.NewRecorder()
	tracedRouter(true).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "Conflict", spans[0].Status().Description)
	assert.Equal(t, int64(http.StatusConflict), attrsOf(spans[0])["http.status_code"].AsInt64())
}
