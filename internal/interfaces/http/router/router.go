// Package router assembles the gin engine: the middleware stack, the system
// endpoints and the tenant-scoped admin API.
package router

import (
	"github.com/collab/admin/internal/infrastructure/logger"
	"github.com/collab/admin/internal/infrastructure/telemetry"
	"github.com/collab/admin/internal/interfaces/http/handler"
	"github.com/collab/admin/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes under /api/<version>
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// Group is a prefixed set of registrars sharing middleware
type Group struct {
	prefix     string
	middleware []gin.HandlerFunc
	members    []RouteRegistrar
}

// NewGroup creates a route group under prefix
func NewGroup(prefix string) *Group {
	return &Group{prefix: prefix}
}

// Use adds middleware to this group
func (g *Group) Use(middleware ...gin.HandlerFunc) *Group {
	g.middleware = append(g.middleware, middleware...)
	return g
}

// Mount adds registrars to this group
func (g *Group) Mount(members ...RouteRegistrar) *Group {
	g.members = append(g.members, members...)
	return g
}

// RegisterRoutes implements RouteRegistrar
func (g *Group) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(g.prefix, g.middleware...)
	for _, m := range g.members {
		m.RegisterRoutes(group)
	}
}

// EngineConfig holds what the middleware stack needs
type EngineConfig struct {
	Logger         *zap.Logger
	MeterProvider  *telemetry.MeterProvider
	TracingEnabled bool
	ServiceName    string
	MaxBodySize    int64
	HSTS           bool
	TrustedProxies []string
}

// NewEngine creates a gin engine with the standard middleware stack:
// recovery, request ID, tracing, request logging, metrics, security headers
// and the body limit.
func NewEngine(cfg EngineConfig) (*gin.Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}
	middleware.SetupValidator()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "collab-admin"
	}

	engine.Use(
		logger.Recover(log),
		middleware.RequestID(),
		middleware.Tracing(serviceName, cfg.TracingEnabled),
		middleware.AnnotateSpan(),
		logger.AccessLog(log),
		middleware.HTTPMetrics(middleware.HTTPMetricsConfig{MeterProvider: cfg.MeterProvider, Enabled: cfg.MeterProvider != nil}),
		middleware.Secure(cfg.HSTS),
		middleware.BodyLimit(cfg.MaxBodySize),
	)
	return engine, nil
}

// AdminRoutes mounts one entity handler per kind under
// /tenants/:tenant, behind tenant resolution
func AdminRoutes(tenants middleware.TenantLookup, service handler.AdminService) *Group {
	group := NewGroup("/tenants/:tenant").Use(middleware.ResolveTenant(tenants))
	for _, h := range handler.NewEntityHandlers(service) {
		group.Mount(h)
	}
	return group
}

// SystemRoutes registers the unauthenticated endpoints at the engine root
func SystemRoutes(engine *gin.Engine, h *handler.SystemHandler) {
	engine.GET("/ping", h.Ping)
	engine.GET("/health", h.Health)
	engine.GET("/info", h.GetSystemInfo)
}
