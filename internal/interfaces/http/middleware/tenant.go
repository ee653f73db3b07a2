package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/collab/admin/internal/domain/shared"
	"github.com/collab/admin/internal/domain/tenancy"
	"github.com/collab/admin/internal/infrastructure/logger"
	"github.com/collab/admin/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Gin context keys set by ResolveTenant
const (
	TenantIDKey    = "tenant_id"
	TenantParamKey = "tenant"
)

// TenantLookup finds tenants by name
type TenantLookup interface {
	FindByName(ctx context.Context, name string) (*tenancy.Tenant, error)
}

// ResolveTenant turns the :tenant path parameter into a tenant ID. Numeric
// parameters are taken as IDs as-is; anything else is looked up by name.
// An unknown name is reported exactly like bad credentials so the API does
// not reveal which tenants exist.
func ResolveTenant(lookup TenantLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param(TenantParamKey)
		if raw == "" {
			c.Next()
			return
		}

		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			id, err = lookupTenant(c, lookup, raw)
			if err != nil {
				abortWithError(c, err)
				return
			}
			ctx, reqLogger := logger.WithTenantID(c.Request.Context(), logger.Request(c), id)
			c.Request = c.Request.WithContext(ctx)
			logger.SetRequest(c, reqLogger)
		}

		c.Set(TenantIDKey, id)
		c.Next()
	}
}

func lookupTenant(c *gin.Context, lookup TenantLookup, name string) (int64, error) {
	if lookup == nil {
		return 0, shared.InvalidCredentials(errors.New("tenant lookup unavailable"))
	}
	tenant, err := lookup.FindByName(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return 0, shared.InvalidCredentials(err)
		}
		logger.Request(c).Error("Tenant lookup failed", zap.String("tenant", name), zap.Error(err))
		return 0, shared.StorageFailure("resolve tenant", err)
	}
	return tenant.ID, nil
}

// GetTenantID returns the tenant resolved for the request, or 0
func GetTenantID(c *gin.Context) int64 {
	if v, ok := c.Get(TenantIDKey); ok {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

// abortWithError writes a failure response and stops the chain
func abortWithError(c *gin.Context, err error) {
	status, body := dto.NewErrorResponse(err, GetRequestID(c))
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", `Basic realm="admin"`)
	}
	c.AbortWithStatusJSON(status, body)
}
