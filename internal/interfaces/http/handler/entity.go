package handler

import (
	"context"
	"strconv"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/domain/shared"
	"github.com/collab/admin/internal/domain/tenancy"
	"github.com/collab/admin/internal/interfaces/http/dto"
	"github.com/collab/admin/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// AdminService is the administrative surface the HTTP layer drives
type AdminService interface {
	Create(ctx context.Context, tenantID int64, e directory.Entity, creds tenancy.Credentials) (directory.Entity, error)
	Change(ctx context.Context, tenantID int64, e directory.Entity, creds tenancy.Credentials) (directory.Entity, error)
	Delete(ctx context.Context, tenantID int64, refs []directory.Ref, creds tenancy.Credentials) error
	Get(ctx context.Context, tenantID int64, ref directory.Ref, creds tenancy.Credentials) (directory.Entity, error)
	List(ctx context.Context, tenantID int64, kind directory.Kind, filter shared.Filter, creds tenancy.Credentials) (shared.Paginated[directory.Entity], error)
}

// EntityHandler serves create, change, delete, get and list for one entity kind
type EntityHandler struct {
	BaseHandler
	kind    directory.Kind
	service AdminService
}

// NewEntityHandler creates a handler for the given kind
func NewEntityHandler(kind directory.Kind, service AdminService) *EntityHandler {
	return &EntityHandler{kind: kind, service: service}
}

// Kind returns the entity kind served by the handler
func (h *EntityHandler) Kind() directory.Kind {
	return h.kind
}

// Create handles POST /tenants/:tenant/{kind}s
func (h *EntityHandler) Create(c *gin.Context) {
	creds, err := credentials(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	entity, ok := h.bindEntity(c)
	if !ok {
		return
	}

	created, err := h.service.Create(c.Request.Context(), middleware.GetTenantID(c), entity, creds)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, dto.ToEntityResponse(created))
}

// Change handles PUT /tenants/:tenant/{kind}s/:id. The path identifies the
// entity; an ID in the body is ignored.
func (h *EntityHandler) Change(c *gin.Context) {
	creds, err := credentials(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	ref, ok := h.pathRef(c)
	if !ok {
		return
	}
	entity, ok := h.bindEntity(c)
	if !ok {
		return
	}
	entity.SetEntityID(ref.ID)
	if ref.ID == 0 {
		if entity.EntityName() != "" && entity.EntityName() != ref.Name {
			h.InvalidData(c, "invalid data: name: cannot rename an entity addressed by name")
			return
		}
		entity.SetEntityName(ref.Name)
	}

	changed, err := h.service.Change(c.Request.Context(), middleware.GetTenantID(c), entity, creds)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToEntityResponse(changed))
}

// Get handles GET /tenants/:tenant/{kind}s/:id
func (h *EntityHandler) Get(c *gin.Context) {
	creds, err := credentials(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	ref, ok := h.pathRef(c)
	if !ok {
		return
	}

	entity, err := h.service.Get(c.Request.Context(), middleware.GetTenantID(c), ref, creds)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToEntityResponse(entity))
}

// List handles GET /tenants/:tenant/{kind}s
func (h *EntityHandler) List(c *gin.Context) {
	creds, err := credentials(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	req := dto.DefaultListRequest()
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleBindError(c, err)
		return
	}

	page, err := h.service.List(c.Request.Context(), middleware.GetTenantID(c), h.kind, req.ToFilter(), creds)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Page(c, dto.ToEntityResponses(page.Items), dto.MetaOf(page))
}

// Delete handles DELETE /tenants/:tenant/{kind}s/:id
func (h *EntityHandler) Delete(c *gin.Context) {
	creds, err := credentials(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	ref, ok := h.pathRef(c)
	if !ok {
		return
	}
	h.delete(c, []directory.Ref{ref}, creds)
}

// DeleteBatch handles DELETE /tenants/:tenant/{kind}s with a body naming
// the entities. Every entity is attempted; failures are reported together.
func (h *EntityHandler) DeleteBatch(c *gin.Context) {
	creds, err := credentials(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	var req dto.DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleBindError(c, err)
		return
	}
	if req.IsEmpty() {
		h.InvalidData(c, "invalid data: ids: required")
		return
	}
	h.delete(c, req.Refs(h.kind), creds)
}

func (h *EntityHandler) delete(c *gin.Context, refs []directory.Ref, creds tenancy.Credentials) {
	if err := h.service.Delete(c.Request.Context(), middleware.GetTenantID(c), refs, creds); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// pathRef reads :id as a numeric ID, or as a name when ?by=name is given
func (h *EntityHandler) pathRef(c *gin.Context) (directory.Ref, bool) {
	raw := c.Param("id")
	if c.Query("by") == "name" {
		return directory.ByName(h.kind, raw), true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.InvalidData(c, "invalid data: id: must be a positive integer")
		return directory.Ref{}, false
	}
	return directory.ByID(h.kind, id), true
}

func (h *EntityHandler) bindEntity(c *gin.Context) (directory.Entity, bool) {
	req, err := dto.NewEntityRequest(h.kind)
	if err != nil {
		h.HandleError(c, shared.StorageFailure("decode request", err))
		return nil, false
	}
	if err := c.ShouldBindJSON(req); err != nil {
		middleware.HandleBindError(c, err)
		return nil, false
	}
	return req.ToEntity(), true
}

// RegisterRoutes mounts the handler on a tenant-scoped group
func (h *EntityHandler) RegisterRoutes(rg *gin.RouterGroup) {
	path := "/" + string(h.kind) + "s"
	rg.POST(path, h.Create)
	rg.GET(path, h.List)
	rg.DELETE(path, h.DeleteBatch)
	rg.GET(path+"/:id", h.Get)
	rg.PUT(path+"/:id", h.Change)
	rg.DELETE(path+"/:id", h.Delete)
}

// NewEntityHandlers creates one handler per entity kind
func NewEntityHandlers(service AdminService) []*EntityHandler {
	handlers := make([]*EntityHandler, 0, len(directory.Kinds))
	for _, kind := range directory.Kinds {
		handlers = append(handlers, NewEntityHandler(kind, service))
	}
	return handlers
}
