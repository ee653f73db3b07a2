package dto

import "github.com/collab/admin/internal/domain/shared"

// Response is the envelope of every successful reply
type Response struct {
	Success bool  `json:"success"`
	Data    any   `json:"data,omitempty"`
	Meta    *Meta `json:"meta,omitempty"`
}

// Meta locates a listed page within the whole listing
type Meta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// MetaOf describes the position of page
func MetaOf[T any](page shared.Paginated[T]) *Meta {
	return &Meta{
		Total:      page.Total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: shared.PageCount(page.Total, page.PageSize),
	}
}

func NewSuccessResponse(data any) Response {
	return Response{Success: true, Data: data}
}

func NewPageResponse(data any, meta *Meta) Response {
	return Response{Success: true, Data: data, Meta: meta}
}

// ListRequest binds the query string of a listing; names sort ascending by
// default.
type ListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	OrderBy  string `form:"order_by"`
	OrderDir string `form:"order_dir" binding:"omitempty,oneof=asc desc"`
	Search   string `form:"search" binding:"max=128"`
}

func DefaultListRequest() ListRequest {
	f := shared.DefaultFilter()
	return ListRequest{Page: f.Page, PageSize: f.PageSize, OrderBy: "name", OrderDir: f.OrderDir}
}

func (r ListRequest) ToFilter() shared.Filter {
	return shared.Filter(r)
}
