package shared

import "strings"

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Filter selects one page of a listing
type Filter struct {
	Page     int
	PageSize int
	OrderBy  string
	OrderDir string
	Search   string
}

// DefaultFilter is the first page ordered by id ascending
func DefaultFilter() Filter {
	return Filter{Page: 1, PageSize: defaultPageSize, OrderBy: "id", OrderDir: "asc"}
}

// Limit is the page size clamped to 1..100, 20 when unset
func (f Filter) Limit() int {
	switch {
	case f.PageSize <= 0:
		return defaultPageSize
	case f.PageSize > maxPageSize:
		return maxPageSize
	default:
		return f.PageSize
	}
}

// Offset is the number of rows before the page; pages count from 1
func (f Filter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit()
}

// Sort returns the column to order by, restricted to allowed with "id" as
// the fallback, and whether to sort descending. Only an explicit "asc" sorts
// ascending.
func (f Filter) Sort(allowed ...string) (column string, desc bool) {
	column = "id"
	want := strings.TrimSpace(f.OrderBy)
	for _, c := range allowed {
		if c == want {
			column = c
			break
		}
	}
	return column, !strings.EqualFold(strings.TrimSpace(f.OrderDir), "asc")
}

// PageCount is the number of pages needed for total rows
func PageCount(total int64, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

// Paginated is one page of results with its position in the whole listing
type Paginated[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// NewPaginated wraps items; a non-positive page size counts as the default
func NewPaginated[T any](items []T, total int64, page, pageSize int) Paginated[T] {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return Paginated[T]{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: PageCount(total, pageSize),
	}
}
