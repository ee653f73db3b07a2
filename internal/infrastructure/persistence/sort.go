package persistence

import (
	"github.com/collab/admin/internal/domain/shared"
	"gorm.io/gorm/clause"
)

// Columns a listing may be ordered by. Anything else falls back to id, so
// caller input never reaches the ORDER BY clause as raw SQL.
var (
	directorySortColumns = []string{"id", "created_at", "updated_at", "name", "display_name"}
	tenantSortColumns    = []string{"id", "created_at", "updated_at", "name", "status"}
)

func orderBy(filter shared.Filter, columns []string) clause.OrderByColumn {
	name, desc := filter.Sort(columns...)
	return clause.OrderByColumn{Column: clause.Column{Name: name}, Desc: desc}
}
