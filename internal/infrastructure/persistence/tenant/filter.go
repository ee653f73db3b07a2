package tenant

import (
	"strings"

	"github.com/collab/admin/internal/infrastructure/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// register is the part of a GORM callback chain Filter needs
type register interface {
	Register(name string, fn func(*gorm.DB)) error
}

// Filter is a GORM plugin that restricts queries, updates and deletes on
// tenant-owned tables to the tenant stored in the statement context, unless
// the statement already names a tenant. Creates are left alone: models carry
// their tenant explicitly. With Strict set, a statement without a context
// tenant fails with ErrTenantIDRequired.
type Filter struct {
	Strict bool
}

func (Filter) Name() string { return "tenant:filter" }

func (f Filter) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	hooks := map[string]register{
		"query":  cb.Query().Before("gorm:query"),
		"update": cb.Update().Before("gorm:update"),
		"delete": cb.Delete().Before("gorm:delete"),
		"row":    cb.Row().Before("gorm:row"),
	}
	for stage, hook := range hooks {
		if err := hook.Register("tenant:"+stage, f.apply); err != nil {
			return err
		}
	}
	return nil
}

func (f Filter) apply(db *gorm.DB) {
	st := db.Statement
	if st.Unscoped || st.Context == nil || st.Schema == nil || st.Schema.LookUpField(Column) == nil {
		return
	}
	if mentionsTenant(st) {
		return
	}

	id := logger.GetTenantID(st.Context)
	switch {
	case id < 0:
		_ = db.AddError(ErrInvalidTenantID)
	case id == 0 && f.Strict:
		_ = db.AddError(ErrTenantIDRequired)
	case id > 0:
		st.AddClause(clause.Where{Exprs: []clause.Expression{condition(id)}})
	}
}

func mentionsTenant(st *gorm.Statement) bool {
	if c, ok := st.Clauses["WHERE"]; ok {
		if where, ok := c.Expression.(clause.Where); ok && anyNamesTenant(where.Exprs) {
			return true
		}
	}
	return strings.Contains(st.SQL.String(), Column)
}

func anyNamesTenant(exprs []clause.Expression) bool {
	for _, e := range exprs {
		if namesTenant(e) {
			return true
		}
	}
	return false
}

func namesTenant(e clause.Expression) bool {
	switch e := e.(type) {
	case clause.Eq:
		return columnName(e.Column) == Column
	case clause.IN:
		return columnName(e.Column) == Column
	case clause.Expr:
		return strings.Contains(e.SQL, Column)
	case clause.NamedExpr:
		return strings.Contains(e.SQL, Column)
	case clause.AndConditions:
		return anyNamesTenant(e.Exprs)
	case clause.OrConditions:
		return anyNamesTenant(e.Exprs)
	}
	return false
}

func columnName(col any) string {
	switch c := col.(type) {
	case clause.Column:
		return c.Name
	case string:
		return c
	}
	return ""
}
