package config

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/mmdatafocus/bills_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

const ownerColumn = "owner_id"

var (
	// ErrOwnerScopeMissing is returned for a statement on an owned table when the
	// context carries neither an owner id nor the maintenance bypass flag.
	ErrOwnerScopeMissing = errors.New("owner scope missing from context")
	// ErrOwnerMismatch is returned when a statement names a different owner
	// than the one the context is scoped to.
	ErrOwnerMismatch = errors.New("statement owner does not match context owner")
)

// OwnerGuardPlugin keeps every statement on a table with an owner_id column
// inside the owner carried by the statement context:
//
//   - reads, updates and deletes without an owner filter get one appended;
//   - an explicit owner filter must name the context owner;
//   - inserts have an empty owner_id stamped and a foreign one rejected;
//   - with no owner in context the statement fails unless the bypass flag is set.
//
// Raw SQL is not inspected.
type OwnerGuardPlugin struct{}

func NewOwnerGuardPlugin() *OwnerGuardPlugin { return &OwnerGuardPlugin{} }

func (p *OwnerGuardPlugin) Name() string { return "owner_guard" }

func (p *OwnerGuardPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").Register("owner_guard:create", stampOwner); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("owner_guard:query", scopeToOwner); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("owner_guard:row", scopeToOwner); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("owner_guard:update", scopeToOwner); err != nil {
		return err
	}
	return cb.Delete().Before("gorm:delete").Register("owner_guard:delete", scopeToOwner)
}

// contextOwner reports the owner the statement must stay inside. guarded is
// false for tables without an owner column and for bypassed contexts.
func contextOwner(db *gorm.DB) (ownerId string, field *schema.Field, guarded bool) {
	stmt := db.Statement
	if stmt == nil || stmt.Schema == nil || db.Error != nil {
		return "", nil, false
	}
	field = stmt.Schema.LookUpField(ownerColumn)
	if field == nil {
		return "", nil, false
	}
	ctx := stmt.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if skip, _ := appctx.GetBool(ctx, appctx.ContextKeySkipOwnerScope); skip {
		return "", nil, false
	}
	ownerId, _ = appctx.GetString(ctx, appctx.ContextKeyOwnerId)
	if ownerId == "" {
		db.AddError(fmt.Errorf("%w: table %s", ErrOwnerScopeMissing, stmt.Table))
		return "", nil, false
	}
	return ownerId, field, true
}

func scopeToOwner(db *gorm.DB) {
	ownerId, _, guarded := contextOwner(db)
	if !guarded {
		return
	}

	bound := boundOwners(db.Statement.Clauses["WHERE"])
	for _, v := range bound {
		if fmt.Sprint(v) != ownerId {
			db.AddError(fmt.Errorf("%w: %v", ErrOwnerMismatch, v))
			return
		}
	}
	if len(bound) > 0 {
		return
	}

	db.Statement.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Eq{Column: clause.Column{Table: db.Statement.Table, Name: ownerColumn}, Value: ownerId},
	}})
}

func stampOwner(db *gorm.DB) {
	ownerId, field, guarded := contextOwner(db)
	if !guarded {
		return
	}
	ctx := db.Statement.Context
	stamp := func(rv reflect.Value) {
		v, zero := field.ValueOf(ctx, rv)
		if zero {
			if err := field.Set(ctx, rv, ownerId); err != nil {
				db.AddError(err)
			}
			return
		}
		if fmt.Sprint(v) != ownerId {
			db.AddError(fmt.Errorf("%w: %v", ErrOwnerMismatch, v))
		}
	}

	rv := db.Statement.ReflectValue
	switch rv.Kind() {
	case reflect.Struct:
		stamp(rv)
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if elem := reflect.Indirect(rv.Index(i)); elem.Kind() == reflect.Struct {
				stamp(elem)
			}
		}
	}
}

// boundOwners collects the values an AND-ed WHERE binds to owner_id.
// Conditions under OR do not scope the statement and are ignored.
func boundOwners(c clause.Clause) []any {
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return nil
	}
	var out []any
	for _, e := range w.Exprs {
		out = append(out, ownersIn(e)...)
	}
	return out
}

func ownersIn(e clause.Expression) []any {
	switch v := e.(type) {
	case clause.Eq:
		if isOwnerColumn(v.Column) {
			return []any{v.Value}
		}
	case clause.IN:
		if isOwnerColumn(v.Column) {
			return v.Values
		}
	case clause.AndConditions:
		var out []any
		for _, x := range v.Exprs {
			out = append(out, ownersIn(x)...)
		}
		return out
	case clause.Expr:
		return ownersInSQL(v.SQL, v.Vars)
	}
	return nil
}

// ownersInSQL reads "owner_id = ?" out of a string condition such as
// Where("owner_id = ? AND estimate_no = ?", ...).
func ownersInSQL(sql string, vars []interface{}) []any {
	lower := strings.ToLower(sql)
	if strings.Contains(lower, " or ") {
		return nil
	}
	var out []any
	for from := 0; ; {
		i := strings.Index(lower[from:], ownerColumn)
		if i < 0 {
			return out
		}
		i += from
		from = i + len(ownerColumn)
		rest := strings.TrimLeft(lower[from:], " `")
		if !strings.HasPrefix(rest, "=") || !strings.HasPrefix(strings.TrimLeft(rest[1:], " "), "?") {
			continue
		}
		if n := strings.Count(lower[:i], "?"); n < len(vars) {
			out = append(out, vars[n])
		}
	}
}

func isOwnerColumn(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, ownerColumn)
	case clause.Column:
		return strings.EqualFold(c.Name, ownerColumn)
	}
	return false
}
