package option

import (
	"strings"

	"licensing-controlplane/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultLimit = 10
	MaxLimit     = 250
)

type QueryOption func(*gorm.DB) *gorm.DB

type Operator string

const (
	Equal              Operator = "eq"
	NotEqual           Operator = "neq"
	GreaterThan        Operator = "gt"
	GreaterThanOrEqual Operator = "gte"
	LessThan           Operator = "lt"
	LessThanOrEqual    Operator = "lte"
	In                 Operator = "in"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// ApplyOperator adds one predicate per condition. Unknown operators are
// treated as equality.
func ApplyOperator(conds ...Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, c := range conds {
			col := clause.Column{Table: clause.CurrentTable, Name: c.Field}
			var expr clause.Expression
			switch c.Operator {
			case NotEqual:
				expr = clause.Neq{Column: col, Value: c.Value}
			case GreaterThan:
				expr = clause.Gt{Column: col, Value: c.Value}
			case GreaterThanOrEqual:
				expr = clause.Gte{Column: col, Value: c.Value}
			case LessThan:
				expr = clause.Lt{Column: col, Value: c.Value}
			case LessThanOrEqual:
				expr = clause.Lte{Column: col, Value: c.Value}
			case In:
				values, _ := c.Value.([]interface{})
				expr = clause.IN{Column: col, Values: values}
			default:
				expr = clause.Eq{Column: col, Value: c.Value}
			}
			db = db.Where(expr)
		}
		return db
	}
}

// ForUpdate locks the selected rows until the transaction ends. Dialects
// without row locks, like sqlite, ignore it.
func ForUpdate() QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	// Allow lists the columns a caller may sort on. Anything else falls back
	// to created_at.
	Allow map[string]bool
}

func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := s.SortBy
		if column == "" || (s.Allow != nil && !s.Allow[column]) {
			column = "created_at"
		}
		return db.Order(clause.OrderByColumn{
			Column: clause.Column{Table: clause.CurrentTable, Name: column},
			Desc:   strings.EqualFold(s.OrderBy, "desc"),
		})
	}
}

// ApplyPagination orders by id and reads one row past the limit so callers
// can tell whether another page exists.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if p.Cursor != "" {
			if c, err := pagination.DecodeCursor(p.Cursor); err == nil && c.ID != "" {
				db = db.Where(clause.Gt{
					Column: clause.Column{Table: clause.CurrentTable, Name: "id"},
					Value:  c.ID,
				})
			}
		}

		return db.Order(clause.OrderByColumn{
			Column: clause.Column{Table: clause.CurrentTable, Name: "id"},
		}).Limit(NormalizeLimit(p.Limit) + 1)
	}
}

func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
