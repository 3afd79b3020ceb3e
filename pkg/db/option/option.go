package option

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a gorm query before it is executed.
type QueryOption func(tx *gorm.DB) *gorm.DB

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

func WithSortBy(sort QuerySortBy) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		column := sort.SortBy
		if column == "" {
			column = "created_at"
		}
		if sort.Allow != nil && !sort.Allow[column] {
			return tx
		}
		order := "ASC"
		if sort.OrderBy == "desc" || sort.OrderBy == "DESC" {
			order = "DESC"
		}
		return tx.Order(fmt.Sprintf("%s %s", column, order))
	}
}

func WithLimit(limit int) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return tx
		}
		return tx.Limit(limit)
	}
}

// WithLockingUpdate takes a row-level FOR UPDATE lock. SQLite has no row
// locks and rejects the clause, so it is skipped there; the single-writer
// model already serializes test databases.
func WithLockingUpdate() QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		return LockingUpdate(tx)
	}
}

func LockingUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
