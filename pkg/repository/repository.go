package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"sendloop-engine/pkg/db/option"
)

// Repository is a thin generic persistence boundary over gorm. Query structs
// are matched by their non-zero fields, the way gorm's struct conditions
// work.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	BatchCreate(ctx context.Context, resources []*T) error
	Update(ctx context.Context, resourceID string, resource any) error
	// UpdateMatched applies updates to every row matching the query and
	// reports how many rows were touched. Zero means the guard condition
	// no longer held; callers use this for compare-and-set transitions.
	UpdateMatched(ctx context.Context, query *T, updates any) (int64, error)
	Count(ctx context.Context, query *T) (int64, error)
}

type store[T any] struct {
	db *gorm.DB
}

func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db}
}

func (s *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	if tx == nil {
		return s
	}
	return &store[T]{db: tx}
}

func (s *store[T]) apply(tx *gorm.DB, opts []option.QueryOption) *gorm.DB {
	for _, opt := range opts {
		tx = opt(tx)
	}
	return tx
}

func (s *store[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	var out []*T
	tx := s.apply(s.db.WithContext(ctx).Where(query), opts)
	if err := tx.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// FindOne returns (nil, nil) when no row matches.
func (s *store[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	var out T
	tx := s.apply(s.db.WithContext(ctx).Where(query), opts)
	if err := tx.First(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (s *store[T]) Create(ctx context.Context, resource *T) error {
	return s.db.WithContext(ctx).Create(resource).Error
}

func (s *store[T]) BatchCreate(ctx context.Context, resources []*T) error {
	if len(resources) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(resources).Error
}

func (s *store[T]) Update(ctx context.Context, resourceID string, resource any) error {
	var model T
	return s.db.WithContext(ctx).Model(&model).Where("id = ?", resourceID).Updates(resource).Error
}

func (s *store[T]) UpdateMatched(ctx context.Context, query *T, updates any) (int64, error) {
	var model T
	tx := s.db.WithContext(ctx).Model(&model).Where(query).Updates(updates)
	return tx.RowsAffected, tx.Error
}

func (s *store[T]) Count(ctx context.Context, query *T) (int64, error) {
	var model T
	var count int64
	if err := s.db.WithContext(ctx).Model(&model).Where(query).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
