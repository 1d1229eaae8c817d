// Package repository provides the generic gorm store used by every service.
// All reads and writes are restricted to the tenant bound to the context.
package repository

import (
	"context"
	"errors"

	"licensing-controlplane/pkg/db/option"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/tenant"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	// FindOne returns nil, nil when no row matches.
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, entity *T) error
	Update(ctx context.Context, id string, updates any) error
	// UpdateWithVersion applies updates only while the stored version still
	// equals version, and bumps it by one.
	UpdateWithVersion(ctx context.Context, id string, version int64, updates map[string]any) error
	Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error)
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

func (s *store[T]) scoped(ctx context.Context) (*gorm.DB, error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	var model T
	return s.db.WithContext(ctx).Model(&model).Scopes(tenant.Scope(tenantID)), nil
}

func apply[T any](db *gorm.DB, query *T, opts []option.QueryOption) *gorm.DB {
	if query != nil {
		db = db.Where(query)
	}
	for _, opt := range opts {
		db = opt(db)
	}
	return db
}

func (s *store[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	db, err := s.scoped(ctx)
	if err != nil {
		return nil, err
	}

	var out []*T
	if err := apply(db, query, opts).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *store[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	db, err := s.scoped(ctx)
	if err != nil {
		return nil, err
	}

	var out T
	if err := apply(db, query, opts).Take(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (s *store[T]) Create(ctx context.Context, entity *T) error {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return err
	}

	if owned, ok := any(entity).(tenant.Owned); ok && owned.TenantKey() != tenantID {
		return errutil.BadRequest("entity does not belong to the current tenant", errutil.ErrInvalidTenant)
	}

	return s.db.WithContext(ctx).Create(entity).Error
}

func (s *store[T]) Update(ctx context.Context, id string, updates any) error {
	db, err := s.scoped(ctx)
	if err != nil {
		return err
	}

	return db.Where(clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: "id"}, Value: id}).
		Updates(updates).Error
}

func (s *store[T]) UpdateWithVersion(ctx context.Context, id string, version int64, updates map[string]any) error {
	db, err := s.scoped(ctx)
	if err != nil {
		return err
	}

	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = version + 1

	res := db.
		Where(clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: "id"}, Value: id}).
		Where(clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: "version"}, Value: version}).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.Conflict("record was modified concurrently", errutil.ErrConcurrentModification)
	}
	return nil
}

func (s *store[T]) Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error) {
	db, err := s.scoped(ctx)
	if err != nil {
		return 0, err
	}

	var n int64
	if err := apply(db, query, opts).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
