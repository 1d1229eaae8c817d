// Package tenant carries the tenant identifier of a request through
// context.Context and turns it into the mandatory row filter applied by the
// repositories.
package tenant

import (
	"context"
	"strings"

	"licensing-controlplane/pkg/errutil"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const Column = "tenant_id"

type tenantKey struct{}

// Owned is implemented by every persisted entity that belongs to a tenant.
type Owned interface {
	TenantKey() string
}

// WithTenant returns a copy of ctx bound to id. Blank ids are rejected.
func WithTenant(ctx context.Context, id string) (context.Context, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx, errutil.BadRequest("tenant id must not be blank", errutil.ErrInvalidTenant)
	}
	return context.WithValue(ctx, tenantKey{}, id), nil
}

func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(tenantKey{}).(string)
	return id, ok && id != ""
}

// Require returns the tenant bound to ctx or ErrTenantNotSet.
func Require(ctx context.Context) (string, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return "", errutil.BadRequest("tenant context is required", errutil.ErrTenantNotSet)
	}
	return id, nil
}

// Clear detaches the tenant from ctx. Values other than the tenant survive.
func Clear(ctx context.Context) context.Context {
	return context.WithValue(ctx, tenantKey{}, "")
}

// Scope restricts a statement to rows owned by tenantID.
func Scope(tenantID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(clause.Eq{
			Column: clause.Column{Table: clause.CurrentTable, Name: Column},
			Value:  tenantID,
		})
	}
}
