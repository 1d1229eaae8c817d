package license

import (
	"time"

	"licensing-controlplane/pkg/errutil"

	"gorm.io/datatypes"
)

type Status string

const (
	Active    Status = "ACTIVE"
	Suspended Status = "SUSPENDED"
	Revoked   Status = "REVOKED"
	Expired   Status = "EXPIRED"
)

func (s Status) Valid() bool {
	switch s {
	case Active, Suspended, Revoked, Expired:
		return true
	default:
		return false
	}
}

type License struct {
	ID             string            `gorm:"column:id;primaryKey" json:"id"`
	TenantID       string            `gorm:"column:tenant_id;not null;index:idx_license_tenant_org,priority:1;index:idx_license_tenant_status,priority:1" json:"tenant_id"`
	OrganizationID string            `gorm:"column:organization_id;not null;index:idx_license_tenant_org,priority:2" json:"organization_id"`
	ProductName    string            `gorm:"column:product_name;not null" json:"product_name"`
	CustomerEmail  string            `gorm:"column:customer_email;not null;index" json:"customer_email"`
	ExpiresAt      time.Time         `gorm:"column:expires_at;not null;index" json:"expires_at"`
	Status         Status            `gorm:"column:status;not null;index:idx_license_tenant_status,priority:2" json:"status"`
	Features       datatypes.JSONMap `gorm:"column:features" json:"features"`
	Signature      string            `gorm:"column:signature;type:text" json:"signature"`
	Version        int64             `gorm:"column:version;not null" json:"version"`
	CreatedAt      time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"column:updated_at" json:"updated_at"`

	// Token is the signed license token issued with the latest change.
	Token string `gorm:"-" json:"token,omitempty"`
}

func (License) TableName() string { return "licenses" }

func (l *License) TenantKey() string { return l.TenantID }

// IsLive reports whether the license currently grants entitlements.
func (l *License) IsLive(now time.Time) bool {
	return l.Status == Active && now.Before(l.ExpiresAt)
}

// EffectiveStatus is the status observed at now. An ACTIVE license past its
// expiry reads as EXPIRED even before the row is updated.
func (l *License) EffectiveStatus(now time.Time) Status {
	if l.Status == Active && !now.Before(l.ExpiresAt) {
		return Expired
	}
	return l.Status
}

// DueForExpiry reports whether the system should expire l at now. A license
// changed on or after its expiry date, such as one reactivated past expiry,
// stays as the operator left it.
func (l *License) DueForExpiry(now time.Time) bool {
	if l.Status != Active && l.Status != Suspended {
		return false
	}
	return !now.Before(l.ExpiresAt) && l.UpdatedAt.Before(l.ExpiresAt)
}

func invalidTransition(msg string) error {
	return errutil.UnprocessableEntity(msg, errutil.ErrInvalidTransition)
}

func (l *License) guardRevoked() error {
	if l.Status == Revoked {
		return invalidTransition("license is revoked")
	}
	return nil
}

func (l *License) touch(now time.Time) {
	l.UpdatedAt = now
}

// Suspend moves ACTIVE to SUSPENDED.
func (l *License) Suspend(now time.Time) error {
	if err := l.guardRevoked(); err != nil {
		return err
	}
	if l.Status != Active {
		return invalidTransition("only active licenses can be suspended")
	}
	l.Status = Suspended
	l.touch(now)
	return nil
}

// Reactivate moves SUSPENDED or EXPIRED back to ACTIVE. The expiry date is
// not re-checked, a reactivated license past its expiry is not live.
func (l *License) Reactivate(now time.Time) error {
	if err := l.guardRevoked(); err != nil {
		return err
	}
	if l.Status != Suspended && l.Status != Expired {
		return invalidTransition("only suspended or expired licenses can be reactivated")
	}
	l.Status = Active
	l.touch(now)
	return nil
}

// Revoke is terminal.
func (l *License) Revoke(now time.Time) error {
	if err := l.guardRevoked(); err != nil {
		return err
	}
	l.Status = Revoked
	l.touch(now)
	return nil
}

func (l *License) Expire(now time.Time) error {
	if err := l.guardRevoked(); err != nil {
		return err
	}
	if l.Status != Active && l.Status != Suspended {
		return invalidTransition("only active or suspended licenses can expire")
	}
	l.Status = Expired
	l.touch(now)
	return nil
}

// Extend moves the expiry forward. The status is unchanged.
func (l *License) Extend(newExpiry, now time.Time) error {
	if err := l.guardRevoked(); err != nil {
		return err
	}
	newExpiry = normalizeTime(newExpiry)
	if !newExpiry.After(l.ExpiresAt) {
		return errutil.BadRequest("new expiry must be later than the current expiry", errutil.ErrInvalidArgument)
	}
	l.ExpiresAt = newExpiry
	l.touch(now)
	return nil
}

// UpdateFeatures replaces the whole feature map.
func (l *License) UpdateFeatures(features map[string]any, now time.Time) error {
	if err := l.guardRevoked(); err != nil {
		return err
	}
	if features == nil {
		return errutil.BadRequest("features must not be null", errutil.ErrInvalidArgument)
	}
	l.Features = datatypes.JSONMap(features)
	l.touch(now)
	return nil
}

// normalizeTime keeps microseconds. Postgres and sqlite store them natively,
// mysql columns are created with DATETIME(6).
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
