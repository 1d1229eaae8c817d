package organization

import (
	"time"
)

type Plan string

const (
	Basic        Plan = "BASIC"
	Professional Plan = "PROFESSIONAL"
	Enterprise   Plan = "ENTERPRISE"
)

type Limits struct {
	MaxLicenses int64 `json:"max_licenses"`
	MaxUsers    int64 `json:"max_users"`
}

var planLimits = map[Plan]Limits{
	Basic:        {MaxLicenses: 100, MaxUsers: 1},
	Professional: {MaxLicenses: 1000, MaxUsers: 5},
	Enterprise:   {MaxLicenses: 10000, MaxUsers: 25},
}

func (p Plan) Valid() bool {
	_, ok := planLimits[p]
	return ok
}

func (p Plan) Limits() Limits {
	return planLimits[p]
}

func (p Plan) String() string {
	if p.Valid() {
		return string(p)
	}
	return ""
}

type Organization struct {
	ID           string    `gorm:"column:id;primaryKey" json:"id"`
	TenantID     string    `gorm:"column:tenant_id;not null;uniqueIndex:idx_org_tenant_email,priority:1;index" json:"tenant_id"`
	Name         string    `gorm:"column:name;not null" json:"name"`
	Slug         string    `gorm:"column:slug;not null" json:"slug"`
	ContactEmail string    `gorm:"column:contact_email;not null;uniqueIndex:idx_org_tenant_email,priority:2" json:"contact_email"`
	Plan         Plan      `gorm:"column:plan;not null" json:"plan"`
	Active       bool      `gorm:"column:active;not null" json:"active"`
	Version      int64     `gorm:"column:version;not null" json:"version"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Organization) TableName() string { return "organizations" }

func (o *Organization) TenantKey() string { return o.TenantID }
