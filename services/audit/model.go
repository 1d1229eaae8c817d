package audit

import (
	"time"

	"gorm.io/datatypes"
)

type EntityType string

const (
	EntityLicense      EntityType = "LICENSE"
	EntityOrganization EntityType = "ORGANIZATION"
)

type Action string

const (
	ActionCreate     Action = "CREATE"
	ActionUpdate     Action = "UPDATE"
	ActionExtend     Action = "EXTEND"
	ActionSuspend    Action = "SUSPEND"
	ActionReactivate Action = "REACTIVATE"
	ActionRevoke     Action = "REVOKE"
	ActionExpire     Action = "EXPIRE"
	ActionFeatures   Action = "UPDATE_FEATURES"
	ActionActivate   Action = "ACTIVATE"
	ActionDeactivate Action = "DEACTIVATE"
)

// AuditLog rows are append only.
type AuditLog struct {
	ID         string            `gorm:"column:id;primaryKey" json:"id"`
	TenantID   string            `gorm:"column:tenant_id;not null;index:idx_audit_tenant_entity,priority:1;index:idx_audit_tenant_created,priority:1" json:"tenant_id"`
	EntityType EntityType        `gorm:"column:entity_type;not null;index:idx_audit_tenant_entity,priority:2" json:"entity_type"`
	EntityID   string            `gorm:"column:entity_id;not null;index:idx_audit_tenant_entity,priority:3" json:"entity_id"`
	Action     Action            `gorm:"column:action;not null" json:"action"`
	UserID     string            `gorm:"column:user_id;not null" json:"user_id"`
	Details    datatypes.JSONMap `gorm:"column:details" json:"details,omitempty"`
	CreatedAt  time.Time         `gorm:"column:created_at;index:idx_audit_tenant_created,priority:2" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

func (a *AuditLog) TenantKey() string { return a.TenantID }

// Entry is what a service records for one change.
type Entry struct {
	EntityType EntityType
	EntityID   string
	Action     Action
	UserID     string
	Details    map[string]any
}
