package audit

import (
	"context"
	"time"

	"licensing-controlplane/pkg/db/option"
	"licensing-controlplane/pkg/db/pagination"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/pkg/repository"
	"licensing-controlplane/pkg/tenant"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Recorder is used by the lifecycle services to append an entry inside their
// own transaction.
type Recorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) (*AuditLog, error)
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	repo repository.Repository[AuditLog]
	now  func() time.Time
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		repo: repository.ProvideStore[AuditLog](p.DB),
		now:  func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Record appends an entry for the tenant bound to ctx. tx may be nil.
func (s *Service) Record(ctx context.Context, tx *gorm.DB, entry Entry) (*AuditLog, error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	if entry.EntityID == "" || entry.UserID == "" || entry.Action == "" || entry.EntityType == "" {
		return nil, errutil.BadRequest("audit entry is incomplete", errutil.ErrInvalidArgument)
	}

	log := &AuditLog{
		ID:         s.node.Generate().String(),
		TenantID:   tenantID,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		UserID:     entry.UserID,
		CreatedAt:  s.now(),
	}
	if entry.Details != nil {
		log.Details = datatypes.JSONMap(entry.Details)
	}

	if err := s.repo.WithTrx(tx).Create(ctx, log); err != nil {
		logger.WithTrace(ctx).Error("failed to write audit log",
			zap.String("entity_type", string(entry.EntityType)),
			zap.String("entity_id", entry.EntityID),
			zap.Error(err))
		return nil, err
	}

	return log, nil
}

type ListParams struct {
	EntityType EntityType
	EntityID   string
	UserID     string
	Action     Action
	From       time.Time
	To         time.Time
	pagination.Pagination
}

type ListResult struct {
	Logs     []*AuditLog          `json:"audit_logs"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

// List returns the tenant's entries matching every non-zero filter.
func (s *Service) List(ctx context.Context, p ListParams) (*ListResult, error) {
	query := &AuditLog{
		EntityType: p.EntityType,
		EntityID:   p.EntityID,
		UserID:     p.UserID,
		Action:     p.Action,
	}

	var conds []option.Condition
	if !p.From.IsZero() {
		conds = append(conds, option.Condition{Field: "created_at", Operator: option.GreaterThanOrEqual, Value: p.From.UTC()})
	}
	if !p.To.IsZero() {
		conds = append(conds, option.Condition{Field: "created_at", Operator: option.LessThan, Value: p.To.UTC()})
	}

	logs, err := s.repo.Find(ctx, query,
		option.ApplyOperator(conds...),
		option.ApplyPagination(p.Pagination),
	)
	if err != nil {
		return nil, err
	}

	logs, info := pagination.BuildCursorPage(logs, option.NormalizeLimit(p.Limit), func(l *AuditLog) pagination.Cursor {
		return pagination.Cursor{ID: l.ID}
	})

	return &ListResult{Logs: logs, PageInfo: info}, nil
}

func (s *Service) FindByEntity(ctx context.Context, entityType EntityType, entityID string) ([]*AuditLog, error) {
	return s.repo.Find(ctx, &AuditLog{EntityType: entityType, EntityID: entityID},
		option.WithSortBy(option.QuerySortBy{SortBy: "id"}))
}

func (s *Service) FindByAction(ctx context.Context, action Action) ([]*AuditLog, error) {
	return s.repo.Find(ctx, &AuditLog{Action: action},
		option.WithSortBy(option.QuerySortBy{SortBy: "id"}))
}

func (s *Service) FindByUser(ctx context.Context, userID string) ([]*AuditLog, error) {
	return s.repo.Find(ctx, &AuditLog{UserID: userID},
		option.WithSortBy(option.QuerySortBy{SortBy: "id"}))
}
