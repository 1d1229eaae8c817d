package organization

import (
	"context"
	"errors"
	"strings"
	"time"

	"licensing-controlplane/pkg/db/option"
	"licensing-controlplane/pkg/db/pagination"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/pkg/repository"
	"licensing-controlplane/pkg/tenant"
	"licensing-controlplane/pkg/validation"
	"licensing-controlplane/services/audit"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	audit audit.Recorder
	repo  repository.Repository[Organization]
	now   func() time.Time
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Audit audit.Recorder
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		audit: p.Audit,
		repo:  repository.ProvideStore[Organization](p.DB),
		now:   func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

type CreateParams struct {
	Name         string `json:"name" validate:"required,max=255"`
	ContactEmail string `json:"contact_email" validate:"required,email,max=255"`
	Plan         Plan   `json:"plan" validate:"required,oneof=BASIC PROFESSIONAL ENTERPRISE"`
}

type UpdateParams struct {
	Name         *string `json:"name,omitempty" validate:"omitnil,required,max=255"`
	ContactEmail *string `json:"contact_email,omitempty" validate:"omitnil,required,email,max=255"`
	Plan         *Plan   `json:"plan,omitempty" validate:"omitnil,required,oneof=BASIC PROFESSIONAL ENTERPRISE"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func duplicateEmail() error {
	return errutil.Conflict("contact email is already used by another organization", errutil.ErrDuplicateEmail)
}

func requireActor(actorID string) error {
	if strings.TrimSpace(actorID) == "" {
		return errutil.BadRequest("actor is required", errutil.ErrInvalidArgument)
	}
	return nil
}

func notFound() error {
	return errutil.NotFound("organization not found", errutil.ErrNotFound)
}

func (s *Service) Create(ctx context.Context, p CreateParams, actorID string) (*Organization, error) {
	zapLog := logger.WithTrace(ctx)

	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	p.Name = strings.TrimSpace(p.Name)
	p.ContactEmail = normalizeEmail(p.ContactEmail)
	if err := validation.Struct(p); err != nil {
		return nil, err
	}

	now := s.now()
	org := &Organization{
		ID:           s.node.Generate().String(),
		TenantID:     tenantID,
		Name:         p.Name,
		Slug:         slug.Make(p.Name),
		ContactEmail: p.ContactEmail,
		Plan:         p.Plan,
		Active:       true,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)

		exist, err := repo.FindOne(ctx, &Organization{ContactEmail: org.ContactEmail})
		if err != nil {
			return err
		}
		if exist != nil {
			return duplicateEmail()
		}

		if err := repo.Create(ctx, org); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return duplicateEmail()
			}
			return err
		}

		_, err = s.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntityOrganization,
			EntityID:   org.ID,
			Action:     audit.ActionCreate,
			UserID:     actorID,
			Details:    map[string]any{"name": org.Name, "plan": string(org.Plan)},
		})
		return err
	})
	if err != nil {
		zapLog.Warn("failed to create organization", zap.Error(err))
		return nil, err
	}

	zapLog.Info("organization created", zap.String("organization_id", org.ID), zap.String("tenant_id", tenantID))
	return org, nil
}

func (s *Service) FindByID(ctx context.Context, id string) (*Organization, error) {
	return load(ctx, s.repo, id)
}

// load fetches one organization of the context tenant. Struct queries skip
// zero fields, so a blank id must never reach FindOne.
func load(ctx context.Context, repo repository.Repository[Organization], id string) (*Organization, error) {
	if _, err := tenant.Require(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, notFound()
	}

	org, err := repo.FindOne(ctx, &Organization{ID: id})
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, notFound()
	}
	return org, nil
}

func (s *Service) FindByContactEmail(ctx context.Context, email string) (*Organization, error) {
	if _, err := tenant.Require(ctx); err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	if email == "" {
		return nil, notFound()
	}
	org, err := s.repo.FindOne(ctx, &Organization{ContactEmail: email})
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, notFound()
	}
	return org, nil
}

type ListResult struct {
	Organizations []*Organization      `json:"organizations"`
	PageInfo      *pagination.PageInfo `json:"page_info"`
}

func (s *Service) List(ctx context.Context, p pagination.Pagination) (*ListResult, error) {
	orgs, err := s.repo.Find(ctx, &Organization{}, option.ApplyPagination(p))
	if err != nil {
		return nil, err
	}

	orgs, info := pagination.BuildCursorPage(orgs, option.NormalizeLimit(p.Limit), func(o *Organization) pagination.Cursor {
		return pagination.Cursor{ID: o.ID}
	})
	return &ListResult{Organizations: orgs, PageInfo: info}, nil
}

func activeIs(v bool) option.QueryOption {
	return option.ApplyOperator(option.Condition{Field: "active", Operator: option.Equal, Value: v})
}

func (s *Service) ListActive(ctx context.Context) ([]*Organization, error) {
	return s.repo.Find(ctx, &Organization{}, activeIs(true), option.WithSortBy(option.QuerySortBy{SortBy: "id"}))
}

func (s *Service) ListByPlan(ctx context.Context, plan Plan) ([]*Organization, error) {
	if !plan.Valid() {
		return nil, errutil.BadRequest("unknown plan", errutil.ErrInvalidArgument)
	}
	return s.repo.Find(ctx, &Organization{Plan: plan}, option.WithSortBy(option.QuerySortBy{SortBy: "id"}))
}

func (s *Service) CountActive(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx, &Organization{}, activeIs(true))
}

func (s *Service) Update(ctx context.Context, id string, p UpdateParams, actorID string) (*Organization, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		p.Name = &name
	}
	if p.ContactEmail != nil {
		email := normalizeEmail(*p.ContactEmail)
		p.ContactEmail = &email
	}
	if err := validation.Struct(p); err != nil {
		return nil, err
	}

	var out *Organization
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)

		org, err := load(ctx, repo, id)
		if err != nil {
			return err
		}

		updates := map[string]any{}
		changed := map[string]any{}
		if p.Name != nil && *p.Name != org.Name {
			org.Name = *p.Name
			org.Slug = slug.Make(org.Name)
			updates["name"], updates["slug"] = org.Name, org.Slug
			changed["name"] = org.Name
		}
		if p.ContactEmail != nil && *p.ContactEmail != org.ContactEmail {
			other, err := repo.FindOne(ctx, &Organization{ContactEmail: *p.ContactEmail})
			if err != nil {
				return err
			}
			if other != nil && other.ID != org.ID {
				return duplicateEmail()
			}
			org.ContactEmail = *p.ContactEmail
			updates["contact_email"] = org.ContactEmail
			changed["contact_email"] = org.ContactEmail
		}
		if p.Plan != nil && *p.Plan != org.Plan {
			changed["previous_plan"] = string(org.Plan)
			org.Plan = *p.Plan
			updates["plan"] = string(org.Plan)
			changed["plan"] = string(org.Plan)
		}

		out = org
		if len(updates) == 0 {
			return nil
		}

		if err := s.save(ctx, tx, org, updates); err != nil {
			return err
		}

		_, err = s.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntityOrganization,
			EntityID:   org.ID,
			Action:     audit.ActionUpdate,
			UserID:     actorID,
			Details:    changed,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (s *Service) Activate(ctx context.Context, id, actorID string) (*Organization, error) {
	return s.setActive(ctx, id, true, actorID)
}

// Deactivate blocks new licenses for the organization. Existing licenses are
// left untouched.
func (s *Service) Deactivate(ctx context.Context, id, actorID string) (*Organization, error) {
	return s.setActive(ctx, id, false, actorID)
}

func (s *Service) setActive(ctx context.Context, id string, active bool, actorID string) (*Organization, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	action := audit.ActionActivate
	if !active {
		action = audit.ActionDeactivate
	}

	var out *Organization
	err := s.db.Transaction(func(tx *gorm.DB) error {
		org, err := load(ctx, s.repo.WithTrx(tx), id)
		if err != nil {
			return err
		}

		out = org
		if org.Active == active {
			return nil
		}

		org.Active = active
		if err := s.save(ctx, tx, org, map[string]any{"active": active}); err != nil {
			return err
		}

		_, err = s.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntityOrganization,
			EntityID:   org.ID,
			Action:     action,
			UserID:     actorID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.WithTrace(ctx).Info("organization status changed",
		zap.String("organization_id", id),
		zap.Bool("active", out.Active))
	return out, nil
}

func (s *Service) save(ctx context.Context, tx *gorm.DB, org *Organization, updates map[string]any) error {
	now := s.now()
	updates["updated_at"] = now

	if err := s.repo.WithTrx(tx).UpdateWithVersion(ctx, org.ID, org.Version, updates); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return duplicateEmail()
		}
		return err
	}

	org.Version++
	org.UpdatedAt = now
	return nil
}
