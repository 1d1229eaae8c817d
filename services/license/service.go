package license

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
	"licensing-controlplane/pkg/task"
	"licensing-controlplane/pkg/tenant"
	"licensing-controlplane/pkg/validation"
	"licensing-controlplane/services/audit"
	"licensing-controlplane/services/organization"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SystemActor is recorded for changes made by background jobs.
const SystemActor = "system"

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	signer   *Signer
	audit    audit.Recorder
	enqueuer task.Enqueuer
	repo     repository.Repository[License]
	orgs     repository.Repository[organization.Organization]
	now      func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Signer   *Signer
	Audit    audit.Recorder
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		signer:   p.Signer,
		audit:    p.Audit,
		enqueuer: p.Enqueuer,
		repo:     repository.ProvideStore[License](p.DB),
		orgs:     repository.ProvideStore[organization.Organization](p.DB),
		now:      func() time.Time { return normalizeTime(time.Now()) },
	}
}

type CreateParams struct {
	OrganizationID string         `json:"organization_id" validate:"required,max=64"`
	ProductName    string         `json:"product_name" validate:"required,max=255"`
	CustomerEmail  string         `json:"customer_email" validate:"required,email,max=255"`
	ExpiresAt      time.Time      `json:"expires_at" validate:"required"`
	Features       map[string]any `json:"features"`
}

func notFound() error {
	return errutil.NotFound("license not found", errutil.ErrNotFound)
}

func requireActor(actorID string) error {
	if strings.TrimSpace(actorID) == "" {
		return errutil.BadRequest("actor is required", errutil.ErrInvalidArgument)
	}
	return nil
}

// load fetches a license of the context tenant. A blank id never reaches the
// struct query, which would otherwise match any row.
func load(ctx context.Context, repo repository.Repository[License], id string) (*License, error) {
	if _, err := tenant.Require(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, notFound()
	}

	l, err := repo.FindOne(ctx, &License{ID: id})
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, notFound()
	}
	return l, nil
}

func (s *Service) Create(ctx context.Context, p CreateParams, actorID string) (*License, error) {
	zapLog := logger.WithTrace(ctx)

	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	p.ProductName = strings.TrimSpace(p.ProductName)
	p.CustomerEmail = strings.ToLower(strings.TrimSpace(p.CustomerEmail))
	if err := validation.Struct(p); err != nil {
		return nil, err
	}

	features := p.Features
	if features == nil {
		features = map[string]any{}
	}

	now := s.now()
	l := &License{
		ID:             s.node.Generate().String(),
		TenantID:       tenantID,
		OrganizationID: p.OrganizationID,
		ProductName:    p.ProductName,
		CustomerEmail:  p.CustomerEmail,
		ExpiresAt:      normalizeTime(p.ExpiresAt),
		Status:         Active,
		Features:       datatypes.JSONMap(features),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if !now.Before(l.ExpiresAt) {
		l.Status = Expired
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// The organization row lock serializes concurrent creates against
		// the plan quota.
		org, err := s.orgs.WithTrx(tx).FindOne(ctx, &organization.Organization{ID: p.OrganizationID}, option.ForUpdate())
		if err != nil {
			return err
		}
		if org == nil {
			return errutil.NotFound("organization not found", errutil.ErrNotFound)
		}
		if !org.Active {
			return errutil.UnprocessableEntity("cannot create a license for an inactive organization", errutil.ErrOrganizationInactive)
		}

		repo := s.repo.WithTrx(tx)
		if err := s.checkQuota(ctx, repo, org); err != nil {
			return err
		}

		if err := s.seal(l); err != nil {
			return err
		}

		if err := repo.Create(ctx, l); err != nil {
			return err
		}

		_, err = s.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntityLicense,
			EntityID:   l.ID,
			Action:     audit.ActionCreate,
			UserID:     actorID,
			Details: map[string]any{
				"organization_id": l.OrganizationID,
				"product_name":    l.ProductName,
				"status":          string(l.Status),
			},
		})
		return err
	})
	if err != nil {
		zapLog.Warn("failed to create license", zap.String("organization_id", p.OrganizationID), zap.Error(err))
		return nil, err
	}

	zapLog.Info("license created",
		zap.String("license_id", l.ID),
		zap.String("organization_id", l.OrganizationID),
		zap.String("status", string(l.Status)))

	s.scheduleExpiry(ctx, l)
	return l, nil
}

// checkQuota enforces the plan's license limit. Revoked licenses do not count.
func (s *Service) checkQuota(ctx context.Context, repo repository.Repository[License], org *organization.Organization) error {
	limit := org.Plan.Limits().MaxLicenses
	if limit <= 0 {
		return nil
	}

	n, err := repo.Count(ctx, &License{OrganizationID: org.ID},
		option.ApplyOperator(option.Condition{Field: "status", Operator: option.NotEqual, Value: string(Revoked)}))
	if err != nil {
		return err
	}
	if n >= limit {
		return errutil.UnprocessableEntity("organization reached the license limit of its plan", errutil.ErrPlanLimitExceeded)
	}
	return nil
}

// seal re-signs l and issues its token.
func (s *Service) seal(l *License) error {
	sig, err := s.signer.Sign(l)
	if err != nil {
		return err
	}
	l.Signature = sig

	token, err := s.signer.Token(l)
	if err != nil {
		return err
	}
	l.Token = token
	return nil
}

// mutate applies one state change under an optimistic version check, and
// re-signs and audits it in the same transaction.
func (s *Service) mutate(ctx context.Context, id, actorID string, action audit.Action, apply func(l *License, now time.Time) (map[string]any, error)) (*License, error) {
	zapLog := logger.WithTrace(ctx)

	if _, err := tenant.Require(ctx); err != nil {
		return nil, err
	}
	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	var out *License
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)

		l, err := load(ctx, repo, id)
		if err != nil {
			return err
		}

		previous := l.Status
		details, err := apply(l, s.now())
		if err != nil {
			return err
		}
		if details == nil {
			details = map[string]any{}
		}
		details["previous_status"] = string(previous)
		details["status"] = string(l.Status)

		if err := s.seal(l); err != nil {
			return err
		}

		if err := repo.UpdateWithVersion(ctx, l.ID, l.Version, map[string]any{
			"status":     string(l.Status),
			"expires_at": l.ExpiresAt,
			"features":   l.Features,
			"signature":  l.Signature,
			"updated_at": l.UpdatedAt,
		}); err != nil {
			return err
		}
		l.Version++

		if _, err := s.audit.Record(ctx, tx, audit.Entry{
			EntityType: audit.EntityLicense,
			EntityID:   l.ID,
			Action:     action,
			UserID:     actorID,
			Details:    details,
		}); err != nil {
			return err
		}

		out = l
		return nil
	})
	if err != nil {
		zapLog.Warn("license change rejected",
			zap.String("license_id", id),
			zap.String("action", string(action)),
			zap.Error(err))
		return nil, err
	}

	zapLog.Info("license changed",
		zap.String("license_id", out.ID),
		zap.String("action", string(action)),
		zap.String("status", string(out.Status)))
	return out, nil
}

func (s *Service) Suspend(ctx context.Context, id, actorID string) (*License, error) {
	return s.mutate(ctx, id, actorID, audit.ActionSuspend, func(l *License, now time.Time) (map[string]any, error) {
		return nil, l.Suspend(now)
	})
}

func (s *Service) Reactivate(ctx context.Context, id, actorID string) (*License, error) {
	l, err := s.mutate(ctx, id, actorID, audit.ActionReactivate, func(l *License, now time.Time) (map[string]any, error) {
		return nil, l.Reactivate(now)
	})
	if err != nil {
		return nil, err
	}
	s.scheduleExpiry(ctx, l)
	return l, nil
}

func (s *Service) Revoke(ctx context.Context, id, actorID string) (*License, error) {
	return s.mutate(ctx, id, actorID, audit.ActionRevoke, func(l *License, now time.Time) (map[string]any, error) {
		return nil, l.Revoke(now)
	})
}

func (s *Service) Expire(ctx context.Context, id, actorID string) (*License, error) {
	return s.mutate(ctx, id, actorID, audit.ActionExpire, func(l *License, now time.Time) (map[string]any, error) {
		return nil, l.Expire(now)
	})
}

func (s *Service) Extend(ctx context.Context, id string, newExpiry time.Time, actorID string) (*License, error) {
	l, err := s.mutate(ctx, id, actorID, audit.ActionExtend, func(l *License, now time.Time) (map[string]any, error) {
		previous := formatTime(l.ExpiresAt)
		if err := l.Extend(newExpiry, now); err != nil {
			return nil, err
		}
		return map[string]any{
			"previous_expires_at": previous,
			"expires_at":          formatTime(l.ExpiresAt),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.scheduleExpiry(ctx, l)
	return l, nil
}

func (s *Service) UpdateFeatures(ctx context.Context, id string, features map[string]any, actorID string) (*License, error) {
	return s.mutate(ctx, id, actorID, audit.ActionFeatures, func(l *License, now time.Time) (map[string]any, error) {
		if err := l.UpdateFeatures(features, now); err != nil {
			return nil, err
		}
		return map[string]any{"features": features}, nil
	})
}

func (s *Service) FindByID(ctx context.Context, id string) (*License, error) {
	return load(ctx, s.repo, id)
}

// GetSignedToken issues a fresh token for the stored state of the license.
func (s *Service) GetSignedToken(ctx context.Context, id string) (string, error) {
	l, err := load(ctx, s.repo, id)
	if err != nil {
		return "", err
	}
	return s.signer.Token(l)
}

// Verify checks signature against the current state of the license. Unknown
// licenses, including those of other tenants, verify as false.
func (s *Service) Verify(ctx context.Context, id, signature string) (bool, error) {
	if _, err := tenant.Require(ctx); err != nil {
		return false, err
	}
	if strings.TrimSpace(signature) == "" {
		return false, errutil.BadRequest("signature is required", errutil.ErrInvalidArgument)
	}

	l, err := load(ctx, s.repo, id)
	if err != nil {
		if errors.Is(err, errutil.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	return s.signer.Verify(l, signature)
}

type TokenVerification struct {
	Claims *TokenClaims `json:"claims"`
	// Current is false when the license changed after the token was issued.
	Current bool `json:"current"`
	Live    bool `json:"live"`
}

// VerifyToken validates a license token issued for a license of the context
// tenant and compares it with the stored state.
func (s *Service) VerifyToken(ctx context.Context, token string) (*TokenVerification, error) {
	if _, err := tenant.Require(ctx); err != nil {
		return nil, err
	}

	claims, err := s.signer.ParseToken(token)
	if err != nil {
		return nil, err
	}

	l, err := load(ctx, s.repo, claims.License.ID)
	if err != nil {
		return nil, err
	}

	return &TokenVerification{
		Claims:  claims,
		Current: PayloadOf(l).equal(claims.License),
		Live:    l.IsLive(s.now()),
	}, nil
}

type Entitlement struct {
	LicenseID string `json:"license_id"`
	Feature   string `json:"feature"`
	Live      bool   `json:"live"`
	Granted   bool   `json:"granted"`
	Value     any    `json:"value,omitempty"`
}

// CheckEntitlement grants feature only while the license is live and the
// feature is present with a value other than false or null.
func (s *Service) CheckEntitlement(ctx context.Context, id, feature string) (*Entitlement, error) {
	if strings.TrimSpace(feature) == "" {
		return nil, errutil.BadRequest("feature is required", errutil.ErrInvalidArgument)
	}

	l, err := load(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}

	e := &Entitlement{LicenseID: l.ID, Feature: feature, Live: l.IsLive(s.now())}
	value, ok := l.Features[feature]
	if ok {
		e.Value = value
	}
	if enabled, isBool := value.(bool); isBool {
		ok = enabled
	}
	e.Granted = e.Live && ok && value != nil
	return e, nil
}

type ListResult struct {
	Licenses []*License           `json:"licenses"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

func (s *Service) ListByOrganization(ctx context.Context, organizationID string, p pagination.Pagination) (*ListResult, error) {
	if _, err := tenant.Require(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(organizationID) == "" {
		return nil, errutil.BadRequest("organization id is required", errutil.ErrInvalidArgument)
	}

	licenses, err := s.repo.Find(ctx, &License{OrganizationID: organizationID}, option.ApplyPagination(p))
	if err != nil {
		return nil, err
	}

	licenses, info := pagination.BuildCursorPage(licenses, option.NormalizeLimit(p.Limit), func(l *License) pagination.Cursor {
		return pagination.Cursor{ID: l.ID}
	})
	return &ListResult{Licenses: licenses, PageInfo: info}, nil
}

var byID = option.WithSortBy(option.QuerySortBy{SortBy: "id"})

func (s *Service) ListByStatus(ctx context.Context, status Status) ([]*License, error) {
	if !status.Valid() {
		return nil, errutil.BadRequest("unknown license status", errutil.ErrInvalidArgument)
	}
	return s.repo.Find(ctx, &License{Status: status}, byID)
}

// ListActive returns the live licenses.
func (s *Service) ListActive(ctx context.Context) ([]*License, error) {
	return s.repo.Find(ctx, &License{Status: Active},
		option.ApplyOperator(option.Condition{Field: "expires_at", Operator: option.GreaterThan, Value: s.now()}),
		byID)
}

func (s *Service) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*License, error) {
	return s.repo.Find(ctx, &License{},
		option.ApplyOperator(option.Condition{Field: "expires_at", Operator: option.LessThan, Value: normalizeTime(cutoff)}),
		byID)
}

func (s *Service) ListByCustomerEmail(ctx context.Context, email string) ([]*License, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errutil.BadRequest("customer email is required", errutil.ErrInvalidArgument)
	}
	return s.repo.Find(ctx, &License{CustomerEmail: email}, byID)
}

func (s *Service) CountByStatus(ctx context.Context, status Status) (int64, error) {
	if !status.Valid() {
		return 0, errutil.BadRequest("unknown license status", errutil.ErrInvalidArgument)
	}
	return s.repo.Count(ctx, &License{Status: status})
}

func (s *Service) CountByOrganization(ctx context.Context, organizationID string) (int64, error) {
	if strings.TrimSpace(organizationID) == "" {
		return 0, errutil.BadRequest("organization id is required", errutil.ErrInvalidArgument)
	}
	return s.repo.Count(ctx, &License{OrganizationID: organizationID})
}

// ExpireOverdue expires every active or suspended license of the context
// tenant that is due for expiry. It returns how many were expired.
func (s *Service) ExpireOverdue(ctx context.Context, actorID string) (int, error) {
	due, err := s.repo.Find(ctx, &License{},
		option.ApplyOperator(
			option.Condition{Field: "status", Operator: option.In, Value: []interface{}{string(Active), string(Suspended)}},
			option.Condition{Field: "expires_at", Operator: option.LessThanOrEqual, Value: s.now()},
		),
		byID)
	if err != nil {
		return 0, err
	}

	var errs []error
	expired := 0
	now := s.now()
	for _, l := range due {
		if !l.DueForExpiry(now) {
			continue
		}
		if _, err := s.Expire(ctx, l.ID, actorID); err != nil {
			errs = append(errs, err)
			continue
		}
		expired++
	}

	if expired > 0 {
		logger.WithTrace(ctx).Info("expired overdue licenses", zap.Int("count", expired))
	}
	return expired, errors.Join(errs...)
}
