package license

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"licensing-controlplane/pkg/db/pagination"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/repository"
	"licensing-controlplane/pkg/task"
	"licensing-controlplane/pkg/taskname"
	"licensing-controlplane/services/audit"
	"licensing-controlplane/services/organization"
	"licensing-controlplane/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	db    *gorm.DB
	svc   *Service
	orgs  *organization.Service
	audit *audit.Service
	clock time.Time

	orgSeq int
}

func newFixture(t *testing.T, enqueuer task.Enqueuer) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t, &organization.Organization{}, &License{}, &audit.AuditLog{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{db: db, clock: epoch}
	f.audit = audit.NewService(audit.ServiceParams{DB: db, Node: node})
	f.orgs = organization.NewService(organization.ServiceParams{DB: db, Node: node, Audit: f.audit})

	signer := NewSigner(newKeys(t))
	signer.now = func() time.Time { return f.clock }
	f.svc = NewService(ServiceParams{DB: db, Node: node, Signer: signer, Audit: f.audit, Enqueuer: enqueuer})
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) org(t *testing.T, ctx context.Context, plan organization.Plan) *organization.Organization {
	t.Helper()
	f.orgSeq++
	org, err := f.orgs.Create(ctx, organization.CreateParams{
		Name:         fmt.Sprintf("Acme %d", f.orgSeq),
		ContactEmail: fmt.Sprintf("ops-%d@acme.io", f.orgSeq),
		Plan:         plan,
	}, "alice")
	require.NoError(t, err)
	return org
}

func (f *fixture) params(orgID string) CreateParams {
	return CreateParams{
		OrganizationID: orgID,
		ProductName:    "Pro",
		CustomerEmail:  "a@b.com",
		ExpiresAt:      f.clock.Add(365 * 24 * time.Hour),
		Features:       map[string]any{"seats": 5},
	}
}

func (f *fixture) licenseAudit(t *testing.T, ctx context.Context, id string) []audit.Action {
	t.Helper()
	logs, err := f.audit.FindByEntity(ctx, audit.EntityLicense, id)
	require.NoError(t, err)
	actions := make([]audit.Action, 0, len(logs))
	for _, log := range logs {
		actions = append(actions, log.Action)
	}
	return actions
}

func TestLifecycleScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Basic)

	l, err := f.svc.Create(ctx, f.params(org.ID), "alice")
	require.NoError(t, err)
	require.Equal(t, Active, l.Status)
	require.Equal(t, "tenant-a", l.TenantID)
	require.NotEmpty(t, l.Signature)
	require.NotEmpty(t, l.Token)
	require.EqualValues(t, 1, l.Version)

	l, err = f.svc.Suspend(ctx, l.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, Suspended, l.Status)

	l, err = f.svc.Reactivate(ctx, l.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, Active, l.Status)

	l, err = f.svc.Revoke(ctx, l.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, Revoked, l.Status)
	require.EqualValues(t, 4, l.Version)

	_, err = f.svc.Reactivate(ctx, l.ID, "alice")
	require.True(t, errors.Is(err, errutil.ErrInvalidTransition))
	require.Equal(t, errutil.StatusUnprocessableEntity, errutil.StatusOf(err))

	stored, err := f.svc.FindByID(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, Revoked, stored.Status)

	ok, err := f.svc.Verify(ctx, l.ID, stored.Signature)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, []audit.Action{
		audit.ActionCreate, audit.ActionSuspend, audit.ActionReactivate, audit.ActionRevoke,
	}, f.licenseAudit(t, ctx, l.ID))
}

func TestCreateSchedulesExpiry(t *testing.T) {
	ctrl := gomock.NewController(t)
	enqueuer := task.NewMockEnqueuer(ctrl)
	f := newFixture(t, enqueuer)
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Basic)

	var scheduled *asynq.Task
	enqueuer.EXPECT().
		Enqueue(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, tk *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
			scheduled = tk
			return &asynq.TaskInfo{ID: "expire"}, nil
		}).
		Times(1)

	l, err := f.svc.Create(ctx, f.params(org.ID), "alice")
	require.NoError(t, err)

	require.NotNil(t, scheduled)
	require.Equal(t, taskname.LicenseExpire, scheduled.Type())

	var payload ExpirePayload
	require.NoError(t, json.Unmarshal(scheduled.Payload(), &payload))
	require.Equal(t, "tenant-a", payload.TenantID)
	require.Equal(t, l.ID, payload.LicenseID)
	require.True(t, l.ExpiresAt.Equal(payload.ExpiresAt))
}

func TestCreateIgnoresEnqueueFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	enqueuer := task.NewMockEnqueuer(ctrl)
	f := newFixture(t, enqueuer)
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Basic)

	enqueuer.EXPECT().Enqueue(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("redis down"))

	l, err := f.svc.Create(ctx, f.params(org.ID), "alice")
	require.NoError(t, err)
	require.Equal(t, Active, l.Status)
}

func TestCreateForInactiveOrganizationHasNoEffect(t *testing.T) {
	ctrl := gomock.NewController(t)
	enqueuer := task.NewMockEnqueuer(ctrl)
	f := newFixture(t, enqueuer)
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Basic)

	_, err := f.orgs.Deactivate(ctx, org.ID, "alice")
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, f.params(org.ID), "alice")
	require.True(t, errors.Is(err, errutil.ErrOrganizationInactive))
	require.Equal(t, errutil.StatusUnprocessableEntity, errutil.StatusOf(err))

	var licenses int64
	require.NoError(t, f.db.Model(&License{}).Count(&licenses).Error)
	require.Zero(t, licenses)

	logs, err := f.audit.List(ctx, audit.ListParams{EntityType: audit.EntityLicense})
	require.NoError(t, err)
	require.Empty(t, logs.Logs)
}

func TestCreateUnknownOrganization(t *testing.T) {
	f := newFixture(t, nil)
	ctxA := testutil.TenantContext(t, "tenant-a")
	ctxB := testutil.TenantContext(t, "tenant-b")

	_, err := f.svc.Create(ctxA, f.params("missing"), "alice")
	require.True(t, errors.Is(err, errutil.ErrNotFound))

	other := f.org(t, ctxB, organization.Basic)
	_, err = f.svc.Create(ctxA, f.params(other.ID), "alice")
	require.True(t, errors.Is(err, errutil.ErrNotFound))
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Basic)

	cases := map[string]func(p *CreateParams){
		"email":   func(p *CreateParams) { p.CustomerEmail = "not-an-email" },
		"product": func(p *CreateParams) { p.ProductName = "   " },
		"expiry":  func(p *CreateParams) { p.ExpiresAt = time.Time{} },
		"org":     func(p *CreateParams) { p.OrganizationID = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := f.params(org.ID)
			mutate(&p)
			_, err := f.svc.Create(ctx, p, "alice")
			require.True(t, errors.Is(err, errutil.ErrInvalidArgument), err)
		})
	}

	_, err := f.svc.Create(ctx, f.params(org.ID), " ")
	require.True(t, errors.Is(err, errutil.ErrInvalidArgument))
}

func TestCreateWithPastExpiryIsExpired(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, task.NewMockEnqueuer(ctrl))
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Basic)

	p := f.params(org.ID)
	p.ExpiresAt = f.clock.Add(-time.Hour)
	p.Features = nil

	l, err := f.svc.Create(ctx, p, "alice")
	require.NoError(t, err)
	require.Equal(t, Expired, l.Status)
	require.NotNil(t, l.Features)
}

func TestPlanLimit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Basic)

	limit := int(organization.Basic.Limits().MaxLicenses)
	existing := make([]*License, 0, limit)
	for i := 0; i < limit; i++ {
		status := Active
		if i == 0 {
			status = Revoked
		}
		existing = append(existing, &License{
			ID:             fmt.Sprintf("seed-%03d", i),
			TenantID:       "tenant-a",
			OrganizationID: org.ID,
			ProductName:    "Pro",
			CustomerEmail:  "a@b.com",
			ExpiresAt:      f.clock.Add(time.Hour),
			Status:         status,
			Version:        1,
			CreatedAt:      f.clock,
			UpdatedAt:      f.clock,
		})
	}
	require.NoError(t, f.db.CreateInBatches(existing, 50).Error)

	_, err := f.svc.Create(ctx, f.params(org.ID), "alice")
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, f.params(org.ID), "alice")
	require.True(t, errors.Is(err, errutil.ErrPlanLimitExceeded))

	n, err := f.svc.CountByOrganization(ctx, org.ID)
	require.NoError(t, err)
	require.EqualValues(t, limit+1, n)
}

func TestCreateLocksOrganizationRow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Basic)

	locked := false
	require.NoError(t, f.db.Callback().Query().Before("gorm:query").Register("test:org_lock", func(tx *gorm.DB) {
		if tx.Statement.Table == "organizations" {
			_, locked = tx.Statement.Clauses["FOR"]
		}
	}))

	_, err := f.svc.Create(ctx, f.params(org.ID), "alice")
	require.NoError(t, err)
	require.True(t, locked)
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t, nil)
	ctxA := testutil.TenantContext(t, "tenant-a")
	ctxB := testutil.TenantContext(t, "tenant-b")
	org := f.org(t, ctxA, organization.Basic)

	l, err := f.svc.Create(ctxA, f.params(org.ID), "alice")
	require.NoError(t, err)

	_, err = f.svc.FindByID(ctxB, l.ID)
	require.True(t, errors.Is(err, errutil.ErrNotFound))

	ok, err := f.svc.Verify(ctxB, l.ID, l.Signature)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = f.svc.Suspend(ctxB, l.ID, "mallory")
	require.True(t, errors.Is(err, errutil.ErrNotFound))

	_, err = f.svc.GetSignedToken(ctxB, l.ID)
	require.True(t, errors.Is(err, errutil.ErrNotFound))

	_, err = f.svc.VerifyToken(ctxB, l.Token)
	require.True(t, errors.Is(err, errutil.ErrNotFound))

	_, err = f.svc.FindByID(context.Background(), l.ID)
	require.True(t, errors.Is(err, errutil.ErrTenantNotSet))

	stored, err := f.svc.FindByID(ctxA, l.ID)
	require.NoError(t, err)
	require.Equal(t, Active, stored.Status)
}

func TestVerify(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Basic)

	l, err := f.svc.Create(ctx, f.params(org.ID), "alice")
	require.NoError(t, err)

	ok, err := f.svc.Verify(ctx, l.ID, l.Signature)
	require.NoError(t, err)
	require.True(t, ok)

	extended, err := f.svc.Extend(ctx, l.ID, l.ExpiresAt.Add(24*time.Hour), "alice")
	require.NoError(t, err)

	ok, err = f.svc.Verify(ctx, l.ID, l.Signature)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = f.svc.Verify(ctx, l.ID, extended.Signature)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.svc.Verify(ctx, "missing", extended.Signature)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = f.svc.Verify(ctx, l.ID, "")
	require.True(t, errors.Is(err, errutil.ErrInvalidArgument))
}

func TestExtend(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Basic)

	l, err := f.svc.Create(ctx, f.params(org.ID), "alice")
	require.NoError(t, err)

	_, err = f.svc.Extend(ctx, l.ID, l.ExpiresAt, "alice")
	require.True(t, errors.Is(err, errutil.ErrInvalidArgument))

	_, err = f.svc.Extend(ctx, l.ID, l.ExpiresAt.Add(-time.Hour), "alice")
	require.True(t, errors.Is(err, errutil.ErrInvalidArgument))

	stored, err := f.svc.FindByID(ctx, l.ID)
	require.NoError(t, err)
	require.True(t, l.ExpiresAt.Equal(stored.ExpiresAt))
	require.EqualValues(t, 1, stored.Version)

	later := l.ExpiresAt.Add(30 * 24 * time.Hour)
	extended, err := f.svc.Extend(ctx, l.ID, later, "alice")
	require.NoError(t, err)
	require.True(t, later.Equal(extended.ExpiresAt))
	require.Equal(t, Active, extended.Status)

	logs, err := f.audit.FindByAction(ctx, audit.ActionExtend)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, formatTime(l.ExpiresAt), logs[0].Details["previous_expires_at"])
	require.Equal(t, formatTime(later), logs[0].Details["expires_at"])

	_, err = f.svc.Extend(ctx, "missing", later, "alice")
	require.True(t, errors.Is(err, errutil.ErrNotFound))
}

func TestUpdateFeatures(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Basic)

	l, err := f.svc.Create(ctx, f.params(org.ID), "alice")
	require.NoError(t, err)

	_, err = f.svc.UpdateFeatures(ctx, l.ID, nil, "alice")
	require.True(t, errors.Is(err, errutil.ErrInvalidArgument))

	updated, err := f.svc.UpdateFeatures(ctx, l.ID, map[string]any{"seats": 10, "sso": true}, "alice")
	require.NoError(t, err)
	require.Equal(t, true, updated.Features["sso"])

	stored, err := f.svc.FindByID(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, json.Number("10"), stored.Features["seats"])
	require.Equal(t, true, stored.Features["sso"])

	ok, err := f.svc.Verify(ctx, l.ID, stored.Signature)
	require.NoError(t, err)
	require.True(t, ok)
}

// racingRepo bumps the stored version right before the guarded update, as a
// concurrent writer committing first would.
type racingRepo struct {
	repository.Repository[License]
	tx *gorm.DB
}

func (r racingRepo) WithTrx(tx *gorm.DB) repository.Repository[License] {
	return racingRepo{Repository: r.Repository.WithTrx(tx), tx: tx}
}

func (r racingRepo) UpdateWithVersion(ctx context.Context, id string, version int64, updates map[string]any) error {
	if err := r.tx.Exec("UPDATE licenses SET version = version + 1 WHERE id = ?", id).Error; err != nil {
		return err
	}
	return r.Repository.UpdateWithVersion(ctx, id, version, updates)
}

func TestConcurrentModification(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Basic)

	l, err := f.svc.Create(ctx, f.params(org.ID), "alice")
	require.NoError(t, err)

	f.svc.repo = racingRepo{Repository: f.svc.repo}

	_, err = f.svc.Suspend(ctx, l.ID, "alice")
	require.True(t, errors.Is(err, errutil.ErrConcurrentModification))
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))

	stored, err := f.svc.FindByID(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, Active, stored.Status)
	require.EqualValues(t, 1, stored.Version)
	require.Equal(t, []audit.Action{audit.ActionCreate}, f.licenseAudit(t, ctx, l.ID))
}

func TestTokens(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Basic)

	l, err := f.svc.Create(ctx, f.params(org.ID), "alice")
	require.NoError(t, err)

	res, err := f.svc.VerifyToken(ctx, l.Token)
	require.NoError(t, err)
	require.True(t, res.Current)
	require.True(t, res.Live)
	require.Equal(t, l.ID, res.Claims.License.ID)

	stored, err := f.svc.FindByID(ctx, l.ID)
	require.NoError(t, err)
	want, err := CanonicalPayload(stored)
	require.NoError(t, err)
	got, err := json.Marshal(res.Claims.License)
	require.NoError(t, err)
	require.JSONEq(t, string(want), string(got))

	_, err = f.svc.Suspend(ctx, l.ID, "alice")
	require.NoError(t, err)

	res, err = f.svc.VerifyToken(ctx, l.Token)
	require.NoError(t, err)
	require.False(t, res.Current)
	require.False(t, res.Live)

	token, err := f.svc.GetSignedToken(ctx, l.ID)
	require.NoError(t, err)
	res, err = f.svc.VerifyToken(ctx, token)
	require.NoError(t, err)
	require.True(t, res.Current)
	require.Equal(t, Suspended, res.Claims.License.Status)
}

func TestTokenClaimsMatchStoredPayload(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Basic)

	p := f.params(org.ID)
	p.Features = map[string]any{"seats": 5, "ratio": 1.5, "sso": true, "tier": "gold"}
	l, err := f.svc.Create(ctx, p, "alice")
	require.NoError(t, err)

	stored, err := f.svc.FindByID(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, json.Number("5"), stored.Features["seats"])

	token, err := f.svc.GetSignedToken(ctx, l.ID)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	claims, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	canonical, err := CanonicalPayload(stored)
	require.NoError(t, err)
	want := map[string]any{}
	require.NoError(t, json.Unmarshal(canonical, &want))
	want["sub"] = stored.ID
	want["iss"] = Issuer
	want["iat"] = f.clock.Unix()
	want["exp"] = stored.ExpiresAt.Unix()
	wantJSON, err := json.Marshal(want)
	require.NoError(t, err)
	require.JSONEq(t, string(wantJSON), string(claims))

	res, err := f.svc.VerifyToken(ctx, token)
	require.NoError(t, err)
	require.True(t, res.Current)

	suspended, err := f.svc.Suspend(ctx, l.ID, "alice")
	require.NoError(t, err)
	res, err = f.svc.VerifyToken(ctx, suspended.Token)
	require.NoError(t, err)
	require.True(t, res.Current)
}

func TestCheckEntitlement(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Basic)

	p := f.params(org.ID)
	p.Features = map[string]any{"seats": 5, "sso": true, "audit": false}
	l, err := f.svc.Create(ctx, p, "alice")
	require.NoError(t, err)

	e, err := f.svc.CheckEntitlement(ctx, l.ID, "seats")
	require.NoError(t, err)
	require.True(t, e.Granted)
	require.Equal(t, json.Number("5"), e.Value)

	e, err = f.svc.CheckEntitlement(ctx, l.ID, "audit")
	require.NoError(t, err)
	require.False(t, e.Granted)

	e, err = f.svc.CheckEntitlement(ctx, l.ID, "reports")
	require.NoError(t, err)
	require.False(t, e.Granted)

	_, err = f.svc.Suspend(ctx, l.ID, "alice")
	require.NoError(t, err)
	e, err = f.svc.CheckEntitlement(ctx, l.ID, "sso")
	require.NoError(t, err)
	require.False(t, e.Live)
	require.False(t, e.Granted)

	_, err = f.svc.CheckEntitlement(ctx, l.ID, "")
	require.True(t, errors.Is(err, errutil.ErrInvalidArgument))
}

func TestQueries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Enterprise)
	other := f.org(t, ctx, organization.Enterprise)

	var created []*License
	for i := 0; i < 3; i++ {
		p := f.params(org.ID)
		p.ExpiresAt = f.clock.Add(time.Duration(i+1) * 24 * time.Hour)
		l, err := f.svc.Create(ctx, p, "alice")
		require.NoError(t, err)
		created = append(created, l)
	}
	p := f.params(other.ID)
	p.CustomerEmail = "Other@B.com"
	_, err := f.svc.Create(ctx, p, "alice")
	require.NoError(t, err)

	_, err = f.svc.Suspend(ctx, created[0].ID, "alice")
	require.NoError(t, err)

	page, err := f.svc.ListByOrganization(ctx, org.ID, pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Licenses, 2)
	require.True(t, page.PageInfo.HasMore)

	page, err = f.svc.ListByOrganization(ctx, org.ID, pagination.Pagination{Limit: 2, Cursor: page.PageInfo.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Licenses, 1)
	require.False(t, page.PageInfo.HasMore)

	suspended, err := f.svc.ListByStatus(ctx, Suspended)
	require.NoError(t, err)
	require.Len(t, suspended, 1)
	require.Equal(t, created[0].ID, suspended[0].ID)

	_, err = f.svc.ListByStatus(ctx, Status("PENDING"))
	require.True(t, errors.Is(err, errutil.ErrInvalidArgument))

	active, err := f.svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 3)

	expiring, err := f.svc.ListExpiringBefore(ctx, f.clock.Add(36*time.Hour))
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	require.Equal(t, created[0].ID, expiring[0].ID)

	byEmail, err := f.svc.ListByCustomerEmail(ctx, "other@b.com")
	require.NoError(t, err)
	require.Len(t, byEmail, 1)

	n, err := f.svc.CountByStatus(ctx, Active)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	n, err = f.svc.CountByOrganization(ctx, org.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	f.clock = f.clock.Add(48 * time.Hour)
	active, err = f.svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
}
