package license

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/task"
	"licensing-controlplane/pkg/taskname"
	"licensing-controlplane/services/audit"
	"licensing-controlplane/services/organization"
	"licensing-controlplane/services/testutil"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func expireTask(t *testing.T, tenantID, licenseID string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(ExpirePayload{TenantID: tenantID, LicenseID: licenseID})
	require.NoError(t, err)
	return asynq.NewTask(taskname.LicenseExpire, payload)
}

func TestNewExpireTask(t *testing.T) {
	l := signedLicense()

	tk, opts, err := NewExpireTask(l)
	require.NoError(t, err)
	require.Equal(t, taskname.LicenseExpire, tk.Type())
	require.NotEmpty(t, opts)

	var payload ExpirePayload
	require.NoError(t, json.Unmarshal(tk.Payload(), &payload))
	require.Equal(t, ExpirePayload{TenantID: "tenant-a", LicenseID: "1001", ExpiresAt: l.ExpiresAt}, payload)
}

func TestHandleExpireTask(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Basic)

	p := f.params(org.ID)
	p.ExpiresAt = f.clock.Add(time.Hour)
	l, err := f.svc.Create(ctx, p, "alice")
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleExpireTask(ctx, expireTask(t, "tenant-a", l.ID)))
	stored, err := f.svc.FindByID(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, Active, stored.Status)

	f.clock = f.clock.Add(2 * time.Hour)
	require.NoError(t, f.svc.HandleExpireTask(ctx, expireTask(t, "tenant-a", l.ID)))
	stored, err = f.svc.FindByID(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, Expired, stored.Status)

	logs, err := f.audit.FindByAction(ctx, audit.ActionExpire)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, SystemActor, logs[0].UserID)

	require.NoError(t, f.svc.HandleExpireTask(ctx, expireTask(t, "tenant-a", l.ID)))
	require.NoError(t, f.svc.HandleExpireTask(ctx, expireTask(t, "tenant-a", "missing")))
}

func TestHandleExpireTaskSkipsRevokedAndExtended(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Basic)

	p := f.params(org.ID)
	p.ExpiresAt = f.clock.Add(time.Hour)
	revoked, err := f.svc.Create(ctx, p, "alice")
	require.NoError(t, err)
	_, err = f.svc.Revoke(ctx, revoked.ID, "alice")
	require.NoError(t, err)

	extended, err := f.svc.Create(ctx, p, "alice")
	require.NoError(t, err)
	_, err = f.svc.Extend(ctx, extended.ID, f.clock.Add(48*time.Hour), "alice")
	require.NoError(t, err)

	f.clock = f.clock.Add(2 * time.Hour)
	require.NoError(t, f.svc.HandleExpireTask(ctx, expireTask(t, "tenant-a", revoked.ID)))
	require.NoError(t, f.svc.HandleExpireTask(ctx, expireTask(t, "tenant-a", extended.ID)))

	stored, err := f.svc.FindByID(ctx, revoked.ID)
	require.NoError(t, err)
	require.Equal(t, Revoked, stored.Status)

	stored, err = f.svc.FindByID(ctx, extended.ID)
	require.NoError(t, err)
	require.Equal(t, Active, stored.Status)
}

func TestReactivatePastExpiryStaysActive(t *testing.T) {
	ctrl := gomock.NewController(t)
	enqueuer := task.NewMockEnqueuer(ctrl)
	f := newFixture(t, enqueuer)
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Basic)

	// Only the create schedules a task.
	enqueuer.EXPECT().
		Enqueue(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&asynq.TaskInfo{ID: "expire"}, nil).
		Times(1)

	p := f.params(org.ID)
	p.ExpiresAt = f.clock.Add(time.Hour)
	l, err := f.svc.Create(ctx, p, "alice")
	require.NoError(t, err)

	f.clock = f.clock.Add(2 * time.Hour)
	_, err = f.svc.Expire(ctx, l.ID, "alice")
	require.NoError(t, err)

	l, err = f.svc.Reactivate(ctx, l.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, Active, l.Status)
	require.False(t, l.IsLive(f.clock))

	require.NoError(t, f.svc.HandleExpireTask(ctx, expireTask(t, "tenant-a", l.ID)))
	n, err := f.svc.ExpireOverdue(ctx, SystemActor)
	require.NoError(t, err)
	require.Zero(t, n)

	stored, err := f.svc.FindByID(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, Active, stored.Status)

	// Extending hands the license back to the scheduler.
	enqueuer.EXPECT().
		Enqueue(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&asynq.TaskInfo{ID: "expire"}, nil).
		Times(1)
	_, err = f.svc.Extend(ctx, l.ID, f.clock.Add(time.Hour), "alice")
	require.NoError(t, err)

	f.clock = f.clock.Add(2 * time.Hour)
	require.NoError(t, f.svc.HandleExpireTask(ctx, expireTask(t, "tenant-a", l.ID)))
	stored, err = f.svc.FindByID(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, Expired, stored.Status)
}

func TestHandleExpireTaskInvalidPayload(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TenantContext(t, "tenant-a")

	err := f.svc.HandleExpireTask(ctx, asynq.NewTask(taskname.LicenseExpire, []byte("{")))
	require.True(t, errors.Is(err, asynq.SkipRetry))

	err = f.svc.HandleExpireTask(ctx, expireTask(t, " ", "1001"))
	require.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestExpireOverdueAndSweep(t *testing.T) {
	f := newFixture(t, nil)
	ctx := testutil.TenantContext(t, "tenant-a")
	org := f.org(t, ctx, organization.Basic)

	create := func(ttl time.Duration) *License {
		p := f.params(org.ID)
		p.ExpiresAt = f.clock.Add(ttl)
		l, err := f.svc.Create(ctx, p, "alice")
		require.NoError(t, err)
		return l
	}

	overdue := create(time.Hour)
	suspended := create(time.Hour)
	revoked := create(time.Hour)
	future := create(72 * time.Hour)

	_, err := f.svc.Suspend(ctx, suspended.ID, "alice")
	require.NoError(t, err)
	_, err = f.svc.Revoke(ctx, revoked.ID, "alice")
	require.NoError(t, err)

	f.clock = f.clock.Add(2 * time.Hour)

	n, err := f.svc.ExpireOverdue(ctx, SystemActor)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for id, want := range map[string]Status{
		overdue.ID:   Expired,
		suspended.ID: Expired,
		revoked.ID:   Revoked,
		future.ID:    Active,
	} {
		stored, err := f.svc.FindByID(ctx, id)
		require.NoError(t, err)
		require.Equal(t, want, stored.Status, id)
	}

	f.clock = f.clock.Add(96 * time.Hour)
	payload, err := json.Marshal(SweepPayload{TenantID: "tenant-a"})
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleSweepTask(ctx, asynq.NewTask(taskname.LicenseExpirySweep, payload)))

	stored, err := f.svc.FindByID(ctx, future.ID)
	require.NoError(t, err)
	require.Equal(t, Expired, stored.Status)
}

func TestRegisterSweeps(t *testing.T) {
	scheduler := asynq.NewScheduler(asynq.RedisClientOpt{Addr: "localhost:6379"}, &asynq.SchedulerOpts{})

	cfg := &config.Config{}
	require.NoError(t, registerSweeps(scheduler, cfg))

	cfg.Worker.ExpirySweep = "@every 1h"
	cfg.Worker.Tenants = []string{"tenant-a", "tenant-b"}
	require.NoError(t, registerSweeps(scheduler, cfg))

	cfg.Worker.ExpirySweep = "not a cron spec"
	require.Error(t, registerSweeps(scheduler, cfg))
}
