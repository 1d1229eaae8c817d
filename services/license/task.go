package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/pkg/taskname"
	"licensing-controlplane/pkg/tenant"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type ExpirePayload struct {
	TenantID  string    `json:"tenant_id"`
	LicenseID string    `json:"license_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SweepPayload struct {
	TenantID string `json:"tenant_id"`
}

// NewExpireTask builds the task that expires l at its expiry date. The task
// id includes the expiry, so an extension schedules a new task.
func NewExpireTask(l *License) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(ExpirePayload{
		TenantID:  l.TenantID,
		LicenseID: l.ID,
		ExpiresAt: l.ExpiresAt,
	})
	if err != nil {
		return nil, nil, err
	}

	opts := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("expire:%s:%d", l.ID, l.ExpiresAt.Unix())),
		asynq.ProcessAt(l.ExpiresAt),
		asynq.MaxRetry(5),
		asynq.Queue("default"),
	}
	return asynq.NewTask(taskname.LicenseExpire, payload), opts, nil
}

// scheduleExpiry never fails the caller. The sweep catches anything missed.
// Nothing is scheduled for a license already past its expiry.
func (s *Service) scheduleExpiry(ctx context.Context, l *License) {
	if s.enqueuer == nil {
		return
	}
	if l.Status != Active && l.Status != Suspended {
		return
	}
	if !s.now().Before(l.ExpiresAt) {
		return
	}

	zapLog := logger.WithTrace(ctx).With(zap.String("license_id", l.ID))

	t, opts, err := NewExpireTask(l)
	if err != nil {
		zapLog.Warn("failed to build license expiry task", zap.Error(err))
		return
	}

	if _, err := s.enqueuer.Enqueue(ctx, t, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return
		}
		zapLog.Warn("failed to schedule license expiry", zap.Error(err))
		return
	}

	zapLog.Debug("license expiry scheduled", zap.Time("expires_at", l.ExpiresAt))
}

// HandleExpireTask expires the license if it is still due. Licenses that were
// extended, revoked, already expired or reactivated past expiry are left alone.
func (s *Service) HandleExpireTask(ctx context.Context, t *asynq.Task) error {
	var payload ExpirePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, err := tenant.WithTenant(ctx, payload.TenantID)
	if err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	zapLog := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("tenant_id", payload.TenantID),
		zap.String("license_id", payload.LicenseID),
	)

	l, err := s.FindByID(ctx, payload.LicenseID)
	if err != nil {
		if errors.Is(err, errutil.ErrNotFound) {
			zapLog.Info("license no longer exists, skipping expiry")
			return nil
		}
		return err
	}

	if !l.DueForExpiry(s.now()) {
		zapLog.Debug("license not due, skipping expiry", zap.String("status", string(l.Status)))
		return nil
	}

	if _, err := s.Expire(ctx, l.ID, SystemActor); err != nil {
		if errors.Is(err, errutil.ErrInvalidTransition) {
			return nil
		}
		zapLog.Error("failed to expire license", zap.Error(err))
		return err
	}

	zapLog.Info("license expired")
	return nil
}

func (s *Service) HandleSweepTask(ctx context.Context, t *asynq.Task) error {
	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, err := tenant.WithTenant(ctx, payload.TenantID)
	if err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	n, err := s.ExpireOverdue(ctx, SystemActor)
	if err != nil {
		zap.L().Error("license expiry sweep incomplete",
			zap.String("tenant_id", payload.TenantID),
			zap.Int("expired", n),
			zap.Error(err))
		return err
	}
	return nil
}

func registerTaskHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.LicenseExpire, s.HandleExpireTask)
	mux.HandleFunc(taskname.LicenseExpirySweep, s.HandleSweepTask)
}

// registerSweeps runs the overdue sweep for every configured tenant.
func registerSweeps(scheduler *asynq.Scheduler, cfg *config.Config) error {
	if cfg.Worker.ExpirySweep == "" {
		return nil
	}

	for _, tenantID := range cfg.Worker.Tenants {
		payload, err := json.Marshal(SweepPayload{TenantID: tenantID})
		if err != nil {
			return err
		}

		task := asynq.NewTask(taskname.LicenseExpirySweep, payload)
		if _, err := scheduler.Register(cfg.Worker.ExpirySweep, task, asynq.Queue("low")); err != nil {
			zap.L().Error("failed to register license expiry sweep", zap.String("tenant_id", tenantID), zap.Error(err))
			return err
		}
	}
	return nil
}
