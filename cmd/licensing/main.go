package main

import (
	"log"

	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/db"
	"licensing-controlplane/pkg/gen"
	"licensing-controlplane/pkg/hashistack/secretmanager"
	"licensing-controlplane/pkg/hashistack/servicediscover"
	"licensing-controlplane/pkg/httpapi"
	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/pkg/otelcol"
	"licensing-controlplane/pkg/profiling"
	"licensing-controlplane/pkg/redis"
	"licensing-controlplane/pkg/server"
	"licensing-controlplane/pkg/signing"
	"licensing-controlplane/pkg/task"
	"licensing-controlplane/services/audit"
	"licensing-controlplane/services/license"
	"licensing-controlplane/services/organization"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		signing.Module,
		task.Client,
		gen.Module,
		httpapi.Module,
		audit.Server,
		organization.Server,
		license.Server,
		server.ProvideHTTPServer,
		server.ProvideGRPCServer,
		servicediscover.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.IsProduction() {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})
