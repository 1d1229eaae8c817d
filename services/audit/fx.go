package audit

import (
	"licensing-controlplane/pkg/config"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("audit.module",
	fx.Provide(
		NewService,
		func(s *Service) Recorder { return s },
	),
	fx.Invoke(migrate),
)

var Server = fx.Module("audit.server",
	Module,
	fx.Invoke(registerHandlers),
)

func migrate(db *gorm.DB, cfg *config.Config) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	return db.AutoMigrate(&AuditLog{})
}
