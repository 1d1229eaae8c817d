package organization

import (
	"licensing-controlplane/pkg/config"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("organization.module",
	fx.Provide(NewService),
	fx.Invoke(migrate),
)

var Server = fx.Module("organization.server",
	Module,
	fx.Invoke(registerHandlers),
)

func migrate(db *gorm.DB, cfg *config.Config) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	return db.AutoMigrate(&Organization{})
}
