package license

import (
	"licensing-controlplane/pkg/config"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("license.module",
	fx.Provide(NewSigner, NewService),
	fx.Invoke(migrate),
)

var Server = fx.Module("license.server",
	Module,
	fx.Invoke(registerHandlers),
)

// Worker consumes the expiry tasks and registers the periodic sweeps.
var Worker = fx.Module("license.worker",
	Module,
	fx.Invoke(registerTaskHandlers, registerSweeps),
)

func migrate(db *gorm.DB, cfg *config.Config) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	return db.AutoMigrate(&License{})
}
