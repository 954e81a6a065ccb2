package migration

import (
	"github.com/smallbiznis/atrium/internal/config"
	"github.com/smallbiznis/atrium/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}

		if err := RunMigrations(sqlDB); err != nil {
			return err
		}

		if cfg.DefaultOrgID != 0 {
			if err := seed.EnsureDefaultOrgWithID(conn, cfg.Bootstrap, cfg.DefaultOrgID); err != nil {
				return err
			}
		} else {
			if err := seed.EnsureDefaultOrg(conn, cfg.Bootstrap); err != nil {
				return err
			}
		}
		return seed.EnsureDefaultOrgAndAdmin(conn, cfg.Bootstrap)
	}),
)
