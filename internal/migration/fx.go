package migration

import (
	auditdomain "github.com/samknelson/sirius-sub007/internal/audit/domain"
	chargedomain "github.com/samknelson/sirius-sub007/internal/charge/domain"
	"github.com/samknelson/sirius-sub007/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Non-postgres targets (sqlite for dev, mysql) build the schema from
		// the models instead of the embedded SQL.
		return conn.AutoMigrate(
			&chargedomain.Account{},
			&chargedomain.EntityAccount{},
			&chargedomain.ChargeConfig{},
			&chargedomain.LedgerEntry{},
			&auditdomain.AuditLog{},
		)
	}),
)
