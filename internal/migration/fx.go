package migration

import (
	"strings"

	"github.com/smallbiznis/rebill/internal/config"
	ledgerdomain "github.com/smallbiznis/rebill/internal/ledger/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if strings.EqualFold(cfg.DBType, "postgres") {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// mysql and sqlite are dev conveniences; the models carry the
		// same unique indexes the SQL migrations create.
		return conn.AutoMigrate(
			&ledgerdomain.Entry{},
			&ledgerdomain.EventRecord{},
		)
	}),
)
