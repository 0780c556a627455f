package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rebill/internal/billingcycle"
	"github.com/smallbiznis/rebill/internal/checkout"
	"github.com/smallbiznis/rebill/internal/clock"
	"github.com/smallbiznis/rebill/internal/config"
	"github.com/smallbiznis/rebill/internal/ledger"
	"github.com/smallbiznis/rebill/internal/migration"
	"github.com/smallbiznis/rebill/internal/observability"
	"github.com/smallbiznis/rebill/internal/payment"
	"github.com/smallbiznis/rebill/internal/portone"
	"github.com/smallbiznis/rebill/internal/ratelimit"
	"github.com/smallbiznis/rebill/internal/server"
	"github.com/smallbiznis/rebill/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		billingcycle.Module,
		portone.Module,
		ledger.Module,
		ratelimit.Module,
		payment.Module,
		checkout.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
