package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/samknelson/sirius-sub007/internal/clock"
	"github.com/samknelson/sirius-sub007/internal/config"
	"github.com/samknelson/sirius-sub007/internal/migration"
	"github.com/samknelson/sirius-sub007/internal/observability"
	"github.com/samknelson/sirius-sub007/internal/scheduler"
	"github.com/samknelson/sirius-sub007/internal/server"
	"github.com/samknelson/sirius-sub007/pkg/db"
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

		// Functional domains
		migration.Module,
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
