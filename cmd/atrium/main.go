package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/clock"
	"github.com/smallbiznis/atrium/internal/migration"
	"github.com/smallbiznis/atrium/internal/observability"
	"github.com/smallbiznis/atrium/internal/server"
	"github.com/smallbiznis/atrium/internal/sweeper"
	"github.com/smallbiznis/atrium/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// server.Module carries config and every domain module.
		server.Module,

		migration.Module,
		sweeper.Module,
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
