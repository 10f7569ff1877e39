package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/opencorehq/tenantcore/internal/clock"
	"github.com/opencorehq/tenantcore/internal/config"
	"github.com/opencorehq/tenantcore/internal/observability"
	"github.com/opencorehq/tenantcore/internal/server"
	"github.com/opencorehq/tenantcore/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		clock.Module,
		server.Module,
	)
	app.Run()
}

func newSnowflakeNode() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
