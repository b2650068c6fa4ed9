package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/snapmeta-ai/snapmeta/internal/clock"
	"github.com/snapmeta-ai/snapmeta/internal/config"
	"github.com/snapmeta-ai/snapmeta/internal/logger"
	"github.com/snapmeta-ai/snapmeta/internal/metrics"
	"github.com/snapmeta-ai/snapmeta/internal/migration"
	"github.com/snapmeta-ai/snapmeta/internal/ratelimit"
	"github.com/snapmeta-ai/snapmeta/internal/server"
	"github.com/snapmeta-ai/snapmeta/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		clock.Module,
		metrics.Module,
		migration.Module,
		ratelimit.Module,
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
