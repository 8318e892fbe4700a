package main

import (
	"github.com/alecthomas/kong"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Context struct {
	Debug  bool
	Logger *zap.Logger

	gorm.Config
	gorm.Dialector
}

var cli struct {
	Debug bool   `help:"Enable debug mode."`
	DSN   string `help:"Database connection string." default:"bridge.db"`

	Serve          ServeCmd          `cmd:"" help:"Serve the bridge."`
	AutoMigrate    AutoMigrateCmd    `cmd:"" help:"Create or update the database schema."`
	CreateIdentity CreateIdentityCmd `cmd:"" help:"Create a bridged identity for a domain."`
	Verify         VerifyCmd         `cmd:"" help:"Probe a bridged domain's redirects and profile."`
}

func main() {
	ctx := kong.Parse(&cli)

	logger, err := newLogger(cli.Debug)
	ctx.FatalIfErrorf(err)
	defer logger.Sync()

	err = ctx.Run(&Context{
		Debug:     cli.Debug,
		Logger:    logger,
		Dialector: newDialector(cli.DSN),
	})
	ctx.FatalIfErrorf(err)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
