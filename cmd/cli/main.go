package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/syncly/config"
	"github.com/jaywantadh/syncly/internal/dfs"
	"github.com/jaywantadh/syncly/pkg/env"
	"github.com/jaywantadh/syncly/pkg/logging"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		// ExitErrHandler already exited for action errors.
		logging.Get().Error(err)
		os.Exit(exitCode(err))
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "syncly",
		Usage:          "Split files into chunks, store them remotely and rebuild them",
		Version:        version,
		ExitErrHandler: exitErrHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   ".",
				Usage:   "directory containing config.yaml",
				EnvVars: []string{"SYNCLY_CONFIG_DIR"},
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "env files to load before reading config",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "override log.format (text or json)",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			uploadCommand(),
			downloadCommand(),
			listCommand(),
			inspectCommand(),
			deleteCommand(),
			statusCommand(),
			verifyCommand(),
			serveCommand(),
		},
	}
}

// setup loads env files, config and the logger before any command runs.
func setup(c *cli.Context) error {
	if err := env.LoadEnv(c.StringSlice("env-file")...); err != nil {
		return err
	}
	if lvl := c.String("log-level"); lvl != "" {
		os.Setenv(config.EnvPrefix+"_LOG_LEVEL", lvl)
	}
	if format := c.String("log-format"); format != "" {
		os.Setenv(config.EnvPrefix+"_LOG_FORMAT", format)
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return &exitCodeError{code: exitFailure, msg: err.Error()}
	}
	if err := logging.InitLogger(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	return nil
}

// openCore builds the engine from the loaded config.
func openCore(c *cli.Context) (*dfs.Core, error) {
	return dfs.NewFromConfig(c.Context, config.Config)
}
