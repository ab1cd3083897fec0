package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mrsingh-rishi/watson/app"
	"github.com/mrsingh-rishi/watson/config"
	"github.com/mrsingh-rishi/watson/version"
)

const envCheckTimeout = 10 * time.Second

func NewRunCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and serve recording commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config
			logger, closeLog, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
			if err != nil {
				return err
			}
			defer closeLog()
			logger.WithField("version", version.Version).Info("starting watson")

			a, err := app.New(cfg, logger)
			if err != nil {
				return errors.Wrap(err, "initializing app")
			}

			if !cfg.SkipEnvCheck {
				ctx, cancel := context.WithTimeout(cmd.Context(), envCheckTimeout)
				err := config.FirstFailure(config.CheckEnvironment(ctx, cfg, a.Recapper))
				cancel()
				if err != nil {
					return errors.Wrap(err, "environment check failed")
				}
				logger.Debug("environment check passed")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}
}
