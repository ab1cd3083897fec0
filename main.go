package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/watson/cli"
	"github.com/mrsingh-rishi/watson/config"
	"github.com/mrsingh-rishi/watson/output"
)

func main() {
	if err := run(); err != nil {
		output.NewFormatter(os.Stderr).Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine, the environment is used as is.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "loading config")
	}
	return cli.NewRootCmd(&cli.Dependencies{Config: cfg}).Execute()
}
