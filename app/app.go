// Package app wires the recorder's components together and runs them.
package app

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mrsingh-rishi/watson/api"
	"github.com/mrsingh-rishi/watson/bot"
	"github.com/mrsingh-rishi/watson/config"
	"github.com/mrsingh-rishi/watson/events"
	"github.com/mrsingh-rishi/watson/llm"
	"github.com/mrsingh-rishi/watson/output"
	"github.com/mrsingh-rishi/watson/pipeline"
	"github.com/mrsingh-rishi/watson/session"
	"github.com/mrsingh-rishi/watson/stt"
	"github.com/mrsingh-rishi/watson/version"
	"github.com/mrsingh-rishi/watson/workers"
)

const apiShutdownTimeout = 5 * time.Second

type App struct {
	Config   *config.Config
	Pool     *workers.Pool
	Recapper *llm.Recapper
	Hub      *events.Hub
	Bot      *bot.Bot
	Manager  *session.Manager
	API      *api.Server
	Alerter  *output.Alerter

	log logrus.FieldLogger
}

func New(cfg *config.Config, log logrus.FieldLogger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool, err := workers.NewPool(cfg.Workers, cfg.QueueSize, log)
	if err != nil {
		return nil, errors.Wrap(err, "create transcription pool")
	}
	engine, err := stt.NewWhisperClient(cfg.WhisperAPIKey, cfg.WhisperBaseURL, cfg.WhisperModel, log)
	if err != nil {
		return nil, errors.Wrap(err, "create transcription engine")
	}
	filter := stt.NewFilter(stt.ParsePhrases(cfg.JunkPhrases))
	pipe, err := pipeline.New(engine, pool, filter, cfg.Language, log)
	if err != nil {
		return nil, err
	}
	recapper := llm.NewRecapper(cfg.Recap(), log)
	hub := events.NewHub()

	b, err := bot.New(bot.Config{
		Token:       cfg.DiscordToken,
		Prefix:      cfg.CommandPrefix,
		MaxDuration: cfg.MaxDuration(),
	}, log)
	if err != nil {
		return nil, err
	}

	mgr, err := session.NewManager(session.Config{
		TempDir:       cfg.TempDir,
		RecordingsDir: cfg.RecordingsDir,
		MaxDuration:   cfg.MaxDuration(),
		WarnBefore:    cfg.WarnBefore(),
		RecapTimeout:  cfg.RecapTimeout(),
	}, session.Deps{
		Voice:      b,
		Reporter:   b,
		Pipeline:   pipe,
		Summarizer: recapper,
		Events:     hub,
		Log:        log,
	})
	if err != nil {
		return nil, err
	}
	b.Bind(mgr)

	a := &App{
		Config:   cfg,
		Pool:     pool,
		Recapper: recapper,
		Hub:      hub,
		Bot:      b,
		Manager:  mgr,
		log:      log.WithField("component", "app"),
	}

	if cfg.APIEnabled() {
		a.API, err = api.New(api.Config{
			Addr:      cfg.APIAddr,
			JWTSecret: cfg.APIJWTSecret,
			Version:   version.Version,
		}, mgr, hub, log)
		if err != nil {
			return nil, err
		}
	}

	var notifier output.Notifier = output.LogNotifier{Log: log}
	if cfg.TwilioEnabled() {
		sms, err := output.NewTwilioNotifier(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom, cfg.TwilioAlertTo, log)
		if err != nil {
			return nil, err
		}
		notifier = output.NewMultiNotifier(log, notifier, sms)
	}
	a.Alerter, err = output.NewAlerter(hub, notifier, log)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Run serves until ctx is done, then stops recordings and waits for their
// transcriptions up to the configured shutdown wait.
func (a *App) Run(ctx context.Context) error {
	a.Pool.Start()
	a.Alerter.Start()

	if err := a.Bot.Open(); err != nil {
		a.Alerter.Stop()
		a.Pool.Stop()
		return err
	}

	apiErr := make(chan error, 1)
	if a.API != nil {
		go func() { apiErr <- a.API.Listen() }()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case err := <-apiErr:
		runErr = errors.Wrap(err, "operator api")
		a.log.WithError(err).Error("operator api stopped")
	}

	return a.shutdown(runErr)
}

func (a *App) shutdown(runErr error) error {
	wait := a.Config.ShutdownWait()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	if err := a.Manager.Shutdown(ctx); err != nil {
		a.log.WithError(err).WithField("wait", wait).Warn("transcriptions still running at shutdown")
	}

	if a.API != nil {
		apiCtx, apiCancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
		if err := a.API.Shutdown(apiCtx); err != nil {
			a.log.WithError(err).Warn("operator api shutdown")
		}
		apiCancel()
	}
	a.Alerter.Stop()
	if err := a.Bot.Close(); err != nil {
		a.log.WithError(err).Warn("discord session close")
	}
	a.Pool.Stop()
	a.Hub.Close()
	return runErr
}
