package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrsingh-rishi/watson/config"
	"github.com/mrsingh-rishi/watson/llm"
	"github.com/mrsingh-rishi/watson/output"
)

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := output.NewFormatter(cmd.OutOrStdout())
			cfg := deps.Config
			ok := true

			if cfg.Path != "" {
				f.SetupCheck("Config file", true, cfg.Path)
			} else {
				f.SetupCheck("Config file", true, "none, using defaults and environment")
			}

			if err := cfg.Validate(); err != nil {
				f.SetupCheck("Settings", false, err.Error())
				ok = false
			} else {
				f.SetupCheck("Settings", true, "valid")
			}

			if cfg.DiscordToken != "" {
				f.SetupCheck("Discord token", true, "configured")
			} else {
				f.SetupCheck("Discord token", false, "not set. Set DISCORD_TOKEN")
				ok = false
			}

			switch {
			case cfg.WhisperBaseURL != "":
				f.SetupCheck("Transcription", true, cfg.WhisperModel+" at "+cfg.WhisperBaseURL)
			case cfg.WhisperAPIKey != "":
				f.SetupCheck("Transcription", true, cfg.WhisperModel+" (OpenAI)")
			default:
				f.SetupCheck("Transcription", false, "set WHISPER_API_KEY or WHISPER_BASE_URL")
				ok = false
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			recapper := llm.NewRecapper(cfg.Recap(), nil)
			for _, c := range config.CheckEnvironment(ctx, cfg, recapper) {
				f.SetupCheck(c.Name, c.OK, c.Detail)
				ok = ok && c.OK
			}

			if cfg.APIEnabled() {
				f.SetupCheck("Operator API", true, cfg.APIAddr)
				if cfg.APIJWTSecret == "" {
					f.Warning("WATSON_API_JWT_SECRET is empty, the operator API will be unauthenticated")
				}
			}
			if cfg.TwilioEnabled() {
				f.SetupCheck("SMS alerts", true, "to "+cfg.TwilioAlertTo)
			}

			if ok {
				f.Success("All prerequisites met. Ready to record!")
			} else {
				f.Warning("Some prerequisites are missing.")
			}
			return nil
		},
	}
}
