package cli

import (
	"github.com/spf13/cobra"

	"github.com/mrsingh-rishi/watson/config"
	"github.com/mrsingh-rishi/watson/version"
)

type Dependencies struct {
	Config *config.Config
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "watson",
		Short:         "Record Discord voice channels, transcribe and recap them",
		Long:          "A Discord bot that records a voice channel per speaker, transcribes each speaker, merges the transcript and posts a short recap.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	rootCmd.AddCommand(NewRunCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))
	rootCmd.AddCommand(NewTokenCmd(deps))

	return rootCmd
}
