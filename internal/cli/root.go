// Package cli is the command tree of the halfduplex-voice binary.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/zokiio/halfduplex-voice/internal/config"
)

// Version is stamped at build time with -ldflags "-X".
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "halfduplex-voice",
	Short: "Half-duplex voice client",
	Long: `halfduplex-voice streams voice to and from a voice server over a
single shared transducer. Only one of the microphone and the speaker is
active at a time; the client switches to the speaker while remote speech
is playing and back to the microphone once it has been silent.

Configuration is read from the OS config directory:
  Linux:   ~/.config/halfduplex-voice/config.yaml
  macOS:   ~/Library/Application Support/halfduplex-voice/config.yaml
  Windows: %AppData%/halfduplex-voice/config.yaml

Use 'halfduplex-voice config init' to write the defaults there.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default is the OS config directory)")
}

// resolvePath returns --config or the default location.
func resolvePath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.Path()
}

func loadConfig() (*config.Config, error) {
	path, err := resolvePath()
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}
