package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sarowar6362/streamer56/internal/audio/pipeline"
	"github.com/Sarowar6362/streamer56/pkg/logger"
	"github.com/Sarowar6362/streamer56/pkg/system"
)

// set with -ldflags "-X .../commands.version=..."
var version = "dev"

var (
	envFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "streamer",
	Short: "Stream live audio between two hosts over UDP",
	Long: `streamer captures audio, compresses it with Opus and sends one UDP datagram
per 20 ms frame. The receiving side decodes each datagram and plays it.

Both ends must agree on sample rate, channel count and frame size. Settings
come from the environment (optionally a .env file) and can be overridden by
flags.

Examples:
  # on the listening host
  streamer receive --listen :8888

  # on the capturing host
  streamer send --dest 192.168.1.20:8888

  # without a sound card: one second of 440 Hz, discarded on arrival
  streamer receive --sink null --log-level debug
  streamer send --source tone --tone-duration 1s`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := system.LoadOptionalEnv(envFile)
		if err != nil {
			return err
		}
		logger.InitLogger(logLevel, logFormat)
		if loaded {
			log.Debug().Str("file", envFile).Msg("Loaded environment file")
		}
		return nil
	},
}

// Execute runs the root command until it finishes or the process receives
// SIGINT or SIGTERM, and logs the failure if there is one.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		reportError(err)
	}
	return err
}

func reportError(err error) {
	var stageErr *pipeline.Error
	if errors.As(err, &stageErr) {
		ev := log.Error().
			Str("stage", string(stageErr.Stage)).
			Str("kind", string(stageErr.Kind)).
			Err(stageErr.Err)
		if err != error(stageErr) {
			// release errors joined onto the stage failure
			ev = ev.Str("detail", err.Error())
		}
		ev.Msg("Stream failed")
		return
	}
	log.Error().Err(err).Msg("Command failed")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "environment file, searched for in parent directories")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "trace|debug|info|warn|error (default $LOG_LEVEL or info)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "json|console (default $LOG_FORMAT or json)")

	rootCmd.AddCommand(sendCmd, receiveCmd)
}
