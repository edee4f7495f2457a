// Command pump-controller runs a pumping station: it drives the pump fleet
// over the field bus, enforces the station interlocks and serves the
// supervisor link.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/sweeney/pump-controller/internal/config"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "pump-controller",
	Short: "Pumping station controller",
	Long: `pump-controller keeps a pumping station's outlet pressure at its target.

It drives the pump fleet over Modbus, stops it on inlet, over-pressure,
service-hour and anti-drip interlocks, and answers the supervisor over MQTT.

Every configuration key can be overridden with a PUMPCTL_<SECTION>_<KEY>
environment variable, e.g. PUMPCTL_CONTROL_GAIN=40.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Configuration file (empty for defaults and environment only)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level, overrides log.level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd, validateCmd, scanCmd, printStateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and installs the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger, err := newLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	log.Logger = logger
	return cfg, nil
}

// newLogger writes JSON lines, or human-readable lines when format is
// "console", or "auto" and out is a terminal.
func newLogger(out *os.File, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = out
	switch format {
	case "console":
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	case "json":
	case "", "auto":
		if isatty.IsTerminal(out.Fd()) {
			w = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
		}
	default:
		return zerolog.Nop(), fmt.Errorf("log format %q: want auto, console or json", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}
