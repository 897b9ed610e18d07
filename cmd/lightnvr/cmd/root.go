// Package cmd implements the CLI commands for lightnvr.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lightnvr/lightnvr/internal/config"
	"github.com/lightnvr/lightnvr/internal/version"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "lightnvr",
	Short:   "Lightweight network video recorder",
	Version: version.Short(),
	Long: `lightnvr records RTSP and MJPEG cameras to disk, serves a live HLS
preview per camera, runs optional object detection against decoded
frames, and enforces per-stream and global retention policies.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initLogging()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initViperDefaults)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./, ./configs, /etc/lightnvr, $HOME/.lightnvr)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	mustBindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initViperDefaults primes viper with the same defaults config.Load applies,
// so flags bound here (log level/format) resolve before serve calls Load
// itself with the --config path.
func initViperDefaults() {
	config.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix("LIGHTNVR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// initLogging configures the default slog logger from flags/env so
// PersistentPreRunE output (including config.Load's own errors) is
// already formatted correctly before serve builds its own logger from
// the fully loaded Config.
func initLogging() error {
	level := slog.LevelInfo
	switch strings.ToLower(viper.GetString("logging.level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(viper.GetString("logging.format")) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding
// fails, which only happens for a programming error (nil flag).
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
