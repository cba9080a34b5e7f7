package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/framecast/internal/config"
	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "framecast",
	Short: "Render HTML templates to video, frame by frame",
	Long: `framecast turns a template (a pure function from a frame's time to HTML)
into an MP4 or WebM video. Each frame is rendered to markup, captured by a
headless browser and piped to ffmpeg.

Quick Start:
  framecast doctor                  Check Chrome and ffmpeg
  framecast preview scene.tsx       Scrub and play in the browser
  framecast render scene.tsx        Render to scene.mp4

Configuration is read from .framecast.yml, FRAMECAST_CONFIG_FILE or
FRAMECAST_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	err := rootCmd.Execute()
	var reported errReported
	if err != nil && !errors.As(err, &reported) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .framecast.yml, can also use FRAMECAST_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig points viper at the config file and environment. A broken
// config file is reported once here and again by the command that loads it.
func initConfig() {
	config.Configure(viper.GetViper(), cfgFile)
	if err := config.Read(viper.GetViper()); err != nil {
		fmt.Fprintln(os.Stderr, "Warning:", err)
		return
	}
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintln(os.Stderr, "Using config file:", used)
	}
}

// loadConfig decodes and validates configuration and builds the logger it
// describes. Logs go to stderr so command output stays pipeable.
func loadConfig() (*config.Config, logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg.Log), nil
}

func newLogger(lc config.LogConfig) logging.Logger {
	lcfg := &logging.LoggerConfig{
		Level:  logging.ParseLevel(lc.Level),
		Format: lc.Format,
		Output: os.Stderr,
	}
	if lc.Dir == "" {
		return logging.NewLogger(lcfg)
	}

	fileLogger, err := logging.NewFileLogger(lcfg, lc.Dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Warning: logging to stderr:", err)
		return logging.NewLogger(lcfg)
	}
	return fileLogger
}
