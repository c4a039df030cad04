package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemap-dev/cuemap/core/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cuemapd",
	Short: "CueMap - a temporal-associative memory store",
	Long: `CueMap indexes short text memories by small sets of categorical cues
and recalls them with a continuous scoring gradient over intersection
strength, recency, reinforcement and salience.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
}

func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	setupLogging(cfg.LogLevel)
	return cfg, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
