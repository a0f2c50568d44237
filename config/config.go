package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// RunLogName is the default run log file name inside the target directory.
const RunLogName = "conversion_log.txt"

// Config captures all command-line options required to run the converter.
type Config struct {
	SourceDir string
	TargetDir string
	RunLog    string
	Workers   int
	DryRun    bool
	LogLevel  string
	LogDir    string
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("source", "", "Root of the mail archive to convert")
	flags.String("target", "", "Destination directory for the converted tree")
	flags.String("run-log", "", "Path of the per-message run log (default: <target>/"+RunLogName+")")
	flags.Int("workers", 1, "Number of messages converted in parallel")
	flags.Bool("dry-run", false, "Classify and decode without writing any output")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for the application log file (stdout only when empty)")

	if err := cmd.MarkFlagRequired("source"); err != nil {
		return err
	}
	if err := cmd.MarkFlagRequired("target"); err != nil {
		return err
	}

	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	sourceDir, err := flags.GetString("source")
	if err != nil {
		return Config{}, err
	}
	targetDir, err := flags.GetString("target")
	if err != nil {
		return Config{}, err
	}
	runLog, err := flags.GetString("run-log")
	if err != nil {
		return Config{}, err
	}
	workers, err := flags.GetInt("workers")
	if err != nil {
		return Config{}, err
	}
	dryRun, err := flags.GetBool("dry-run")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}

	if runLog == "" {
		runLog = filepath.Join(targetDir, RunLogName)
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		SourceDir: filepath.Clean(sourceDir),
		TargetDir: filepath.Clean(targetDir),
		RunLog:    runLog,
		Workers:   workers,
		DryRun:    dryRun,
		LogLevel:  logLevel,
		LogDir:    logDir,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.SourceDir == "" {
		return fmt.Errorf("--source is required")
	}
	if cfg.TargetDir == "" {
		return fmt.Errorf("--target is required")
	}
	if info, err := os.Stat(cfg.SourceDir); err != nil {
		return fmt.Errorf("source directory: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", cfg.SourceDir)
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("--workers must be positive")
	}
	if cfg.Workers > 64 {
		return fmt.Errorf("--workers must be at most 64")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}
