package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/pmmail-to-eml/cmd"
	"github.com/dhcgn/pmmail-to-eml/config"
	"github.com/dhcgn/pmmail-to-eml/convert"
	"github.com/dhcgn/pmmail-to-eml/progress"
	"github.com/dhcgn/pmmail-to-eml/runlog"
	"github.com/dhcgn/pmmail-to-eml/runner"
	"github.com/dhcgn/pmmail-to-eml/scanner"
	"github.com/dhcgn/pmmail-to-eml/stats"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pmmail-to-eml",
		Short: "Convert a PMMail 2000 archive tree into EML files under readable folder names",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(c)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting pmmail-to-eml", "source", cfg.SourceDir, "target", cfg.TargetDir, "workers", cfg.Workers, "dryRun", cfg.DryRun)

			return run(cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(cmd.StatsCmd(), cmd.UploadCmd(), cmd.PackMboxCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	total, err := scanner.Count(cfg.SourceDir)
	if err != nil {
		return fmt.Errorf("scanner.Count: %w", err)
	}
	if total == 0 {
		logger.Info("no candidate message files found", "source", cfg.SourceDir)
		return nil
	}

	if !cfg.DryRun {
		if err := os.MkdirAll(cfg.TargetDir, 0o755); err != nil {
			return fmt.Errorf("create target directory: %w", err)
		}
	}

	sink, err := runlog.NewFile(cfg.RunLog)
	if err != nil {
		return fmt.Errorf("runlog.NewFile: %w", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("closing run log failed", "err", err)
		}
	}()

	r, err := runner.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	bar := progress.New(total, cfg.LogLevel)
	reporter := stats.NewReporter(r, logger, bar.Update)

	scanOpts := scanner.Options{
		Source: cfg.SourceDir,
		Target: cfg.TargetDir,
	}
	if _, err := scanner.NewProducer(scanOpts, r, logger); err != nil {
		return fmt.Errorf("scanner.NewProducer: %w", err)
	}

	convOpts := convert.Options{
		Target:  cfg.TargetDir,
		DryRun:  cfg.DryRun,
		Workers: cfg.Workers,
	}
	if _, err := convert.NewStage(convOpts, r, sink, logger); err != nil {
		return fmt.Errorf("convert.NewStage: %w", err)
	}

	runErr := r.Start()
	bar.Stop()

	summary := reporter.Summary()
	pterm.Println()
	pterm.Info.Printf("Done. Converted: %d, copied as unknown: %d, failed: %d. Log: %s\n",
		summary.Converted, summary.Copied, summary.Failed, sink.Path())

	return runErr
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("pmmail-to-eml-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
