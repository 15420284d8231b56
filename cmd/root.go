package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"creofinder/config"
	"creofinder/internal/auth"
	"creofinder/internal/downloader"
	"creofinder/internal/metrics"
	"creofinder/internal/transfer"
	"creofinder/pkg/utils"
)

const metricsNamespace = "creofinder"

var (
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "creofinder",
	Short: "Search the CreoDIAS catalog and download satellite products",
	Long: `creofinder is a command-line tool for the CreoDIAS / Copernicus Data Space catalog.
It searches collections by date, geometry and product attributes, and downloads the matched
products either as zip archives over HTTPS or file by file from the eodata object store.
Configuration is loaded from .env file or environment variables`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(cmd)
		return utils.ValidateFormat(outputFormat(cmd))
	},
}

func Execute(config *config.Config) error {
	cfg = config
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(fetchS3Cmd)
	rootCmd.AddCommand(productInfoCmd)

	rootCmd.PersistentFlags().StringP("bucket", "b", "", "Override bucket name from config")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringP("output", "o", utils.FormatJSON, "Output format: json or yaml")
	rootCmd.PersistentFlags().String("metrics-file", "", "Write download metrics to this file in Prometheus textfile format")
}

func setupLogging(cmd *cobra.Command) {
	level := cfg.SlogLevel()
	if isVerbose(cmd) {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func getBucketName(cmd *cobra.Command) string {
	bucket, _ := cmd.Flags().GetString("bucket")
	if bucket != "" {
		return bucket
	}
	return cfg.BucketName
}

func isVerbose(cmd *cobra.Command) bool {
	verbose, _ := cmd.Flags().GetBool("verbose")
	return verbose
}

func outputFormat(cmd *cobra.Command) string {
	format, _ := cmd.Flags().GetString("output")
	return format
}

// reportError prints err as the command result and hands it back so the process exits non-zero.
func reportError(cmd *cobra.Command, err error, command string) error {
	utils.PrintError(err, command, outputFormat(cmd))
	return err
}

// commandContext is cancelled on SIGINT/SIGTERM and, when --timeout is positive, after that many seconds.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	timeout, _ := cmd.Flags().GetInt("timeout")
	if timeout <= 0 {
		return ctx, stop
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	return ctx, func() {
		cancel()
		stop()
	}
}

// newRecorder returns the metrics recorder for this run and a flush func that writes the
// --metrics-file textfile when one was requested.
func newRecorder(cmd *cobra.Command) (metrics.Recorder, func()) {
	path, _ := cmd.Flags().GetString("metrics-file")
	if path == "" {
		return metrics.Noop{}, func() {}
	}

	m := metrics.New(metricsNamespace)
	return m, func() {
		if err := m.WriteTextfile(path); err != nil {
			slog.Error("Failed to write metrics", "path", path, "error", err)
		}
	}
}

func credentials() (auth.Credentials, error) {
	if err := cfg.ValidateCredentials(); err != nil {
		return auth.Credentials{}, err
	}
	return auth.Credentials{Username: cfg.Username, Password: cfg.Password}, nil
}

func newDownloader(rec metrics.Recorder) *downloader.Downloader {
	tokens := auth.NewProvider(cfg.AuthURL, cfg.ClientID, auth.WithTimeout(cfg.AuthTimeout))
	fetcher := transfer.New(transfer.WithStallTimeout(cfg.StallTimeout))

	return downloader.New(tokens, fetcher,
		downloader.WithBaseURL(cfg.DownloadURL),
		downloader.WithMetrics(rec),
	)
}
