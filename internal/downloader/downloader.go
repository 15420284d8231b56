// Package downloader fetches CreoDIAS products over HTTPS, one at a time or as a bounded
// concurrent batch sharing a single access token.
package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"creofinder/internal/auth"
	"creofinder/internal/errors"
	"creofinder/internal/metrics"
	"creofinder/internal/transfer"
)

const (
	DefaultDownloadURL = "https://zipper.creodias.eu/download"

	archiveExt = ".zip"
)

// Fetcher streams one URL to one local file. *transfer.Transfer implements it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, destination string, sink transfer.Sink) (int64, error)
}

type Downloader struct {
	tokens  auth.TokenSource
	fetcher Fetcher
	baseURL string
	logger  *slog.Logger
	metrics metrics.Recorder
}

type Option func(*Downloader)

// WithBaseURL overrides the download endpoint; ids are appended as the last path segment.
func WithBaseURL(u string) Option {
	return func(d *Downloader) {
		if u != "" {
			d.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Downloader) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(d *Downloader) {
		if m != nil {
			d.metrics = m
		}
	}
}

func New(tokens auth.TokenSource, fetcher Fetcher, opts ...Option) *Downloader {
	d := &Downloader{
		tokens:  tokens,
		fetcher: fetcher,
		baseURL: DefaultDownloadURL,
		logger:  slog.Default(),
		metrics: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type downloadOptions struct {
	token string
	sink  transfer.Sink
}

type DownloadOption func(*downloadOptions)

// WithToken reuses an access token instead of requesting a new one.
func WithToken(token string) DownloadOption {
	return func(o *downloadOptions) {
		o.token = token
	}
}

// WithProgress reports every written chunk to sink.
func WithProgress(sink transfer.Sink) DownloadOption {
	return func(o *downloadOptions) {
		o.sink = sink
	}
}

// job is one unit of batch work. The token is shared read-only between jobs.
type job struct {
	id         string
	token      string
	outputPath string
}

// Download fetches a single product and returns the path it was written to.
//
// outputFile may name the target file or an existing directory, in which case the file is
// <outputFile>/<id>.zip. An empty outputFile means the current working directory.
func (d *Downloader) Download(ctx context.Context, id string, creds auth.Credentials, outputFile string, opts ...DownloadOption) (string, error) {
	if err := validateID("download", id); err != nil {
		return "", err
	}

	var o downloadOptions
	for _, opt := range opts {
		opt(&o)
	}

	target, err := resolveOutput(id, outputFile)
	if err != nil {
		return "", err
	}

	token := o.token
	if token == "" {
		token, err = d.tokens.Token(ctx, creds)
		if err != nil {
			return "", err
		}
	}

	return d.run(ctx, job{id: id, token: token, outputPath: target}, o.sink)
}

// URL builds the authenticated download URL for id.
func (d *Downloader) URL(id, token string) string {
	return d.baseURL + "/" + url.PathEscape(id) + "?token=" + url.QueryEscape(token)
}

func (d *Downloader) run(ctx context.Context, j job, sink transfer.Sink) (string, error) {
	start := time.Now()
	d.metrics.StartDownload(metrics.SourceHTTPS)

	n, err := d.fetcher.Fetch(ctx, d.URL(j.id, j.token), j.outputPath, sink)
	d.metrics.FinishDownload(metrics.SourceHTTPS, n, time.Since(start), err)
	if err != nil {
		d.logger.Error("Download failed", "id", j.id, "error", err)
		return "", fmt.Errorf("download %s: %w", j.id, err)
	}

	d.logger.Info("Downloaded product", "id", j.id, "path", j.outputPath, "bytes", n, "duration", time.Since(start).Round(time.Millisecond))

	return j.outputPath, nil
}

func resolveOutput(id, outputFile string) (string, error) {
	if outputFile == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", errors.NewFilesystemError(err, "get working directory", "")
		}
		outputFile = wd
	}

	// a trailing separator names a directory, existing or not
	if os.IsPathSeparator(outputFile[len(outputFile)-1]) {
		if err := os.MkdirAll(outputFile, 0o755); err != nil {
			return "", errors.NewFilesystemError(err, "create directory", outputFile)
		}
		return filepath.Join(outputFile, id+archiveExt), nil
	}

	if info, err := os.Stat(outputFile); err == nil && info.IsDir() {
		return filepath.Join(outputFile, id+archiveExt), nil
	}

	return outputFile, nil
}

// validateID rejects ids that cannot name a file directly inside the output directory.
func validateID(op, id string) error {
	if id == "" {
		return errors.NewValidationError(op, "product id must not be empty")
	}
	name := id + archiveExt
	if !filepath.IsLocal(name) || filepath.Base(name) != name {
		return errors.NewValidationError(op, "product id %q is not a valid file name", id)
	}
	return nil
}
