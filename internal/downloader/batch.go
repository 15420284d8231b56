package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"creofinder/internal/auth"
	"creofinder/internal/errors"
)

// Counter is advanced once per finished job. *mpb.Bar implements it.
type Counter interface {
	Increment()
}

// BatchError lists every job of a batch that failed.
type BatchError struct {
	Failures map[string]error
}

func (e *BatchError) Error() string {
	ids := e.IDs()
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, e.Failures[id].Error())
	}
	return fmt.Sprintf("%d download(s) failed: %s", len(ids), strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, id := range e.IDs() {
		errs = append(errs, e.Failures[id])
	}
	return errs
}

// IDs returns the failed ids in sorted order.
func (e *BatchError) IDs() []string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DownloadAll fetches every id into outputDir/<id>.zip using at most concurrency parallel
// transfers and a single access token requested up front.
//
// All jobs run to completion. The returned map holds one entry per downloaded id; when any job
// failed the error is a *BatchError naming each failure.
func (d *Downloader) DownloadAll(ctx context.Context, ids []string, creds auth.Credentials, outputDir string, concurrency int, counter Counter) (map[string]string, error) {
	if concurrency < 1 {
		return nil, errors.NewValidationError("download batch", "concurrency must be at least 1, got %d", concurrency)
	}

	ids = uniqueIDs(ids)
	for _, id := range ids {
		if err := validateID("download batch", id); err != nil {
			return nil, err
		}
	}
	if len(ids) == 0 {
		return map[string]string{}, nil
	}

	if outputDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.NewFilesystemError(err, "get working directory", "")
		}
		outputDir = wd
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, errors.NewFilesystemError(err, "create directory", outputDir)
	}

	token, err := d.tokens.Token(ctx, creds)
	if err != nil {
		return nil, err
	}

	logger := d.logger.With("batch_id", uuid.NewString())
	logger.Info("Starting batch download", "products", len(ids), "concurrency", concurrency, "output_dir", outputDir)

	var (
		mu       sync.Mutex
		results  = make(map[string]string, len(ids))
		failures = make(map[string]error)
	)

	var g errgroup.Group
	g.SetLimit(concurrency)

	for _, id := range ids {
		j := job{id: id, token: token, outputPath: filepath.Join(outputDir, id+archiveExt)}

		g.Go(func() error {
			path, err := d.run(ctx, j, nil)

			mu.Lock()
			if err != nil {
				failures[j.id] = err
			} else {
				results[j.id] = path
			}
			mu.Unlock()

			if counter != nil {
				counter.Increment()
			}
			// failures are collected, never returned, so the group keeps running every job
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("Batch download finished", "succeeded", len(results), "failed", len(failures))

	if len(failures) > 0 {
		return results, &BatchError{Failures: failures}
	}
	return results, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
