package utils

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mholt/archives"

	"creofinder/internal/errors"
	"creofinder/internal/models"
)

// ExtractArchive unpacks every regular file of the archive at archivePath into destDir.
// Any format known to mholt/archives is accepted; product downloads are zip files.
func ExtractArchive(ctx context.Context, archivePath, destDir string) (*models.ExtractInfo, error) {
	if err := identifyArchive(ctx, archivePath); err != nil {
		return nil, err
	}

	fsys, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return nil, errors.NewFilesystemError(fmt.Errorf("failed to open archive: %w", err), "extract", archivePath)
	}
	if closer, ok := fsys.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, errors.NewFilesystemError(err, "create directory", destDir)
	}

	info := &models.ExtractInfo{ArchivePath: archivePath, Destination: destDir}

	err = fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == "." {
			return nil
		}

		local := filepath.FromSlash(path)
		if !filepath.IsLocal(local) {
			return fmt.Errorf("archive entry %q escapes the destination directory", path)
		}
		target := filepath.Join(destDir, local)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		n, err := writeEntry(fsys, path, target)
		if err != nil {
			return err
		}
		info.Files++
		info.ExtractedBytes += n
		return nil
	})
	if err != nil {
		return nil, errors.NewFilesystemError(err, "extract", archivePath)
	}

	info.ExtractedAt = time.Now()
	return info, nil
}

func identifyArchive(ctx context.Context, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return errors.NewFilesystemError(err, "open archive", archivePath)
	}
	defer f.Close()

	format, _, err := archives.Identify(ctx, filepath.Base(archivePath), f)
	if err != nil {
		return errors.NewValidationError("extract", "%s is not a recognized archive: %w", archivePath, err)
	}
	if _, ok := format.(archives.Extractor); !ok {
		return errors.NewValidationError("extract", "%s is compressed but not an archive", archivePath)
	}
	return nil
}

func writeEntry(fsys fs.FS, path, target string) (int64, error) {
	src, err := fsys.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = src.Close() }()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("failed to write %s: %w", target, err)
	}
	return n, nil
}

// ArchiveDirName is the directory a product archive is unpacked into: the archive path
// without its extension.
func ArchiveDirName(archivePath string) string {
	return strings.TrimSuffix(archivePath, filepath.Ext(archivePath))
}

// RemoveFile deletes path, ignoring a file that is already gone.
func RemoveFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewFilesystemError(err, "remove", path)
	}
	return nil
}
