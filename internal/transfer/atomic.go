package transfer

import (
	"log/slog"
	"os"
	"path/filepath"

	"creofinder/internal/errors"
)

// IncompleteSuffix marks a file that is still being written.
const IncompleteSuffix = ".incomplete"

// AtomicFile is a file written at Destination+IncompleteSuffix and moved to Destination on
// Commit. Until Commit succeeds nothing is ever written at Destination itself.
type AtomicFile struct {
	*os.File
	destination string
	done        bool
}

// CreateAtomic opens (truncating) the incomplete sibling of destination, creating the parent
// directory when needed.
func CreateAtomic(destination string) (*AtomicFile, error) {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return nil, errors.NewFilesystemError(err, "create directory", filepath.Dir(destination))
	}

	f, err := os.OpenFile(destination+IncompleteSuffix, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.NewFilesystemError(err, "create file", destination+IncompleteSuffix)
	}

	return &AtomicFile{File: f, destination: destination}, nil
}

// Destination returns the final path.
func (a *AtomicFile) Destination() string {
	return a.destination
}

// Commit closes the incomplete file and renames it over the destination.
func (a *AtomicFile) Commit() error {
	if a.done {
		return nil
	}
	a.done = true

	if err := a.File.Close(); err != nil {
		removeIncomplete(a.Name())
		return errors.NewFilesystemError(err, "close file", a.Name())
	}
	if err := os.Rename(a.Name(), a.destination); err != nil {
		removeIncomplete(a.Name())
		return errors.NewFilesystemError(err, "rename", a.destination)
	}

	return nil
}

// Abort closes and deletes the incomplete file. It is a no-op after Commit, so it can be
// deferred right after CreateAtomic.
func (a *AtomicFile) Abort() {
	if a.done {
		return
	}
	a.done = true

	_ = a.File.Close()
	removeIncomplete(a.Name())
}

func removeIncomplete(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove incomplete file", "path", path, "error", err)
	}
}
