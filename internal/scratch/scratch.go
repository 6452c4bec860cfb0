package scratch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Dir is a process-wide scratch area for derived voice assets and
// transcode intermediates. Files are named collision-free per request,
// so concurrent requests never touch each other's files and no locking
// is needed around create/delete.
type Dir struct {
	path string
	log  *slog.Logger
}

// Init creates the scratch directory if absent and empties it, so a
// prior unclean shutdown never leaks files into a new process.
func Init(path string, log *slog.Logger) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	d := &Dir{path: path, log: log.With(slog.String("component", "scratch"))}
	d.Purge()
	return d, nil
}

func (d *Dir) Path() string { return d.path }

// NewFilePath returns a unique path in the scratch area. The suffix is
// appended verbatim (typically the original file's base name so the
// extension survives).
func (d *Dir) NewFilePath(suffix string) string {
	return filepath.Join(d.path, uuid.NewString()+"_"+suffix)
}

// Remove deletes a scratch file. A file that is already gone is not an
// error.
func (d *Dir) Remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.log.Warn("failed to remove scratch file",
			slog.String("path", path), slog.String("error", err.Error()))
	}
}

// Purge empties the scratch directory. Filesystem errors are logged and
// swallowed; purge is best effort.
func (d *Dir) Purge() {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		d.log.Warn("failed to read scratch dir", slog.String("error", err.Error()))
		return
	}
	removed := 0
	for _, entry := range entries {
		target := filepath.Join(d.path, entry.Name())
		if err := os.RemoveAll(target); err != nil {
			d.log.Warn("failed to delete scratch entry",
				slog.String("path", target), slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	if removed > 0 {
		d.log.Info("scratch dir purged", slog.Int("removed", removed))
	}
}
