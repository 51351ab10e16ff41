// Package errorlog persists filtered build logs for failed jobs and keeps
// the collection bounded.
package errorlog

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/xorwow/serial-pdf/internal/config"
	"github.com/xorwow/serial-pdf/internal/errors"
	"github.com/xorwow/serial-pdf/internal/logging"
)

// Store writes one log file per failed job into a flat directory. Polling
// clients receive the returned name and fetch the file out of band.
type Store struct {
	root       string
	maxFiles   int
	pruneExtra int

	mu  sync.Mutex
	log logging.Logger
}

func NewStore(root string, cfg config.ErrorLogConfig, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Nop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternal, "creating error log directory", err)
	}

	return &Store{
		root:       root,
		maxFiles:   cfg.MaxFiles,
		pruneExtra: cfg.PruneExtra,
		log:        log.WithComponent("errorlog"),
	}, nil
}

// Write stores content as <jobID>.log and returns the name relative to the
// store root. Every write runs the pruner afterwards.
func (s *Store) Write(ctx context.Context, jobID, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := jobID + ".log"
	if err := os.WriteFile(filepath.Join(s.root, name), []byte(content), 0o644); err != nil {
		return "", errors.NewInternalError(errors.ErrCodeInternal, "writing error log", err).WithJob(jobID)
	}

	if removed, err := s.prune(); err != nil {
		s.log.Warn(ctx, err, "error log pruning failed")
	} else if removed > 0 {
		s.log.Debug(ctx, "pruned error logs", "removed", removed)
	}

	return name, nil
}

// Path resolves a name returned by Write to its location on disk.
func (s *Store) Path(name string) string {
	return filepath.Join(s.root, name)
}

// Prune deletes the oldest logs once the count exceeds maxFiles plus the
// configured slack, bringing the directory back down to maxFiles. The slack
// keeps a store hovering at capacity from paying the sweep on every write.
func (s *Store) Prune(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prune()
}

type logFile struct {
	name    string
	modTime time.Time
}

func (s *Store) prune() (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, errors.NewInternalError(errors.ErrCodeInternal, "listing error log directory", err)
	}

	files := make([]logFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{name: entry.Name(), modTime: info.ModTime()})
	}

	if len(files) <= s.maxFiles+s.pruneExtra {
		return 0, nil
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].name < files[j].name
		}
		return files[i].modTime.Before(files[j].modTime)
	})

	removed := 0
	for _, file := range files[:len(files)-s.maxFiles] {
		if err := os.Remove(filepath.Join(s.root, file.name)); err != nil && !os.IsNotExist(err) {
			return removed, errors.NewInternalError(errors.ErrCodeInternal, "removing stale error log", err)
		}
		removed++
	}

	return removed, nil
}
