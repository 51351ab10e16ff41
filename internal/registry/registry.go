// Package registry tracks the templates offered by the template root. A
// directory counts as a template when it directly contains the configured
// entry file. Listings reflect the live work tree; jobs themselves always
// render from a commit-pinned checkout, so the registry is advisory.
package registry

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/xorwow/serial-pdf/internal/errors"
	"github.com/xorwow/serial-pdf/internal/logging"
)

// Template describes one renderable directory under the template root.
type Template struct {
	// ID is the root-relative path of the directory, slash-separated. It is
	// what submitters pass as template_id.
	ID string
	// Dir is the absolute directory path in the work tree.
	Dir string
	// ModTime is the entry file's modification time at the last scan.
	ModTime time.Time
}

// Registry holds the scanned template set and optionally keeps it fresh by
// watching the root for filesystem changes.
type Registry struct {
	root      string
	entryFile string
	debounce  time.Duration
	log       logging.Logger

	mu        sync.RWMutex
	templates map[string]Template

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a registry over root and runs an initial scan. The debounce
// delay groups bursts of filesystem events into a single rescan once Watch
// is running.
func New(root, entryFile string, debounce time.Duration, log logging.Logger) (*Registry, error) {
	if log == nil {
		log = logging.Nop()
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("template root %q is not accessible: %v", root, err))
	}
	if !info.IsDir() {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("template root %q is not a directory", root))
	}

	r := &Registry{
		root:      root,
		entryFile: entryFile,
		debounce:  debounce,
		log:       log.WithComponent("registry"),
		templates: make(map[string]Template),
	}

	if err := r.Refresh(context.Background()); err != nil {
		return nil, err
	}

	return r, nil
}

// Refresh rescans the template root and replaces the template set.
func (r *Registry) Refresh(ctx context.Context) error {
	found := make(map[string]Template)

	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != r.entryFile {
			return nil
		}

		dir := filepath.Dir(path)
		rel, err := filepath.Rel(r.root, dir)
		if err != nil || rel == "." {
			// An entry file at the root itself names no template.
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		id := filepath.ToSlash(rel)
		found[id] = Template{ID: id, Dir: dir, ModTime: info.ModTime()}
		return nil
	})
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeInternal,
			"template root scan failed", err)
	}

	r.mu.Lock()
	previous := len(r.templates)
	r.templates = found
	r.mu.Unlock()

	if len(found) != previous {
		r.log.Info(ctx, "template set changed", "templates", len(found))
	} else {
		r.log.Debug(ctx, "template root scanned", "templates", len(found))
	}

	return nil
}

// List returns the known templates sorted by ID.
func (r *Registry) List() []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	templates := make([]Template, 0, len(r.templates))
	for _, t := range r.templates {
		templates = append(templates, t)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })

	return templates
}

// IDs returns the sorted template IDs.
func (r *Registry) IDs() []string {
	templates := r.List()
	ids := make([]string, len(templates))
	for i, t := range templates {
		ids[i] = t.ID
	}

	return ids
}

// Get retrieves a template by ID.
func (r *Registry) Get(id string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.templates[id]
	return t, ok
}

// Count returns the number of known templates.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.templates)
}

// Watch starts a filesystem watcher on the template root and rescans after
// each debounced burst of events. It returns once the watcher is running;
// Close stops it.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeInternal,
			"could not create template watcher", err)
	}

	if err := addTree(watcher, r.root); err != nil {
		watcher.Close()
		return errors.NewInternalError(errors.ErrCodeInternal,
			"could not watch template root", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.watcher = watcher
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.watchLoop(ctx)

	r.log.Info(ctx, "watching template root", "root", r.root, "debounce", r.debounce)

	return nil
}

// Close stops the watcher if one is running. Safe to call more than once.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}

	r.cancel()
	err := r.watcher.Close()
	<-r.done
	r.watcher = nil

	return err
}

func (r *Registry) watchLoop(ctx context.Context) {
	defer close(r.done)

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				// A bare chmod never changes the template set.
				continue
			}

			// New directories must be watched before files land in them,
			// fsnotify does not recurse on its own.
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(r.watcher, event.Name); err != nil {
						r.log.Warn(ctx, err, "could not watch new directory", "dir", event.Name)
					}
				}
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(r.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn(ctx, err, "template watcher error")

		case <-fire:
			if err := r.Refresh(ctx); err != nil {
				r.log.Warn(ctx, err, "template rescan failed")
			}
		}
	}
}

// addTree registers dir and every subdirectory with the watcher, skipping
// git internals.
func addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if info.Name() == ".git" || strings.Contains(path, string(filepath.Separator)+".git"+string(filepath.Separator)) {
			return filepath.SkipDir
		}

		return watcher.Add(path)
	})
}
