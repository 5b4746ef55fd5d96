// Package featureflags exposes deployment-level toggles. Flags are read per
// decision, never cached by callers, so a file change takes effect on the
// next request without a restart.
package featureflags

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/quayside-labs/saaskit/pkg/observability"
)

// Flags is the full set of toggles.
type Flags struct {
	// PersonalAccounts controls whether users get a personal account at
	// registration and whether team accounts may convert back to personal.
	PersonalAccounts bool `json:"personal_accounts"`
}

// DefaultFlags returns the shipped defaults.
func DefaultFlags() Flags {
	return Flags{PersonalAccounts: true}
}

// Source yields the current flag values.
type Source interface {
	Current() Flags
}

// Static is a fixed-value source, used in tests and when no flags file is
// configured.
type Static struct {
	Flags Flags
}

// Current returns the fixed flags.
func (s Static) Current() Flags { return s.Flags }

// FileSource reads flags from a JSON file and watches it for changes.
type FileSource struct {
	path    string
	current atomic.Pointer[Flags]
	watcher *fsnotify.Watcher
	logger  *observability.Logger
	done    chan struct{}
}

// NewFileSource loads the flags file and starts watching it. Unknown keys in
// the file are ignored; missing keys keep their defaults.
func NewFileSource(path string, logger *observability.Logger) (*FileSource, error) {
	source := &FileSource{
		path:   path,
		logger: logger,
		done:   make(chan struct{}),
	}
	flags, err := loadFlags(path)
	if err != nil {
		return nil, err
	}
	source.current.Store(&flags)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create flags watcher: %w", err)
	}
	// Watch the directory, not the file: editors and config tooling replace
	// the file by rename, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch flags directory: %w", err)
	}
	source.watcher = watcher

	go source.watch()
	return source, nil
}

// Current returns the most recently loaded flags.
func (s *FileSource) Current() Flags {
	return *s.current.Load()
}

// Close stops the watcher.
func (s *FileSource) Close() error {
	close(s.done)
	return s.watcher.Close()
}

func (s *FileSource) watch() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			flags, err := loadFlags(s.path)
			if err != nil {
				// Keep serving the last good flags.
				s.logger.WithError(err).Warn("failed to reload feature flags")
				continue
			}
			s.current.Store(&flags)
			s.logger.WithField("path", s.path).Info("feature flags reloaded")
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("feature flags watcher error")
		}
	}
}

func loadFlags(path string) (Flags, error) {
	flags := DefaultFlags()
	raw, err := os.ReadFile(path)
	if err != nil {
		return flags, fmt.Errorf("failed to read flags file: %w", err)
	}
	if err := json.Unmarshal(raw, &flags); err != nil {
		return flags, fmt.Errorf("failed to parse flags file: %w", err)
	}
	return flags, nil
}
