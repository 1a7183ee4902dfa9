package trigger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"autoconf/pkg/logging"
)

// FilesystemSource publishes triggers described by YAML files in a
// directory. Each file is one trigger: its base name without extension is
// the trigger ID, its top-level mapping the attributes.
//
//	# triggers/db-1.yaml
//	kind: database
//	port: 5432
//	tags: [primary, eu]
//
// Files are re-read after a debounce interval so editors that write in
// several steps produce a single Modified event.
type FilesystemSource struct {
	*Registry

	mu sync.Mutex

	// dir is the directory holding trigger files
	dir string

	// debounceInterval is how long to wait for additional changes
	debounceInterval time.Duration

	watcher *fsnotify.Watcher
	pending map[string]*time.Timer
	stopCh  chan struct{}
	running bool
}

// NewFilesystemSource creates a source for dir. It does not touch the
// filesystem until Start is called.
func NewFilesystemSource(dir string, debounceInterval time.Duration) *FilesystemSource {
	if debounceInterval <= 0 {
		debounceInterval = 200 * time.Millisecond
	}
	return &FilesystemSource{
		Registry:         NewRegistry(),
		dir:              dir,
		debounceInterval: debounceInterval,
		pending:          make(map[string]*time.Timer),
	}
}

// Start loads every trigger file present in the directory and then watches
// it for changes until ctx is cancelled or Stop is called.
func (s *FilesystemSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create trigger directory %s: %w", s.dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		s.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	s.watcher = watcher
	s.stopCh = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	if err := s.LoadAll(); err != nil {
		s.Stop()
		return err
	}

	go s.processEvents(ctx, watcher, s.stopCh)

	logging.Info("FilesystemSource", "Watching %s for trigger files", s.dir)
	return nil
}

// LoadAll reads every YAML file in the directory into the registry. Files
// that fail to parse are logged and skipped.
func (s *FilesystemSource) LoadAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read trigger directory %s: %w", s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		s.sync(filepath.Join(s.dir, name))
	}
	return nil
}

func (s *FilesystemSource) processEvents(ctx context.Context, watcher *fsnotify.Watcher, stopCh chan struct{}) {
	defer s.cancelPending()

	for {
		select {
		case <-ctx.Done():
			return

		case <-stopCh:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isYAMLFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.debounce(event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("FilesystemSource", err, "Filesystem watcher error")
		}
	}
}

// debounce schedules a re-read of path. The file's state at the time the
// timer fires decides whether the trigger is upserted or unregistered, so
// create/write/remove sequences collapse to their final outcome.
func (s *FilesystemSource) debounce(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.pending[path]; ok {
		timer.Stop()
	}
	s.pending[path] = time.AfterFunc(s.debounceInterval, func() {
		s.mu.Lock()
		delete(s.pending, path)
		s.mu.Unlock()

		s.sync(path)
	})
}

// sync brings the registry in line with the file at path.
func (s *FilesystemSource) sync(path string) {
	id := TriggerIDFromPath(path)

	attrs, err := ReadTriggerFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if s.Unregister(id) {
			logging.Debug("FilesystemSource", "Trigger %s removed", id)
		}
	case err != nil:
		logging.Warn("FilesystemSource", "Ignoring trigger file %s: %v", path, err)
	default:
		s.Upsert(id, attrs)
		logging.Debug("FilesystemSource", "Trigger %s loaded from %s", id, path)
	}
}

func (s *FilesystemSource) cancelPending() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, timer := range s.pending {
		timer.Stop()
	}
	s.pending = make(map[string]*time.Timer)
}

// Stop stops watching. Triggers already loaded stay registered.
func (s *FilesystemSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	close(s.stopCh)

	var err error
	if s.watcher != nil {
		err = s.watcher.Close()
		s.watcher = nil
	}
	return err
}

// TriggerIDFromPath derives the trigger ID from a trigger file name.
func TriggerIDFromPath(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, ".yaml")
	return strings.TrimSuffix(name, ".yml")
}

// ReadTriggerFile parses a trigger file into an attribute map.
func ReadTriggerFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	attrs := make(map[string]any, len(raw))
	for k, v := range raw {
		attrs[k] = normalizeValue(v)
	}
	return attrs, nil
}

// normalizeValue maps decoded YAML onto the attribute value types: scalars
// stay as decoded, sequences become string arrays.
func normalizeValue(v interface{}) any {
	switch val := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, FormatValue(item))
		}
		return out
	case map[string]interface{}:
		return fmt.Sprintf("%v", val)
	default:
		return val
	}
}

// isYAMLFile checks if a file path is a YAML file.
func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
