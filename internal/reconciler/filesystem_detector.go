package reconciler

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"autoconf/internal/config"
	"autoconf/pkg/logging"
)

// FilesystemDetector implements ChangeDetector for a directory of policy
// files.
//
// It uses fsnotify to watch the directory and emits one PolicyChange per
// file once changes to it have settled for the debounce interval.
type FilesystemDetector struct {
	mu sync.Mutex

	// dir is the policy directory
	dir string

	// watcher is the fsnotify watcher instance
	watcher *fsnotify.Watcher

	// debounceInterval is how long to wait for additional changes
	debounceInterval time.Duration

	// pendingEvents tracks pending debounced changes by file path
	pendingEvents map[string]*debounceEntry

	// stopCh signals shutdown
	stopCh chan struct{}

	// running indicates if the detector is active
	running bool
}

// debounceEntry tracks a pending change for debouncing.
type debounceEntry struct {
	change PolicyChange
	timer  *time.Timer
}

// NewFilesystemDetector creates a new policy directory detector.
func NewFilesystemDetector(dir string, debounceInterval time.Duration) *FilesystemDetector {
	if debounceInterval == 0 {
		debounceInterval = 500 * time.Millisecond
	}

	return &FilesystemDetector{
		dir:              dir,
		debounceInterval: debounceInterval,
		pendingEvents:    make(map[string]*debounceEntry),
		stopCh:           make(chan struct{}),
	}
}

// Start begins watching the policy directory, creating it if needed.
func (d *FilesystemDetector) Start(ctx context.Context, changes chan<- PolicyChange) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(d.dir); err != nil {
		watcher.Close()
		return err
	}

	d.watcher = watcher
	d.running = true
	d.stopCh = make(chan struct{})

	go d.processEvents(ctx, watcher, d.stopCh, changes)

	logging.Info("FilesystemDetector", "Started watching %s for policy changes", d.dir)
	return nil
}

// processEvents handles filesystem events until ctx is done or the
// detector stops.
func (d *FilesystemDetector) processEvents(ctx context.Context, watcher *fsnotify.Watcher, stopCh <-chan struct{}, changes chan<- PolicyChange) {
	for {
		select {
		case <-ctx.Done():
			d.cleanupPendingEvents()
			return

		case <-stopCh:
			d.cleanupPendingEvents()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			d.handleFsEvent(event, stopCh, changes)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("FilesystemDetector", err, "Filesystem watcher error")
		}
	}
}

// handleFsEvent processes a single filesystem event.
func (d *FilesystemDetector) handleFsEvent(event fsnotify.Event, stopCh <-chan struct{}, changes chan<- PolicyChange) {
	if !config.IsYAMLFile(event.Name) {
		return
	}

	var operation ChangeOperation
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		operation = OperationCreate
	case event.Op&fsnotify.Write == fsnotify.Write:
		operation = OperationUpdate
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		operation = OperationDelete
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		// The new name, if inside the directory, arrives as a Create.
		operation = OperationDelete
	default:
		return
	}

	d.debounceEvent(PolicyChange{
		Name:      config.PolicyNameFromPath(event.Name),
		Operation: operation,
		Timestamp: time.Now(),
		FilePath:  event.Name,
	}, stopCh, changes)
}

// debounceEvent delays change until the file has been quiet for the
// debounce interval, merging the operations seen in between.
func (d *FilesystemDetector) debounceEvent(change PolicyChange, stopCh <-chan struct{}, changes chan<- PolicyChange) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := change.FilePath

	if entry, ok := d.pendingEvents[key]; ok {
		entry.timer.Stop()
		change.Operation = mergeOperations(entry.change.Operation, change.Operation)
	}

	timer := time.AfterFunc(d.debounceInterval, func() {
		d.mu.Lock()
		entry, ok := d.pendingEvents[key]
		if ok {
			delete(d.pendingEvents, key)
		}
		d.mu.Unlock()

		if !ok {
			return
		}
		select {
		case changes <- entry.change:
			logging.Debug("FilesystemDetector", "Emitted change event: %s %s",
				entry.change.Operation, entry.change.Name)
		case <-stopCh:
		}
	})

	d.pendingEvents[key] = &debounceEntry{change: change, timer: timer}
}

// mergeOperations merges two operations into a single logical operation.
func mergeOperations(old, new ChangeOperation) ChangeOperation {
	if old == OperationCreate {
		if new == OperationDelete {
			// Still emitted so a half-applied policy gets cleaned up.
			return OperationDelete
		}
		return OperationCreate
	}

	if old == OperationUpdate && new == OperationDelete {
		return OperationDelete
	}

	return new
}

// cleanupPendingEvents cancels all pending debounce timers.
func (d *FilesystemDetector) cleanupPendingEvents() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, entry := range d.pendingEvents {
		entry.timer.Stop()
	}
	d.pendingEvents = make(map[string]*debounceEntry)
}

// Stop gracefully stops the detector.
func (d *FilesystemDetector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.running = false
	close(d.stopCh)

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			logging.Error("FilesystemDetector", err, "Error closing filesystem watcher")
		}
		d.watcher = nil
	}

	logging.Info("FilesystemDetector", "Stopped filesystem detector")
	return nil
}
