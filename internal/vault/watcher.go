package vault

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeKind represents a vault mutation type.
type ChangeKind int

const (
	// ChangeCreate indicates a new note was created.
	ChangeCreate ChangeKind = iota
	// ChangeModify indicates an existing note was modified.
	ChangeModify
	// ChangeDelete indicates a note was deleted.
	ChangeDelete
)

// String returns a human-readable representation of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeCreate:
		return "CREATE"
	case ChangeModify:
		return "MODIFY"
	case ChangeDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Change represents a single vault mutation.
type Change struct {
	// Path is the vault-relative path of the changed note.
	Path string

	// Kind is the mutation type after coalescing.
	Kind ChangeKind

	// Timestamp is when the change was detected.
	Timestamp time.Time
}

// Watcher watches a vault directory and emits debounced change batches.
// Rapid events for the same note are coalesced within the debounce window
// so that editors writing temp files don't trigger repeated reindexing:
//   - CREATE + MODIFY = CREATE
//   - CREATE + DELETE = nothing
//   - MODIFY + DELETE = DELETE
//   - DELETE + CREATE = MODIFY
type Watcher struct {
	vault    *FSVault
	window   time.Duration
	batches  chan []Change
	errs     chan error
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu      sync.Mutex
	pending map[string]*Change
	timer   *time.Timer
	stopped bool
}

// DefaultDebounceWindow is the default event coalescing window.
const DefaultDebounceWindow = 200 * time.Millisecond

// NewWatcher creates a watcher for the given vault.
// window <= 0 uses DefaultDebounceWindow.
func NewWatcher(v *FSVault, window time.Duration) *Watcher {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Watcher{
		vault:   v,
		window:  window,
		batches: make(chan []Change, 10),
		errs:    make(chan error, 10),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		pending: make(map[string]*Change),
	}
}

// Batches returns the channel of debounced change batches.
// The channel is closed when the watcher stops.
func (w *Watcher) Batches() <-chan []Change {
	return w.batches
}

// Errors returns the channel of non-fatal watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Start begins watching the vault recursively until ctx is cancelled
// or Stop is called. It blocks; run it in a goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	// doneCh must close on every exit path or Stop blocks forever.
	defer close(w.doneCh)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()
	defer w.teardown()

	if err := w.addRecursive(fsw, w.vault.Root()); err != nil {
		return err
	}

	slog.Info("vault_watcher_started",
		slog.String("root", w.vault.Root()),
		slog.Duration("debounce", w.window))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

// Stop stops the watcher. Safe to call multiple times, including when
// Start never got past its setup.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

// teardown disarms the debounce timer and closes the output channels.
// stopCh closes first so an in-flight flush exits through its stop case
// instead of sending on a closed channel.
func (w *Watcher) teardown() {
	w.stopOnce.Do(func() { close(w.stopCh) })

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.pending = nil
	w.stopped = true
	w.mu.Unlock()

	close(w.batches)
	close(w.errs)
}

// addRecursive registers the directory tree with fsnotify.
// fsnotify does not watch recursively on its own.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// handleEvent translates an fsnotify event into a pending vault change.
func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return
	}

	// New directories need to be added to the watch set
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(fsw, event.Name)
			return
		}
	}

	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := w.vault.extensions[ext]; !ok {
		return
	}

	rel, err := filepath.Rel(w.vault.Root(), event.Name)
	if err != nil {
		return
	}
	path := filepath.ToSlash(rel)

	var kind ChangeKind
	switch {
	case event.Op.Has(fsnotify.Create):
		kind = ChangeCreate
	case event.Op.Has(fsnotify.Write):
		kind = ChangeModify
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		kind = ChangeDelete
	default:
		return
	}

	w.add(Change{Path: path, Kind: kind, Timestamp: time.Now()})
}

// add records a change and schedules a flush after the debounce window.
func (w *Watcher) add(c Change) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.pending[c.Path]; ok {
		merged, drop := coalesce(existing.Kind, c.Kind)
		if drop {
			delete(w.pending, c.Path)
		} else {
			existing.Kind = merged
			existing.Timestamp = c.Timestamp
		}
	} else {
		pc := c
		w.pending[c.Path] = &pc
	}

	if w.timer == nil {
		w.timer = time.AfterFunc(w.window, w.flush)
	} else {
		w.timer.Reset(w.window)
	}
}

// coalesce merges two change kinds for the same path.
// drop reports that the changes cancelled out (CREATE then DELETE).
func coalesce(first, second ChangeKind) (kind ChangeKind, drop bool) {
	switch {
	case first == ChangeCreate && second == ChangeDelete:
		return 0, true
	case first == ChangeCreate:
		return ChangeCreate, false
	case first == ChangeDelete && second == ChangeCreate:
		return ChangeModify, false
	case second == ChangeDelete:
		return ChangeDelete, false
	default:
		return ChangeModify, false
	}
}

// flush emits the pending changes as one batch. The lock is held across
// the send: teardown closes stopCh before taking the lock, so a flush
// caught mid-send exits through the stop case and a flush arriving after
// teardown sees stopped and does nothing.
func (w *Watcher) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped || len(w.pending) == 0 {
		w.timer = nil
		return
	}
	batch := make([]Change, 0, len(w.pending))
	for _, c := range w.pending {
		batch = append(batch, *c)
	}
	w.pending = make(map[string]*Change)
	w.timer = nil

	w.vault.InvalidateLinks()

	select {
	case w.batches <- batch:
	case <-w.stopCh:
	}
}
