// Package watcher turns filesystem activity on class image files into
// proposed changes for the hot-swap pipeline. Rapid save bursts from
// editors and build tools are debounced per path: a change is delivered
// only after the file has settled.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tliron/commonlog"
)

// DefaultSettle is how long a file must stay quiet before its change is
// delivered.
const DefaultSettle = 100 * time.Millisecond

// Change is a settled modification to a class image file. ClassName is
// derived from the file stem: src/Greeter.mcls proposes a change to
// Greeter.
type Change struct {
	ClassName string
	Path      string
	Payload   []byte
	At        time.Time
}

// Options configures a Watcher.
type Options struct {
	// Extension filters which files are watched, e.g. ".mcls".
	Extension string
	// Settle is the per-path debounce window. Zero means DefaultSettle.
	Settle time.Duration
}

// Watcher watches directories for class image writes and delivers
// settled changes on Changes(). Safe for use from one consumer
// goroutine.
type Watcher struct {
	fsw    *fsnotify.Watcher
	ext    string
	settle time.Duration
	log    commonlog.Logger

	changes chan Change
	done    chan struct{}

	mu       sync.Mutex
	pending  map[string]*time.Timer
	stopOnce sync.Once
}

// New starts watching the given directories. Directories must exist;
// files created in them later are picked up automatically.
func New(dirs []string, opts Options) (*Watcher, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("watcher: no directories to watch")
	}
	settle := opts.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watcher: watching %s: %w", dir, err)
		}
	}

	w := &Watcher{
		fsw:     fsw,
		ext:     opts.Extension,
		settle:  settle,
		log:     commonlog.GetLogger("molt.watcher"),
		changes: make(chan Change, 64),
		done:    make(chan struct{}),
		pending: make(map[string]*time.Timer),
	}
	go w.loop()
	return w, nil
}

// Changes returns the channel settled changes arrive on. It is closed
// when the watcher stops.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Close stops watching and closes the change channel. Pending debounce
// timers are cancelled; their changes are never delivered.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()

		w.mu.Lock()
		for path, timer := range w.pending {
			timer.Stop()
			delete(w.pending, path)
		}
		w.mu.Unlock()
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.changes)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.schedule(event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Errorf("watch error: %v", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	if w.ext != "" && !strings.EqualFold(filepath.Ext(event.Name), w.ext) {
		return false
	}
	return true
}

// schedule arms (or re-arms) the settle timer for path. Every further
// write within the window pushes delivery out again.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.deliver(path)
	})
}

func (w *Watcher) deliver(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()

	payload, err := os.ReadFile(path)
	if err != nil {
		// The file may have been removed between the write and the
		// settle; there is nothing to propose.
		w.log.Infof("skipping %s: %v", path, err)
		return
	}
	if len(payload) == 0 {
		w.log.Infof("skipping %s: empty file", path)
		return
	}

	change := Change{
		ClassName: ClassNameForPath(path),
		Path:      path,
		Payload:   payload,
		At:        time.Now().UTC(),
	}
	select {
	case w.changes <- change:
	case <-w.done:
	}
}

// ClassNameForPath derives the class a file proposes to change:
// the base name without its extension.
func ClassNameForPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
