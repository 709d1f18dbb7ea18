package monitor

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PolicyWatcher serves the current escalation policy and reloads it when
// the file changes on disk. A broken edit keeps the last good policy.
type PolicyWatcher struct {
	path    string
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current *Policy

	done chan struct{}
	once sync.Once
}

// NewPolicyWatcher loads the policy file and starts watching its
// directory. Editors replace files on save, so watching the directory
// survives rename-based writes.
func NewPolicyWatcher(path string) (*PolicyWatcher, error) {
	policy, err := LoadPolicyFromFile(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &PolicyWatcher{
		path:    path,
		watcher: watcher,
		current: policy,
		done:    make(chan struct{}),
	}
	return w, nil
}

// Current returns the active policy.
func (w *PolicyWatcher) Current() *Policy {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Watch consumes filesystem events until the context is canceled or
// Close is called.
func (w *PolicyWatcher) Watch(ctx context.Context) {
	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Editors fire several events per save; coalesce them.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[policy] watch error: %v", err)
		}
	}
}

func (w *PolicyWatcher) reload() {
	policy, err := LoadPolicyFromFile(w.path)
	if err != nil {
		log.Printf("[policy] reload failed, keeping previous policy: %v", err)
		return
	}

	w.mu.Lock()
	w.current = policy
	w.mu.Unlock()
	log.Printf("[policy] reloaded from %s (%d severity mappings)", w.path, len(policy.Severities))
}

// Close stops the watcher.
func (w *PolicyWatcher) Close() error {
	w.once.Do(func() { close(w.done) })
	return w.watcher.Close()
}
