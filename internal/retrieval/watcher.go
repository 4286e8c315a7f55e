package retrieval

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch starts a filesystem watcher over the knowledge root so the FTS
// index can be cached between searches. It returns once the watcher is
// registered; invalidation runs until ctx is done. Without a watcher the
// retriever stays correct by rebuilding the index on every call.
func (r *Retriever) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addRecursive(w, r.root); err != nil {
		w.Close()
		return err
	}

	r.mu.Lock()
	r.watching = true
	r.dirty = true
	r.mu.Unlock()

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				r.mu.Lock()
				r.watching = false
				if r.index != nil {
					r.index.Close()
					r.index = nil
				}
				r.mu.Unlock()
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Create) {
					if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
						_ = addRecursive(w, ev.Name)
					}
				}
				r.mu.Lock()
				r.dirty = true
				r.mu.Unlock()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("kb watcher error", "error", err)
			}
		}
	}()
	return nil
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
