package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher keeps a directory's collection live: edits re-index the file,
// deletions drop it.
type Watcher struct {
	scanner *Scanner
	log     *zap.Logger
}

func NewWatcher(scanner *Scanner, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{scanner: scanner, log: log}
}

// Watch blocks until ctx is canceled, reacting to filesystem events under
// dir (including subdirectories created while watching).
func (w *Watcher) Watch(ctx context.Context, dir string) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := addRecursive(fw, dir); err != nil {
		return err
	}
	w.log.Info("watching directory", zap.String("dir", dir))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fw, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) {
	switch {
	case event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Write):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if event.Op.Has(fsnotify.Create) {
				if err := addRecursive(fw, event.Name); err != nil {
					w.log.Warn("cannot watch new directory", zap.String("dir", event.Name), zap.Error(err))
				}
			}
			return
		}
		if !indexableFile(event.Name) {
			return
		}
		changed, err := w.scanner.IndexFile(ctx, event.Name)
		if err != nil {
			w.log.Error("re-index failed", zap.String("path", event.Name), zap.Error(err))
			return
		}
		if changed {
			w.log.Info("re-indexed", zap.String("path", event.Name))
		}
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		if !indexableFile(event.Name) {
			return
		}
		if err := w.scanner.RemoveFile(ctx, event.Name); err != nil {
			w.log.Error("remove failed", zap.String("path", event.Name), zap.Error(err))
			return
		}
		w.log.Info("removed", zap.String("path", event.Name))
	}
}

func addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}
