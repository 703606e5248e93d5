package catalog

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// Watch reloads the catalog whenever its file is written, created or renamed. The
// directory is watched rather than the file so editors that replace the file on save
// are still noticed. Watch returns once the watcher is running; it stops when ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "cannot create catalog watcher")
	}
	target := filepath.Clean(resolvePath(s.path))
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		goutils.UncheckedError(watcher.Close())
		return errors.Wrapf(err, "cannot watch %q", filepath.Dir(target))
	}

	goutils.PanicCapturingGo(func() {
		defer goutils.UncheckedErrorFunc(watcher.Close)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				s.logger.Debugw("catalog changed on disk", "path", target, "op", event.Op.String())
				goutils.UncheckedError(s.Reload())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warnw("catalog watcher error", "error", err)
			}
		}
	})
	return nil
}
