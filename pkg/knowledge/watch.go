package knowledge

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/gardenista/beanbot/pkg/logger"
)

// Watch reports document names changed on disk outside the process,
// so human edits to the data directory are picked up while running.
// Staged temp files and the backup directory are ignored. Blocks until
// the context is done.
func (l *Library) Watch(ctx context.Context, onChange func(name string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return err
	}
	logger.InfoCF("knowledge", "Watching data directory", map[string]interface{}{
		"dir": l.dir,
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".md") {
				continue
			}
			if onChange != nil {
				onChange(name)
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WarnCF("knowledge", "Watcher error", map[string]interface{}{
				"error": werr.Error(),
			})
		}
	}
}
