package classifier

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads a YAML rule table file into a Classifier.
//
// A table that fails to parse or validate is rejected and the previous table
// stays active, so a bad edit never takes the classifier down.
type Watcher struct {
	classifier *Classifier
	path       string
	watcher    *fsnotify.Watcher
	logger     *zap.Logger
	done       chan struct{}
}

// NewWatcher starts watching path and swapping the classifier's table on
// change. The initial table must already be loaded by the caller.
func NewWatcher(c *Classifier, path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files on save and
	// a file watch would be dropped after the first rename.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		classifier: c,
		path:       path,
		watcher:    fsw,
		logger:     logger,
		done:       make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			table, err := LoadRuleTable(w.path)
			if err != nil {
				w.logger.Warn("rule table reload rejected",
					zap.String("path", w.path),
					zap.Error(err))
				continue
			}
			w.classifier.SwapTable(table)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rule table watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
