package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yann6182/Projet-chat-back/pkg/logger"
)

// debounceDelay batches the event bursts editors and sync tools produce
// into one reindex.
const debounceDelay = 2 * time.Second

// Watcher reindexes the knowledge directory when its files change.
type Watcher struct {
	indexer *Indexer
	watcher *fsnotify.Watcher
	log     *logger.Logger
}

// NewWatcher starts watching the indexer's directory.
func NewWatcher(indexer *Indexer) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}
	if err := fw.Add(indexer.dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", indexer.dir, err)
	}
	return &Watcher{indexer: indexer, watcher: fw, log: logger.New("knowledge_watcher")}, nil
}

// Run blocks until ctx is cancelled, triggering a debounced reindex on
// every relevant filesystem event.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.log.Debug(fmt.Sprintf("knowledge change: %s", event))
			if timer == nil {
				timer = time.NewTimer(debounceDelay)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceDelay)
			}
		case <-fire:
			timer = nil
			fire = nil
			if err := w.indexer.Reindex(ctx); err != nil {
				w.log.Error(fmt.Sprintf("reindex after change failed: %v", err))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn(fmt.Sprintf("watcher error: %v", err))
		}
	}
}
