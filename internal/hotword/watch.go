// SPDX-License-Identifier: MIT

package hotword

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StartWatcher reloads the lexicon whenever the file changes on disk, so
// operators can extend the word list without restarting the daemon. No-op
// when no lexicon file is configured.
func (r *Replacer) StartWatcher(ctx context.Context) error {
	if r.path == "" || !r.enabled {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(r.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch lexicon file: %w", err)
	}

	r.logger.Info().Str("path", r.path).Msg("watching lexicon file for changes")
	go r.watchLoop(ctx, watcher)
	return nil
}

func (r *Replacer) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	// debounce rapid editor write bursts
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					if err := r.Reload(); err != nil {
						r.logger.Error().Err(err).Msg("lexicon reload failed")
					}
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error().Err(err).Msg("lexicon watcher error")
		}
	}
}
