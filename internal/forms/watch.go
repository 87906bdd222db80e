package forms

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"formbot/pkg/logx"
)

const (
	watchDebounce   = 250 * time.Millisecond
	watchRestartMin = 250 * time.Millisecond
	watchRestartMax = 5 * time.Second
)

// Watch follows the forms file until ctx is cancelled. External edits (the
// editing UI, a text editor, a sync tool) are re-read, validated, committed and
// published exactly like in-process updates. A parse failure keeps the last
// committed collection. Echoes of our own writes are skipped by content hash.
//
// When fsnotify gets into a bad state the watcher is recreated with a small
// exponential backoff.
func (s *Store) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	file := filepath.Base(s.path)

	// debounce to avoid reloading partial writes
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() { s.reload() })
	}

	backoff := watchRestartMin
	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(dir)
			if err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			s.log.Warn("forms watch init failed", logx.Err(err), logx.String("dir", dir))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff < watchRestartMax {
				backoff *= 2
			}
			continue
		}
		backoff = watchRestartMin
		s.log.Debug("forms watcher started", logx.String("dir", dir), logx.String("file", file))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				// Compare by basename; editors rename/recreate in place.
				if strings.EqualFold(filepath.Base(ev.Name), file) {
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
						debounce()
					}
				}
			case werr, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				s.log.Warn("forms watch error", logx.Err(werr))
			}
		}
		_ = w.Close()
	}
}

func (s *Store) reload() {
	s.mu.Lock()
	entries, err := s.parse()
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("forms reload rejected", logx.String("path", s.path), logx.Err(err))
		return
	}
	h := hashEntries(entries)
	if h != 0 && h == s.lastHash {
		s.mu.Unlock()
		s.log.Debug("forms unchanged; skipping publish", logx.String("path", s.path))
		return
	}
	s.entries = entries
	s.lastHash = h
	s.mu.Unlock()

	s.log.Info("forms reloaded", logx.String("path", s.path), logx.Int("entries", len(entries)))
	s.publish(entries)
}
