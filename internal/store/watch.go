package store

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Extensions accepted for incoming invoice documents (lowercase, no dot).
var defaultExts = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"csv":  {},
	"xlsx": {},
}

type WatchConfig struct {
	AllowedExts map[string]struct{}
	InitialScan bool          // emit files already present in the input area
	Debounce    time.Duration // coalesce rapid create/write bursts
}

// WatchInput watches the local backend's input area and emits store keys for
// newly arrived documents. Only the Local backend supports watching; object
// store backends are swept by explicit route runs instead.
func (l *Local) WatchInput(ctx context.Context, cfg WatchConfig) (<-chan string, <-chan error, error) {
	if cfg.AllowedExts == nil {
		cfg.AllowedExts = defaultExts
	}
	dir := l.path(strings.TrimSuffix(PrefixInput, "/"))

	evCh := make(chan string, 256)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, nil, err
	}

	toKey := func(p string) (string, bool) {
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return "", false
		}
		key := filepath.ToSlash(rel)
		if isMarker(key) || !allowedExt(key, cfg.AllowedExts) {
			return "", false
		}
		return key, true
	}

	if cfg.InitialScan {
		_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				if errors.Is(walkErr, fs.ErrNotExist) {
					return nil
				}
				return walkErr
			}
			if d.IsDir() {
				return nil
			}
			if key, ok := toKey(p); ok {
				select {
				case evCh <- key:
				default:
				}
			}
			return nil
		})
	}

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func() {
			if cerr := w.Close(); cerr != nil {
				l.log.Warn("store.watch.close_error", "error", cerr)
			}
		}()

		var timer *time.Timer
		pending := map[string]struct{}{}
		// Timer fires into the loop so pending is touched by one goroutine only.
		flush := make(chan struct{}, 1)

		sendPending := func() {
			for p := range pending {
				select {
				case evCh <- p:
				default:
				}
				delete(pending, p)
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case e := <-w.Events:
				if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				key, ok := toKey(e.Name)
				if !ok {
					continue
				}
				pending[key] = struct{}{}
				if cfg.Debounce > 0 {
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(cfg.Debounce, func() {
						select {
						case flush <- struct{}{}:
						default:
						}
					})
				} else {
					sendPending()
				}
			case <-flush:
				sendPending()
			case err := <-w.Errors:
				l.log.Error("store.watch.error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

func allowedExt(key string, exts map[string]struct{}) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(key)), ".")
	_, ok := exts[ext]
	return ok
}
