// Package trigger produces re-run signals from filesystem changes and
// cron schedules.
package trigger

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch signals on the returned channel when a .zip file under dir is
// created, written, renamed or removed. Bursts of events within debounce
// produce one signal. New subdirectories are watched as they appear. The
// channel is closed when ctx is done.
func Watch(ctx context.Context, dir string, debounce time.Duration, log *zap.Logger) (<-chan struct{}, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if _, err := addTree(fsw, dir, log); err != nil {
		fsw.Close()
		return nil, err
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer fsw.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Create) && isDir(ev.Name) {
					// A directory moved in may already hold archives.
					found, err := addTree(fsw, ev.Name, log)
					if err != nil {
						log.Warn("cannot watch new directory", zap.String("dir", ev.Name), zap.Error(err))
					}
					if !found {
						continue
					}
				} else if !relevant(ev) {
					continue
				}
				log.Debug("input changed", zap.String("path", ev.Name), zap.Stringer("op", ev.Op))
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Warn("watcher error", zap.Error(err))
			}
		}
	}()

	log.Info("watching for archive changes", zap.String("dir", dir), zap.Duration("debounce", debounce))
	return out, nil
}

func relevant(ev fsnotify.Event) bool {
	if !isArchive(ev.Name) {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) ||
		ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove)
}

// addTree watches root and every directory below it. It reports whether
// the tree holds any archive.
func addTree(fsw *fsnotify.Watcher, root string, log *zap.Logger) (bool, error) {
	found := false
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			if isArchive(path) {
				found = true
			}
			return nil
		}
		log.Debug("watching", zap.String("dir", path))
		return fsw.Add(path)
	})
	return found, err
}

func isArchive(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
