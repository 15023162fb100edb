package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"ragstream/jobs"
)

// JobCreator is the part of the registry the watcher needs to open upload
// jobs of its own.
type JobCreator interface {
	Create(kind jobs.Kind) (string, error)
	WorkerContext(id string) (context.Context, error)
}

type WatcherConfig struct {
	Dir            string
	FailedDir      string        // defaults to Dir/failed
	MonitoringTime time.Duration // how long a file must stay unchanged
	PollInterval   time.Duration
}

type seenFile struct {
	size    int64
	modTime time.Time
	since   time.Time
}

// Watcher polls an inbox directory and ingests PDFs dropped into it once
// they have stopped changing. Filesystem notifications trigger an early pass
// so a new file starts its monitoring window without waiting for the ticker.
type Watcher struct {
	cfg    WatcherConfig
	jobs   JobCreator
	loader *Loader
	logger *slog.Logger
	now    func() time.Time

	firstSeen map[string]seenFile
}

func NewWatcher(cfg WatcherConfig, creator JobCreator, l *Loader) *Watcher {
	if cfg.FailedDir == "" {
		cfg.FailedDir = filepath.Join(cfg.Dir, "failed")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Watcher{
		cfg:       cfg,
		jobs:      creator,
		loader:    l,
		logger:    l.logger.With("component", "watcher", "dir", cfg.Dir),
		now:       l.now,
		firstSeen: make(map[string]seenFile),
	}
}

func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	w.logger.Info("watching inbox", "monitoring_time", w.cfg.MonitoringTime)

	events, errs, closeNotify := w.notify()
	defer closeNotify()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("inbox watcher stopped")
			return nil
		case <-ticker.C:
			w.scan(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if isInboxEvent(ev) {
				w.scan(ctx)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("inbox notification", "error", err)
		}
	}
}

// notify subscribes to changes in the inbox. Without notifications the
// ticker alone drives the scans.
func (w *Watcher) notify() (<-chan fsnotify.Event, <-chan error, func()) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fs notifications unavailable, polling only", "error", err)
		return nil, nil, func() {}
	}
	if err := fw.Add(w.cfg.Dir); err != nil {
		fw.Close()
		w.logger.Warn("fs notifications unavailable, polling only", "error", err)
		return nil, nil, func() {}
	}
	return fw.Events, fw.Errors, func() { fw.Close() }
}

func isInboxEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	return strings.HasSuffix(strings.ToLower(ev.Name), ".pdf")
}

// scan runs one pass over the inbox and returns how many files it ingested.
func (w *Watcher) scan(ctx context.Context) int {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.logger.Error("read inbox", "error", err)
		return 0
	}

	now := w.now()
	current := make(map[string]bool)
	processed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".pdf") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(w.cfg.Dir, entry.Name())
		current[path] = true

		seen, ok := w.firstSeen[path]
		if !ok || seen.size != info.Size() || !seen.modTime.Equal(info.ModTime()) {
			w.firstSeen[path] = seenFile{size: info.Size(), modTime: info.ModTime(), since: now}
			w.logger.Debug("file detected", "file", entry.Name())
			continue
		}
		if now.Sub(seen.since) < w.cfg.MonitoringTime {
			continue
		}

		if err := w.process(ctx, path); err != nil {
			if errors.Is(err, jobs.ErrResourceExhausted) {
				// leave the file for the next pass
				continue
			}
			w.logger.Error("inbox file failed", "file", entry.Name(), "error", err)
		} else {
			processed++
		}
		delete(w.firstSeen, path)
	}

	for path := range w.firstSeen {
		if !current[path] {
			delete(w.firstSeen, path)
		}
	}
	return processed
}

func (w *Watcher) process(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	id, err := w.jobs.Create(jobs.KindUpload)
	if err != nil {
		return err
	}
	workerCtx, err := w.jobs.WorkerContext(id)
	if err != nil {
		return err
	}
	// stop the worker on shutdown as well as on eviction
	workerCtx, cancel := context.WithCancel(workerCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	up := Upload{
		Filename: filepath.Base(path),
		Name:     w.loader.Reserve(filepath.Base(path)),
		Data:     data,
	}
	w.logger.Info("ingesting inbox file", "file", up.Filename, "job_id", id)
	if err := w.loader.Ingest(workerCtx, id, up); err != nil {
		w.moveToFailed(path)
		return err
	}
	if err := os.Remove(path); err != nil {
		w.logger.Warn("remove ingested file", "file", path, "error", err)
	}
	return nil
}

// moveToFailed parks a file that could not be ingested, dated like an
// archive so the inbox does not retry it forever.
func (w *Watcher) moveToFailed(path string) {
	destDir := filepath.Join(w.cfg.FailedDir, w.now().Format("2006-01-02"))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		w.logger.Error("create failed dir", "error", err)
		return
	}

	name := uniqueName(filepath.Base(path), func(n string) bool {
		return fileExists(filepath.Join(destDir, n))
	})
	destPath := filepath.Join(destDir, name)
	if err := os.Rename(path, destPath); err == nil {
		return
	}

	// rename fails across filesystems
	in, err := os.Open(path)
	if err != nil {
		w.logger.Error("open failed file", "error", err)
		return
	}
	defer in.Close()
	out, err := os.Create(destPath)
	if err != nil {
		w.logger.Error("create failed copy", "error", err)
		return
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		w.logger.Error("copy failed file", "error", err)
		return
	}
	in.Close()
	os.Remove(path)
}
