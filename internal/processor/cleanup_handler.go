package processor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scenegen/internal/pkg/logger"
	"scenegen/internal/ports"
)

// Janitor removes executed scripts and stored videos older than MaxAge.
type Janitor struct {
	codeDir  string
	store    ports.StorageProvider
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	log      *logger.Logger
}

func NewJanitor(codeDir string, store ports.StorageProvider, maxAge, interval time.Duration, log *logger.Logger) *Janitor {
	return &Janitor{
		codeDir:  codeDir,
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		now:      time.Now,
		log:      log.WithComponent("janitor"),
	}
}

// Enabled reports whether a retention period is configured.
func (j *Janitor) Enabled() bool { return j.maxAge > 0 }

// Run sweeps every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	if !j.Enabled() {
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.log.Info("retention janitor started", "max_age", j.maxAge.String(), "interval", j.interval.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep removes expired files once and returns how many were deleted.
func (j *Janitor) Sweep(ctx context.Context) int {
	if !j.Enabled() {
		return 0
	}
	cutoff := j.now().Add(-j.maxAge)
	removed := j.sweepCode(cutoff) + j.sweepVideos(ctx, cutoff)
	if removed > 0 {
		j.log.Info("retention sweep finished", "removed", removed)
	}
	return removed
}

func (j *Janitor) sweepCode(cutoff time.Time) int {
	entries, err := os.ReadDir(j.codeDir)
	if err != nil {
		if !os.IsNotExist(err) {
			j.log.Warn("failed to read code dir", "error", err.Error())
		}
		return 0
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasPrefix(name, "scene_") || filepath.Ext(name) != ".py" {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.codeDir, name)); err != nil {
			j.log.Warn("failed to remove scene file", "file", name, "error", err.Error())
			continue
		}
		removed++
	}
	return removed
}

func (j *Janitor) sweepVideos(ctx context.Context, cutoff time.Time) int {
	objs, err := j.store.ListObjects(ctx)
	if err != nil {
		j.log.Warn("failed to list stored videos", "error", err.Error())
		return 0
	}

	removed := 0
	for _, o := range objs {
		if filepath.Ext(o.ObjectKey) != ".mp4" || o.ModTime.IsZero() || !o.ModTime.Before(cutoff) {
			continue
		}
		if err := j.store.DeleteObject(ctx, o.ObjectKey); err != nil {
			j.log.Warn("failed to delete video", "object_key", o.ObjectKey, "error", err.Error())
			continue
		}
		removed++
	}
	return removed
}
