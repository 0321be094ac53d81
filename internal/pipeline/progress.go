package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/vtpipe/internal/logger"
)

// ProgressTracker computes throughput for long-running stages.
type ProgressTracker struct {
	startTime   time.Time
	description string
}

// NewProgressTracker starts tracking a stage.
func NewProgressTracker(description string) *ProgressTracker {
	return &ProgressTracker{
		startTime:   time.Now(),
		description: description,
	}
}

// report logs the current count and rate every interval until ctx is done.
// current is polled, so it must be safe to call from another goroutine.
func (p *ProgressTracker) report(ctx context.Context, interval time.Duration, current func() int64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log := logger.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := current()
			elapsed := time.Since(p.startTime)
			rate := 0.0
			if elapsed.Seconds() > 0 {
				rate = float64(count) / elapsed.Seconds()
			}
			log.Info("Progress",
				zap.String("stage", p.description),
				zap.Int64("count", count),
				zap.String("rate", FormatThroughput(rate)),
				zap.Duration("elapsed", elapsed.Round(time.Second)))
		}
	}
}

// FormatThroughput formats throughput as human-readable items per second
func FormatThroughput(itemsPerSec float64) string {
	if itemsPerSec >= 1_000_000 {
		return fmt.Sprintf("%.1fM/s", itemsPerSec/1_000_000)
	}
	if itemsPerSec >= 1_000 {
		return fmt.Sprintf("%.1fK/s", itemsPerSec/1_000)
	}
	return fmt.Sprintf("%.0f/s", itemsPerSec)
}

// FormatBytes formats bytes in a human-readable format
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
