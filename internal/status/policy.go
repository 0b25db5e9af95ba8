package status

import (
	"time"

	"github.com/cuongbtq/compression-service/internal/domain"
)

// IsDownloadable reports whether a job's result may still be offered. Only
// finished jobs qualify, and only while no more than ttl has passed since the
// terminal heartbeat. A finished job without a heartbeat never qualifies.
func IsDownloadable(status domain.Status, heartbeat *time.Time, now time.Time, ttl time.Duration) bool {
	if status != domain.StatusFinished || heartbeat == nil {
		return false
	}
	return now.Sub(*heartbeat) <= ttl
}

// ExpiresAt returns when a finished job's result stops being offered
func ExpiresAt(heartbeat time.Time, ttl time.Duration) time.Time {
	return heartbeat.Add(ttl)
}
