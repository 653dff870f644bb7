package transfer

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// TransferStatus represents the current status of a transfer
type TransferStatus string

const (
	StatusInProgress TransferStatus = "in_progress"
	StatusCompleted  TransferStatus = "completed"
	StatusFailed     TransferStatus = "failed"
	StatusCancelled  TransferStatus = "cancelled"
)

// TransferProgress is a snapshot of one tracked transfer.
type TransferProgress struct {
	TransferID     string         `json:"transfer_id"`
	FileName       string         `json:"file_name"`
	Op             Op             `json:"op"`
	Status         TransferStatus `json:"status"`
	Chunks         int            `json:"chunks"`
	TotalChunks    int            `json:"total_chunks"`
	Bytes          int64          `json:"bytes"`
	TotalBytes     int64          `json:"total_bytes"`
	StartTime      time.Time      `json:"start_time"`
	LastUpdateTime time.Time      `json:"last_update_time"`
	Speed          float64        `json:"speed"` // bytes per second
	Error          string         `json:"error,omitempty"`
}

// ProgressTracker tracks the progress of file transfers
type ProgressTracker struct {
	mu        sync.RWMutex
	transfers map[string]*TransferProgress
	now       func() time.Time
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		transfers: make(map[string]*TransferProgress),
		now:       time.Now,
	}
}

// StartTracking registers a transfer. totalChunks and totalBytes may be zero
// when they are not known up front (streamed uploads).
func (pt *ProgressTracker) StartTracking(transferID, fileName string, op Op, totalChunks int, totalBytes int64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	now := pt.now()
	pt.transfers[transferID] = &TransferProgress{
		TransferID:     transferID,
		FileName:       fileName,
		Op:             op,
		Status:         StatusInProgress,
		TotalChunks:    totalChunks,
		TotalBytes:     totalBytes,
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Func returns a ProgressFunc that feeds the given transfer.
func (pt *ProgressTracker) Func(transferID string) ProgressFunc {
	return func(p Progress) {
		pt.update(transferID, p.Chunks, p.Bytes)
	}
}

func (pt *ProgressTracker) update(transferID string, chunks int, bytes int64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	progress, exists := pt.transfers[transferID]
	if !exists {
		return
	}

	now := pt.now()
	// upload callbacks can arrive out of order
	if chunks > progress.Chunks {
		progress.Chunks = chunks
	}
	if bytes > progress.Bytes {
		progress.Bytes = bytes
	}
	progress.LastUpdateTime = now

	if elapsed := now.Sub(progress.StartTime).Seconds(); elapsed > 0 {
		progress.Speed = float64(progress.Bytes) / elapsed
	}
}

// Finish records the outcome of a transfer.
func (pt *ProgressTracker) Finish(transferID string, status TransferStatus, err error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	progress, exists := pt.transfers[transferID]
	if !exists {
		return
	}
	progress.Status = status
	progress.LastUpdateTime = pt.now()
	if err != nil {
		progress.Error = err.Error()
	}
}

// GetProgress returns a copy of the current progress of a transfer.
func (pt *ProgressTracker) GetProgress(transferID string) (TransferProgress, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	progress, exists := pt.transfers[transferID]
	if !exists {
		return TransferProgress{}, false
	}
	return *progress, true
}

// RemoveTransfer removes a transfer from tracking and reports whether it was tracked.
func (pt *ProgressTracker) RemoveTransfer(transferID string) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if _, exists := pt.transfers[transferID]; !exists {
		return false
	}
	delete(pt.transfers, transferID)
	return true
}

// GetAllProgress returns copies of every tracked transfer, oldest first.
func (pt *ProgressTracker) GetAllProgress() []TransferProgress {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	result := make([]TransferProgress, 0, len(pt.transfers))
	for _, progress := range pt.transfers {
		result = append(result, *progress)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result
}

// Prune drops finished transfers whose last update is older than maxAge.
func (pt *ProgressTracker) Prune(maxAge time.Duration) int {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	cutoff := pt.now().Add(-maxAge)
	removed := 0
	for id, progress := range pt.transfers {
		if progress.Status != StatusInProgress && progress.LastUpdateTime.Before(cutoff) {
			delete(pt.transfers, id)
			removed++
		}
	}
	return removed
}

// FormatBytes formats bytes into human-readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
