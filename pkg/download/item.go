package download

import (
	"time"
)

// Status is the lifecycle state of a download.
type Status string

const (
	// StatusQueued means the item is accepted and its transfer has not
	// started moving bytes yet.
	StatusQueued Status = "queued"

	// StatusDownloading means the transfer is actively moving bytes.
	StatusDownloading Status = "downloading"

	// StatusPaused means the transfer was stopped by the user; partial
	// bytes are retained and the item can be resumed.
	StatusPaused Status = "paused"

	// StatusCompleted means all bytes are in the cache.
	StatusCompleted Status = "completed"

	// StatusFailed means the transfer errored; partial bytes are retained
	// and the item can be resumed (restarting from zero).
	StatusFailed Status = "failed"
)

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusDownloading, StatusPaused, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Active reports whether the item's transfer is pending or in flight.
// Active items are never eviction candidates.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusDownloading
}

// Item is one tracked download. All fields are managed by the Manager;
// callers receive copies and mutate nothing directly.
//
// Invariant: once TotalBytes is known (> 0), BytesDownloaded never exceeds
// it and Progress is BytesDownloaded/TotalBytes scaled to [0, 100].
type Item struct {
	// ID is the manager-assigned identifier, "dl-" followed by a UUID.
	ID string `json:"id"`

	// ContentID identifies the logical content this download belongs to.
	// Opaque to the manager; multiple downloads may share a ContentID.
	ContentID string `json:"content_id"`

	// Title is a human-readable label for display and logs.
	Title string `json:"title"`

	// SourceURL is where the bytes are fetched from.
	SourceURL string `json:"source_url"`

	Status Status `json:"status"`

	// Progress is the completed percentage in [0, 100]. Stays 0 while
	// TotalBytes is unknown.
	Progress float64 `json:"progress"`

	BytesDownloaded int64 `json:"bytes_downloaded"`

	// TotalBytes is the expected size from the source's Content-Length,
	// or 0 when the source did not declare one.
	TotalBytes int64 `json:"total_bytes"`

	// ContentType is the source's declared media type, when present.
	ContentType string `json:"content_type,omitempty"`

	// Pinned items are excluded from eviction.
	Pinned bool `json:"pinned"`

	// Error holds the failure message when Status is failed.
	Error string `json:"error,omitempty"`

	AddedAt time.Time `json:"added_at"`

	// CompletedAt is set when the item reaches completed. Zero otherwise.
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Clone returns an independent copy of the item.
func (i *Item) Clone() *Item {
	clone := *i
	return &clone
}

// cacheKey is the blob cache key holding the item's downloaded bytes.
func (i *Item) cacheKey() string {
	return "downloads/" + i.ID
}
