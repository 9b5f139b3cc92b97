package model

import "time"

// Upload lifecycle states for an Object.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Object represents a stored binary in the system.
// This is a pure domain model with no database-specific dependencies or tags.
// It can be used across layers (HTTP, service, storage) without coupling to persistence.
type Object struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"`
	Title            *string   `json:"title,omitempty"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename"`
	StoragePath      string    `json:"-"`
	SizeBytes        int64     `json:"size_bytes"`
	MimeType         string    `json:"mime_type"`
	SHA256           string    `json:"sha256"`
	UploadStatus     string    `json:"upload_status"`
	Blocked          bool      `json:"blocked"`
	DownloadCount    int64     `json:"download_count"`
	Tags             []string  `json:"tags"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
