package media

import (
	"context"
	"io"
	"time"
)

// StoredFile describes a file accepted by the store.
type StoredFile struct {
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// Store is the object-store surface used for uploads and inbound media.
type Store interface {
	// Save persists the content and returns its public descriptor.
	Save(ctx context.Context, originalName, mimeType string, content io.Reader) (*StoredFile, error)
}
