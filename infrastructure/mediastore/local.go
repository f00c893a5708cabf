package mediastore

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ypreiser/botgate/domains/media"
	"github.com/ypreiser/botgate/pkg/apperror"
)

// thumbnailSize is the bounding box for generated image thumbnails.
const thumbnailSize = 256

// LocalStore writes uploads to a directory served as static files.
type LocalStore struct {
	dir      string
	baseURL  string
	maxBytes int64
}

func NewLocalStore(dir, baseURL string, maxBytes int64) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &LocalStore{
		dir:      dir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
	}, nil
}

func (s *LocalStore) Save(ctx context.Context, originalName, mimeType string, content io.Reader) (*media.StoredFile, error) {
	// Read one byte past the limit so oversized uploads are rejected
	// without buffering the whole stream.
	limited := io.LimitReader(content, s.maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, apperror.PayloadTooLargeError(fmt.Sprintf(
			"file exceeds the maximum upload size of %s", humanize.Bytes(uint64(s.maxBytes))))
	}
	if len(data) == 0 {
		return nil, apperror.ValidationError("uploaded file is empty")
	}

	var decoded image.Image
	if strings.HasPrefix(mimeType, "image/") {
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, apperror.ValidationError("uploaded file is not a valid image")
		}
		decoded = img
	}

	id := uuid.NewString()
	filename := id + extensionFor(originalName, mimeType)
	path := filepath.Join(s.dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}

	thumbnailURL := ""
	if decoded != nil {
		thumbName := id + "_thumb.jpg"
		thumb := imaging.Thumbnail(decoded, thumbnailSize, thumbnailSize, imaging.Lanczos)
		if err := imaging.Save(thumb, filepath.Join(s.dir, thumbName)); err != nil {
			// The original is already stored; a missing thumbnail is not
			// worth failing the upload over.
			logrus.WithError(err).Warn("[MEDIA] failed to write thumbnail")
		} else {
			thumbnailURL = s.baseURL + "/" + thumbName
		}
	}

	logrus.WithFields(logrus.Fields{
		"filename": filename,
		"size":     len(data),
		"mime":     mimeType,
	}).Debug("[MEDIA] stored uploaded file")

	return &media.StoredFile{
		URL:          s.baseURL + "/" + filename,
		ThumbnailURL: thumbnailURL,
		OriginalName: originalName,
		MimeType:     mimeType,
		Size:         int64(len(data)),
		UploadedAt:   time.Now().UTC(),
	}, nil
}

func extensionFor(originalName, mimeType string) string {
	if ext := filepath.Ext(originalName); ext != "" && len(ext) <= 8 {
		return strings.ToLower(ext)
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
