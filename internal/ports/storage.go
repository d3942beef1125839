package ports

import (
	"context"
	"io"
	"time"
)

// StorageProvider keeps the encoded frames of async render jobs. Object keys
// follow frames/<job id>/frame.<ext>; the key a provider returns from
// PutObject is the one recorded on the job and passed back to the other
// methods.
type StorageProvider interface {
	// Provider names the backend ("localfs", "gdrive") for job records and
	// health output.
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	// GetObject streams a stored frame. A missing object is NOT_FOUND.
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	// DeleteObject removes a frame no job record points at.
	DeleteObject(ctx context.Context, objectKey string) error
	// GetSignedURL returns a link clients can fetch the frame from directly.
	// Providers that cannot issue one return a BAD_REQUEST error.
	GetSignedURL(ctx context.Context, objectKey string, expiresIn time.Duration) (SignedURLOutput, error)
}

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64 // encoded frame length, informational
}

type PutObjectOutput struct {
	// ObjectKey is what later calls must use: localfs echoes the input key,
	// gdrive returns the Drive file id.
	ObjectKey string
	Size      int64
}

type SignedURLOutput struct {
	URL       string
	ExpiresAt time.Time
}
