package ports

import (
	"context"
	"io"
	"time"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	ObjectKey string
	Size      int64
}

// ObjectInfo describes a stored object as returned by ListObjects.
type ObjectInfo struct {
	ObjectKey string
	Size      int64
	ModTime   time.Time
}

// StorageProvider is the artifact store. Object keys are flat file names
// such as "<renderID>.mp4". PutObject never overwrites an existing key.
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	DeleteObject(ctx context.Context, objectKey string) error
	ListObjects(ctx context.Context) ([]ObjectInfo, error)
}
