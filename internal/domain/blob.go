package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// BlobDeleter removes objects from object storage.
type BlobDeleter interface {
	Delete(ctx context.Context, path string) error
}

// Archiver offloads cold history (settled markets, finalized reports,
// resolved disputes) from the database to object storage.
type Archiver interface {
	ArchiveMarkets(ctx context.Context, before time.Time) (int64, error)
	ArchiveReports(ctx context.Context, before time.Time) (int64, error)
	ArchiveDisputes(ctx context.Context, before time.Time) (int64, error)
}
