package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to blob storage. The price-history archiver is
// its only producer; archives are write-once and never read back by the
// service.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
