// Package source lists and reads the pre-parsed documents of one dataset,
// from a local directory or a blob bucket.
package source

import (
	"context"
	"strings"

	"github.com/withObsrvr/netex-crossfile-validator/internal/netex"
)

// Source is one dataset.
type Source interface {
	// List returns the documents in processing order.
	List(ctx context.Context) ([]File, error)
	// Read decodes one listed document.
	Read(ctx context.Context, f File) (*netex.Document, error)
	Close() error
}

// Open opens location: a blob URL such as s3://bucket/prefix or
// gs://bucket/prefix, or else a local directory.
func Open(ctx context.Context, location string) (Source, error) {
	if strings.Contains(location, "://") {
		return NewBucketSource(ctx, location)
	}
	return NewLocalSource(location)
}
