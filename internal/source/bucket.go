package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver

	"github.com/withObsrvr/netex-crossfile-validator/internal/netex"
)

// BucketSource reads documents below a prefix of a blob bucket.
type BucketSource struct {
	bucket  *blob.Bucket
	prefix  string
	decoder *Decoder
}

// NewBucketSource opens a dataset URL. The URL path, if any, is the key
// prefix of the dataset inside the bucket.
func NewBucketSource(ctx context.Context, location string) (*BucketSource, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse dataset url %s: %w", location, err)
	}

	var prefix string
	if u.Scheme != "file" {
		prefix = strings.TrimPrefix(u.Path, "/")
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		u.Path = ""
	}

	bucket, err := blob.OpenBucket(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("open dataset bucket %s: %w", location, err)
	}
	return NewBucketSourceFrom(bucket, prefix)
}

// NewBucketSourceFrom wraps an open bucket. The source owns the bucket.
func NewBucketSourceFrom(bucket *blob.Bucket, prefix string) (*BucketSource, error) {
	decoder, err := NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	return &BucketSource{bucket: bucket, prefix: prefix, decoder: decoder}, nil
}

// List indexes every document below the prefix.
func (s *BucketSource) List(ctx context.Context) ([]File, error) {
	index := NewIndex()
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", s.prefix, err)
		}
		if !obj.IsDir {
			index.Add(obj.Key)
		}
	}
	return index.Files(), nil
}

// Read downloads and decodes a single document.
func (s *BucketSource) Read(ctx context.Context, f File) (*netex.Document, error) {
	r, err := s.bucket.NewReader(ctx, f.Key, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Key, err)
	}
	defer r.Close()

	doc, err := s.decoder.DecodeFromReader(r, f.Compressed)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Name, err)
	}
	return doc, nil
}

// Close releases the bucket connection.
func (s *BucketSource) Close() error {
	s.decoder.Close()
	return s.bucket.Close()
}
