// Package artifact exchanges temporary files between the stages of a
// validation job. Stages may run on different workers, so artifacts live in
// a blob bucket, encrypted, compressed and scoped by job id. Every artifact
// carries its own expiry and is unreadable after it, whether or not the job
// was cleaned up.
package artifact

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	_ "gocloud.dev/blob/memblob" // in-memory driver
	_ "gocloud.dev/blob/s3blob"  // S3 driver
	"gocloud.dev/gcerrors"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
	"github.com/withObsrvr/netex-crossfile-validator/internal/metrics"
)

// DefaultTTL bounds the life of an artifact.
const DefaultTTL = time.Hour

const (
	metaExpiresAt = "expires-at"
	metaJobID     = "job-id"
	metaEncoding  = "encoding"
	encoding      = "zstd+xchacha20poly1305"
)

// ErrNotFound is matched by every NotFoundError.
var ErrNotFound = errors.New("artifact not found")

// NotFoundError reports a missing or expired artifact.
type NotFoundError struct {
	JobID ids.ValidationJobID
	Name  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("artifact %q of job %q not found or expired", e.Name, e.JobID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Config selects the bucket holding artifacts.
type Config struct {
	Backend string `yaml:"backend" validate:"omitempty,oneof=mem local gcs s3"` // "mem" | "local" | "gcs" | "s3"

	LocalDir string `yaml:"local_dir"`

	GCSBucket string `yaml:"gcs_bucket"`

	// S3 also covers B2, R2 and MinIO through a custom endpoint.
	S3Bucket   string `yaml:"s3_bucket"`
	S3Endpoint string `yaml:"s3_endpoint"`
	S3Region   string `yaml:"s3_region"`

	Prefix string        `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"`
}

// BucketURL returns the gocloud URL of the configured bucket. The local
// backend is opened directly and has no URL.
func (c Config) BucketURL() (string, error) {
	switch c.Backend {
	case "", "mem":
		return "mem://", nil
	case "gcs":
		if c.GCSBucket == "" {
			return "", fmt.Errorf("GCSBucket required for gcs backend")
		}
		return "gs://" + c.GCSBucket, nil
	case "s3":
		if c.S3Bucket == "" {
			return "", fmt.Errorf("S3Bucket required for s3 backend")
		}
		u := "s3://" + c.S3Bucket
		params := url.Values{}
		if c.S3Region != "" {
			params.Set("region", c.S3Region)
		}
		if c.S3Endpoint != "" {
			params.Set("endpoint", c.S3Endpoint)
			params.Set("s3ForcePathStyle", "true")
		}
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		return u, nil
	default:
		return "", fmt.Errorf("unknown artifact backend: %s", c.Backend)
	}
}

// Exchange stores and retrieves job artifacts.
type Exchange struct {
	bucket *blob.Bucket
	prefix string
	ttl    time.Duration
	aead   cipher.AEAD
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	logger *slog.Logger
	now    func() time.Time
}

// Open opens the configured bucket. key must be a 32-byte key.
func Open(ctx context.Context, cfg Config, key []byte) (*Exchange, error) {
	var (
		bucket *blob.Bucket
		err    error
	)
	if cfg.Backend == "local" {
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		if err := os.MkdirAll(cfg.LocalDir, 0755); err != nil {
			return nil, fmt.Errorf("create artifact directory %s: %w", cfg.LocalDir, err)
		}
		bucket, err = fileblob.OpenBucket(cfg.LocalDir, nil)
	} else {
		var u string
		if u, err = cfg.BucketURL(); err != nil {
			return nil, err
		}
		bucket, err = blob.OpenBucket(ctx, u)
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact bucket: %w", err)
	}

	x, err := New(bucket, cfg.Prefix, cfg.TTL, key)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	return x, nil
}

// New wraps an open bucket. The exchange owns the bucket from now on.
func New(bucket *blob.Bucket, prefix string, ttl time.Duration, key []byte) (*Exchange, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("artifact cipher: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Exchange{
		bucket: bucket,
		prefix: prefix,
		ttl:    ttl,
		aead:   aead,
		enc:    enc,
		dec:    dec,
		logger: slog.Default().With("component", "artifact"),
		now:    time.Now,
	}, nil
}

func (x *Exchange) jobPrefix(job ids.ValidationJobID) string {
	return x.prefix + "jobs/" + url.PathEscape(string(job)) + "/"
}

func (x *Exchange) key(job ids.ValidationJobID, name string) string {
	return x.jobPrefix(job) + url.PathEscape(name)
}

// Put stores data as artifact name of job, replacing any previous version.
func (x *Exchange) Put(ctx context.Context, job ids.ValidationJobID, name string, data []byte) (err error) {
	defer func() {
		if m := metrics.Get(); m != nil {
			m.IncArtifactOps("put", err)
		}
	}()

	key := x.key(job, name)
	sealed, err := x.seal(key, x.enc.EncodeAll(data, nil))
	if err != nil {
		return err
	}

	opts := &blob.WriterOptions{
		ContentType: "application/octet-stream",
		Metadata: map[string]string{
			metaExpiresAt: x.now().Add(x.ttl).UTC().Format(time.RFC3339Nano),
			metaJobID:     string(job),
			metaEncoding:  encoding,
		},
	}
	if err := x.bucket.WriteAll(ctx, key, sealed, opts); err != nil {
		return fmt.Errorf("write artifact %s: %w", key, err)
	}
	if m := metrics.Get(); m != nil {
		m.AddArtifactBytes(len(sealed))
	}
	return nil
}

// Get returns artifact name of job. A missing or expired artifact yields a
// *NotFoundError.
func (x *Exchange) Get(ctx context.Context, job ids.ValidationJobID, name string) (data []byte, err error) {
	defer func() {
		if m := metrics.Get(); m != nil {
			m.IncArtifactOps("get", err)
		}
	}()

	key := x.key(job, name)
	attrs, err := x.bucket.Attributes(ctx, key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, &NotFoundError{JobID: job, Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("stat artifact %s: %w", key, err)
	}
	if x.expired(attrs.Metadata) {
		if err := x.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			x.logger.Warn("failed to delete expired artifact", "key", key, "error", err)
		}
		return nil, &NotFoundError{JobID: job, Name: name}
	}

	sealed, err := x.bucket.ReadAll(ctx, key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, &NotFoundError{JobID: job, Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}

	compressed, err := x.open(key, sealed)
	if err != nil {
		return nil, err
	}
	data, err = x.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress artifact %s: %w", key, err)
	}
	return data, nil
}

// List returns the names of the live artifacts of job.
func (x *Exchange) List(ctx context.Context, job ids.ValidationJobID) ([]string, error) {
	prefix := x.jobPrefix(job)
	var names []string
	err := x.each(ctx, prefix, func(obj *blob.ListObject) error {
		attrs, err := x.bucket.Attributes(ctx, obj.Key)
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if x.expired(attrs.Metadata) {
			return nil
		}
		name, err := url.PathUnescape(strings.TrimPrefix(obj.Key, prefix))
		if err != nil {
			return err
		}
		names = append(names, name)
		return nil
	})
	return names, err
}

// Delete removes every artifact of job. Deleting a job without artifacts
// is not an error.
func (x *Exchange) Delete(ctx context.Context, job ids.ValidationJobID) (n int, err error) {
	defer func() {
		if m := metrics.Get(); m != nil {
			m.IncArtifactOps("delete", err)
		}
	}()

	err = x.each(ctx, x.jobPrefix(job), func(obj *blob.ListObject) error {
		if err := x.bucket.Delete(ctx, obj.Key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return fmt.Errorf("delete artifact %s: %w", obj.Key, err)
		}
		n++
		return nil
	})
	return n, err
}

// Sweep deletes expired artifacts of every job and returns how many it
// removed.
func (x *Exchange) Sweep(ctx context.Context) (n int, err error) {
	defer func() {
		if m := metrics.Get(); m != nil {
			m.IncArtifactOps("sweep", err)
		}
	}()

	err = x.each(ctx, x.prefix+"jobs/", func(obj *blob.ListObject) error {
		attrs, err := x.bucket.Attributes(ctx, obj.Key)
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stat artifact %s: %w", obj.Key, err)
		}
		if !x.expired(attrs.Metadata) {
			return nil
		}
		if err := x.bucket.Delete(ctx, obj.Key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return fmt.Errorf("delete artifact %s: %w", obj.Key, err)
		}
		n++
		return nil
	})
	return n, err
}

// Close releases the bucket and codecs.
func (x *Exchange) Close() error {
	x.enc.Close()
	x.dec.Close()
	return x.bucket.Close()
}

func (x *Exchange) each(ctx context.Context, prefix string, fn func(*blob.ListObject) error) error {
	iter := x.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		if err := fn(obj); err != nil {
			return err
		}
	}
}

// expired treats a missing or unreadable expiry as expired.
func (x *Exchange) expired(meta map[string]string) bool {
	at, err := time.Parse(time.RFC3339Nano, meta[metaExpiresAt])
	if err != nil {
		return true
	}
	return !x.now().Before(at)
}

// seal encrypts plaintext bound to key, prefixing the random nonce.
func (x *Exchange) seal(key string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, x.aead.NonceSize(), x.aead.NonceSize()+len(plaintext)+x.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("artifact nonce: %w", err)
	}
	return x.aead.Seal(nonce, nonce, plaintext, []byte(key)), nil
}

func (x *Exchange) open(key string, sealed []byte) ([]byte, error) {
	if len(sealed) < x.aead.NonceSize() {
		return nil, fmt.Errorf("artifact %s is truncated", key)
	}
	nonce, ciphertext := sealed[:x.aead.NonceSize()], sealed[x.aead.NonceSize():]
	plain, err := x.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("decrypt artifact %s: %w", key, err)
	}
	return plain, nil
}
