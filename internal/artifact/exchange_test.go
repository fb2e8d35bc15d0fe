package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	hexKey, err := GenerateKey()
	require.NoError(t, err)
	key, err := ParseKey(hexKey)
	require.NoError(t, err)
	return key
}

func newMemExchange(t *testing.T) (*Exchange, *blob.Bucket) {
	t.Helper()
	bucket := memblob.OpenBucket(nil)
	x, err := New(bucket, "tmp/", time.Hour, testKey(t))
	require.NoError(t, err)
	t.Cleanup(func() { x.Close() })
	return x, bucket
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	x, bucket := newMemExchange(t)

	payload := []byte(`{"entries":[]}`)
	require.NoError(t, x.Put(ctx, "job-1", "line-1.xml.report", payload))

	got, err := x.Get(ctx, "job-1", "line-1.xml.report")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	stored, err := bucket.ReadAll(ctx, "tmp/jobs/job-1/line-1.xml.report")
	require.NoError(t, err)
	assert.NotContains(t, string(stored), "entries")
}

func TestGetMissingIsNotFound(t *testing.T) {
	x, _ := newMemExchange(t)

	_, err := x.Get(context.Background(), "job-1", "nothing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nothing", nf.Name)
	assert.EqualValues(t, "job-1", nf.JobID)
}

func TestExpiredArtifactIsNotFoundAndSwept(t *testing.T) {
	ctx := context.Background()
	x, _ := newMemExchange(t)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	x.now = func() time.Time { return now }

	require.NoError(t, x.Put(ctx, "job-1", "old", []byte("a")))
	now = now.Add(30 * time.Minute)
	require.NoError(t, x.Put(ctx, "job-2", "fresh", []byte("b")))

	now = now.Add(31 * time.Minute)
	_, err := x.Get(ctx, "job-1", "old")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, x.Put(ctx, "job-1", "old-again", []byte("c")))
	now = now.Add(2 * time.Hour)

	n, err := x.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	names, err := x.List(ctx, "job-2")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDeleteIsJobScopedAndIdempotent(t *testing.T) {
	ctx := context.Background()
	x, _ := newMemExchange(t)

	require.NoError(t, x.Put(ctx, "job", "a", []byte("1")))
	require.NoError(t, x.Put(ctx, "job", "b", []byte("2")))
	require.NoError(t, x.Put(ctx, "job/x", "a", []byte("3")))

	names, err := x.List(ctx, "job")
	require.NoError(t, err)
	sort.Strings(names)
	assert.Equal(t, []string{"a", "b"}, names)

	n, err := x.Delete(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = x.Delete(ctx, "job")
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := x.Get(ctx, "job/x", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)

	n, err = x.Delete(ctx, "never-written")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWrongKeyCannotRead(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)

	writer, err := New(bucket, "", time.Hour, testKey(t))
	require.NoError(t, err)
	require.NoError(t, writer.Put(ctx, "job", "a", []byte("secret")))

	reader, err := New(bucket, "", time.Hour, testKey(t))
	require.NoError(t, err)
	_, err = reader.Get(ctx, "job", "a")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	require.NoError(t, reader.Close())
}

func TestOpenLocalBucket(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "artifacts")
	key := testKey(t)

	x, err := Open(ctx, Config{Backend: "local", LocalDir: dir, Prefix: "crossfile/"}, key)
	require.NoError(t, err)
	require.NoError(t, x.Put(ctx, "job-1", "final.report", []byte("report")))
	require.NoError(t, x.Close())

	// A second worker with the same key sees the artifact.
	y, err := Open(ctx, Config{Backend: "local", LocalDir: dir, Prefix: "crossfile/"}, key)
	require.NoError(t, err)
	defer y.Close()
	got, err := y.Get(ctx, "job-1", "final.report")
	require.NoError(t, err)
	assert.Equal(t, []byte("report"), got)
}

func TestBucketURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
		err  bool
	}{
		{"default", Config{}, "mem://", false},
		{"gcs", Config{Backend: "gcs", GCSBucket: "b"}, "gs://b", false},
		{"s3 plain", Config{Backend: "s3", S3Bucket: "b"}, "s3://b", false},
		{"s3 endpoint", Config{Backend: "s3", S3Bucket: "b", S3Endpoint: "http://minio:9000", S3Region: "eu"},
			"s3://b?endpoint=http%3A%2F%2Fminio%3A9000&region=eu&s3ForcePathStyle=true", false},
		{"s3 missing bucket", Config{Backend: "s3"}, "", true},
		{"unknown", Config{Backend: "ftp"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.BucketURL()
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadKey(t *testing.T) {
	hexKey, err := GenerateKey()
	require.NoError(t, err)

	t.Run("from variable", func(t *testing.T) {
		t.Setenv(KeyEnv, hexKey)
		t.Setenv(KeyEnv+"_FILE", "")
		key, err := LoadKey()
		require.NoError(t, err)
		assert.Len(t, key, 32)
	})

	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "key")
		require.NoError(t, os.WriteFile(path, []byte(hexKey+"\n"), 0600))
		t.Setenv(KeyEnv, "")
		t.Setenv(KeyEnv+"_FILE", path)
		key, err := LoadKey()
		require.NoError(t, err)
		assert.Len(t, key, 32)
	})

	t.Run("missing", func(t *testing.T) {
		t.Setenv(KeyEnv, "")
		t.Setenv(KeyEnv+"_FILE", "")
		_, err := LoadKey()
		var missing MissingKeyError
		assert.ErrorAs(t, err, &missing)
	})

	t.Run("short key", func(t *testing.T) {
		_, err := ParseKey("abcd")
		assert.Error(t, err)
	})
}
