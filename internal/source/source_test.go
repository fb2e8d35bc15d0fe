package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
)

const lineDoc = `{"serviceFrames":[{"id":"SF:1","lines":[{"id":"L:1","name":"Airport"}]}]}`
const commonDoc = `{"siteFrames":[{"id":"Site:1"}]}`

func compress(t *testing.T, s string) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll([]byte(s), nil)
}

func names(files []File) []ids.FileName {
	out := make([]ids.FileName, 0, len(files))
	for _, f := range files {
		out = append(out, f.Name)
	}
	return out
}

func TestParseFileKey(t *testing.T) {
	tests := []struct {
		key        string
		name       ids.FileName
		compressed bool
		ok         bool
	}{
		{"data/line-1.xml.json", "line-1.xml", false, true},
		{"data/_common.xml.json.zst", "_common.xml", true, true},
		{"data/readme.txt", "", false, false},
		{"data/.json", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			f, ok := ParseFileKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.name, f.Name)
				assert.Equal(t, tt.compressed, f.Compressed)
			}
		})
	}
}

func TestIndexOrdersCommonFirst(t *testing.T) {
	idx := NewIndex()
	idx.Add("b.xml.json")
	idx.Add("_shared.xml.json")
	idx.Add("a.xml.json.zst")
	idx.Add("nested/a.xml.json")
	assert.Equal(t, 3, idx.Count())

	files := idx.Files()
	assert.Equal(t, []ids.FileName{"_shared.xml", "a.xml", "b.xml"}, names(files))
	assert.True(t, files[1].Compressed)

	common, lines := Split(files)
	assert.Len(t, common, 1)
	assert.Len(t, lines, 2)
}

func TestLocalSource(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_common.xml.json"), []byte(commonDoc), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lines"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lines", "line-1.xml.json.zst"), compress(t, lineDoc), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("#"), 0644))

	src, err := Open(ctx, dir)
	require.NoError(t, err)
	defer src.Close()

	files, err := src.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []ids.FileName{"_common.xml", "line-1.xml"}, names(files))

	doc, err := src.Read(ctx, files[1])
	require.NoError(t, err)
	require.Len(t, doc.Frames.ServiceFrames, 1)
	assert.Equal(t, "Airport", doc.Frames.ServiceFrames[0].Lines[0].Name)
}

func TestLocalSourceRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))
	_, err := NewLocalSource(path)
	assert.Error(t, err)
}

func TestBucketSource(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	require.NoError(t, bucket.WriteAll(ctx, "datasets/rut/_common.xml.json", []byte(commonDoc), nil))
	require.NoError(t, bucket.WriteAll(ctx, "datasets/rut/line-1.xml.json.zst", compress(t, lineDoc), nil))
	require.NoError(t, bucket.WriteAll(ctx, "datasets/other/line-9.xml.json", []byte(lineDoc), nil))
	require.NoError(t, bucket.WriteAll(ctx, "datasets/rut/broken.xml.json", []byte(`{"unknown":1}`), nil))

	src, err := NewBucketSourceFrom(bucket, "datasets/rut/")
	require.NoError(t, err)
	defer src.Close()

	files, err := src.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ids.FileName{"_common.xml", "broken.xml", "line-1.xml"}, names(files))

	doc, err := src.Read(ctx, files[2])
	require.NoError(t, err)
	assert.Equal(t, "L:1", doc.Frames.ServiceFrames[0].Lines[0].ID)

	_, err = src.Read(ctx, files[1])
	assert.Error(t, err)
}
