package source

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/withObsrvr/netex-crossfile-validator/internal/netex"
)

// Decoder turns stored bytes into documents.
type Decoder struct {
	zstdDecoder *zstd.Decoder
}

// NewDecoder creates a new document decoder.
func NewDecoder() (*Decoder, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Decoder{zstdDecoder: dec}, nil
}

// Close releases decoder resources.
func (d *Decoder) Close() {
	if d.zstdDecoder != nil {
		d.zstdDecoder.Close()
	}
}

// Decode parses data, decompressing it first when compressed.
func (d *Decoder) Decode(data []byte, compressed bool) (*netex.Document, error) {
	if compressed {
		raw, err := d.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		data = raw
	}
	return netex.Decode(bytes.NewReader(data))
}

// DecodeFromReader decodes from a reader.
func (d *Decoder) DecodeFromReader(r io.Reader, compressed bool) (*netex.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	return d.Decode(data, compressed)
}
