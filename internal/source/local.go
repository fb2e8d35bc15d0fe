package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/withObsrvr/netex-crossfile-validator/internal/netex"
)

// LocalSource reads documents from a directory tree.
type LocalSource struct {
	basePath string
	decoder  *Decoder
}

// NewLocalSource creates a new local filesystem source.
func NewLocalSource(basePath string) (*LocalSource, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid local path %s: %w", basePath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local path %s is not a directory", basePath)
	}

	decoder, err := NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	return &LocalSource{
		basePath: basePath,
		decoder:  decoder,
	}, nil
}

// List walks the directory tree and indexes every document.
func (s *LocalSource) List(ctx context.Context) ([]File, error) {
	index := NewIndex()

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		index.Add(path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return index.Files(), nil
}

// Read reads and decodes a single document.
func (s *LocalSource) Read(ctx context.Context, f File) (*netex.Document, error) {
	data, err := os.ReadFile(f.Key)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	doc, err := s.decoder.Decode(data, f.Compressed)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Name, err)
	}
	return doc, nil
}

// Close releases resources.
func (s *LocalSource) Close() error {
	if s.decoder != nil {
		s.decoder.Close()
	}
	return nil
}
