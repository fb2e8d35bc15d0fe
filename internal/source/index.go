package source

import (
	"path"
	"sort"
	"strings"

	"github.com/withObsrvr/netex-crossfile-validator/internal/ids"
)

// Suffixes of pre-parsed documents.
const (
	jsonSuffix       = ".json"
	compressedSuffix = ".json.zst"
)

// File is one document of a dataset.
type File struct {
	Name       ids.FileName // dataset file name, encoding suffix removed
	Key        string       // path or bucket key
	Compressed bool
}

// Common reports whether f holds the data shared by every line file.
func (f File) Common() bool {
	return f.Name.IsCommonFile()
}

// ParseFileKey maps a path or bucket key to a dataset file. ok is false for
// keys that are not pre-parsed documents.
func ParseFileKey(key string) (File, bool) {
	base := path.Base(strings.ReplaceAll(key, "\\", "/"))
	switch {
	case strings.HasSuffix(base, compressedSuffix):
		name := strings.TrimSuffix(base, compressedSuffix)
		return File{Name: ids.FileName(name), Key: key, Compressed: true}, name != ""
	case strings.HasSuffix(base, jsonSuffix):
		name := strings.TrimSuffix(base, jsonSuffix)
		return File{Name: ids.FileName(name), Key: key}, name != ""
	default:
		return File{}, false
	}
}

// Index orders the files of a dataset: common files first, then line files,
// each by name. A name seen twice keeps its first key.
type Index struct {
	files  []File
	byName map[ids.FileName]bool
}

func NewIndex() *Index {
	return &Index{byName: make(map[ids.FileName]bool)}
}

// Add indexes key when it names a document.
func (idx *Index) Add(key string) bool {
	f, ok := ParseFileKey(key)
	if !ok || idx.byName[f.Name] {
		return false
	}
	idx.byName[f.Name] = true
	idx.files = append(idx.files, f)
	return true
}

func (idx *Index) Count() int { return len(idx.files) }

// Files returns the indexed files in processing order.
func (idx *Index) Files() []File {
	out := append([]File(nil), idx.files...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Common() != out[j].Common() {
			return out[i].Common()
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Split separates common files from line files, keeping order.
func Split(files []File) (common, lines []File) {
	for _, f := range files {
		if f.Common() {
			common = append(common, f)
		} else {
			lines = append(lines, f)
		}
	}
	return common, lines
}
