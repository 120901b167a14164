// Package chunker partitions a media file into ordered, fixed-size byte ranges
// and provides readers for individual chunks during upload.
package chunker

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileSource is an immutable handle to the file being uploaded.
type FileSource struct {
	Path string
	Name string
	Size int64
}

// NewFileSource stats the file at path and returns a handle to it.
func NewFileSource(path string) (FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileSource{}, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return FileSource{}, fmt.Errorf("%s is a directory, not a file", path)
	}

	return FileSource{
		Path: path,
		Name: filepath.Base(path),
		Size: info.Size(),
	}, nil
}

// Chunk is one contiguous byte range of the source file, identified by its
// 0-based index. The range is [Start, End).
type Chunk struct {
	Index int
	Start int64
	End   int64
}

// Size returns the chunk's length in bytes.
func (c Chunk) Size() int64 {
	return c.End - c.Start
}

// Plan splits a file of totalSize bytes into ceil(totalSize/chunkSize) chunks.
// Ranges are contiguous, non-overlapping and cover [0, totalSize) exactly;
// every chunk is chunkSize bytes except possibly the last. A zero totalSize
// yields an empty plan.
func Plan(totalSize, chunkSize int64) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if totalSize < 0 {
		return nil, fmt.Errorf("file size must not be negative, got %d", totalSize)
	}

	count := totalSize / chunkSize
	if totalSize%chunkSize != 0 {
		count++
	}

	plan := make([]Chunk, 0, count)
	for i := int64(0); i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > totalSize {
			end = totalSize
		}
		plan = append(plan, Chunk{
			Index: int(i),
			Start: start,
			End:   end,
		})
	}

	return plan, nil
}
