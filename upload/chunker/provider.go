package chunker

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
)

// FileChunkProvider reads chunks of a file according to a chunk plan.
// Safe for concurrent reads from parallel upload workers.
type FileChunkProvider struct {
	file *os.File
	plan []Chunk
	mu   sync.Mutex
}

// NewFileChunkProvider opens the source file for reading chunks of the given plan.
func NewFileChunkProvider(source FileSource, plan []Chunk) (*FileChunkProvider, error) {
	file, err := os.Open(source.Path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &FileChunkProvider{
		file: file,
		plan: plan,
	}, nil
}

// NumChunks returns the total number of chunks in the plan.
func (p *FileChunkProvider) NumChunks() int {
	return len(p.plan)
}

// ChunkSize returns the size of the chunk at the given index.
func (p *FileChunkProvider) ChunkSize(index int) int64 {
	if index < 0 || index >= len(p.plan) {
		return 0
	}
	return p.plan[index].Size()
}

// GetChunk returns a reader for the chunk at the given index.
// The chunk is read into memory so the returned reader does not depend on
// the file position once GetChunk returns.
func (p *FileChunkProvider) GetChunk(index int) (io.Reader, error) {
	if index < 0 || index >= len(p.plan) {
		return nil, fmt.Errorf("chunk index %d out of range [0, %d)", index, len(p.plan))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	chunk := p.plan[index]
	if _, err := p.file.Seek(chunk.Start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to position %d for chunk %d: %w", chunk.Start, index, err)
	}

	data := make([]byte, chunk.Size())
	if _, err := io.ReadFull(p.file, data); err != nil {
		return nil, fmt.Errorf("read chunk %d: %w", index, err)
	}

	return bytes.NewReader(data), nil
}

// Close closes the underlying file.
func (p *FileChunkProvider) Close() error {
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}
