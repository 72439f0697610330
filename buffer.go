package main

import (
	"fmt"
	"os"
	"sync"
)

// FileBuffer is an on-disk sink for one stream. Concurrent fetch tasks write
// disjoint byte ranges at absolute offsets; WrittenSize reports the length of
// the contiguous prefix that has been persisted, which is what a later run
// resumes from.
type FileBuffer struct {
	path string

	mu      sync.Mutex
	file    *os.File
	written int64
	// pending maps start offset -> end offset (exclusive) for ranges that
	// landed ahead of the contiguous frontier.
	pending map[int64]int64
	closed  bool
}

// openFileBuffer opens (or creates) the file at path. With overwrite the file
// is truncated and the frontier starts at zero; otherwise the existing length
// becomes the resume point.
func openFileBuffer(path string, overwrite bool) (*FileBuffer, error) {
	flags := os.O_RDWR | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open buffer file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat buffer file %s: %w", path, err)
	}

	return &FileBuffer{
		path:    path,
		file:    file,
		written: info.Size(),
		pending: make(map[int64]int64),
	}, nil
}

// WriteAt persists data at the given absolute offset. Writes at the current
// frontier advance WrittenSize; writes ahead of it land on disk and are
// credited once the gap before them fills in. Writes entirely behind the
// frontier are already-persisted bytes and are dropped.
func (b *FileBuffer) WriteAt(data []byte, offset int64) error {
	if len(data) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("write to closed buffer %s", b.path)
	}

	end := offset + int64(len(data))
	if end <= b.written {
		return nil
	}

	if _, err := b.file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("failed to write %d bytes at %d to %s: %w", len(data), offset, b.path, err)
	}

	if offset <= b.written {
		b.written = end
	} else if prev, ok := b.pending[offset]; !ok || end > prev {
		b.pending[offset] = end
	}

	// Absorb any pending ranges now reachable from the frontier.
	for {
		advanced := false
		for start, stop := range b.pending {
			if start <= b.written {
				if stop > b.written {
					b.written = stop
				}
				delete(b.pending, start)
				advanced = true
			}
		}
		if !advanced {
			break
		}
	}
	return nil
}

// WrittenSize returns the length of the contiguous persisted prefix.
func (b *FileBuffer) WrittenSize() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// Close flushes and releases the file handle. Safe to call once per buffer on
// both success and failure paths; additional calls are no-ops.
func (b *FileBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if err := b.file.Sync(); err != nil {
		b.file.Close()
		return fmt.Errorf("failed to flush buffer file %s: %w", b.path, err)
	}
	return b.file.Close()
}

// Path returns the underlying file path.
func (b *FileBuffer) Path() string {
	return b.path
}
