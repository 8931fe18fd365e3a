package mmap

import (
	"errors"
	"io"
	"os"
	"sync"
)

var (
	// ErrClosed is returned when reading a closed file.
	ErrClosed = errors.New("mmap: file closed")
	// ErrInvalidOffset is returned for negative read offsets.
	ErrInvalidOffset = errors.New("mmap: negative offset")
)

// Hint tells the kernel how a mapping will be read.
type Hint uint8

const (
	// HintNormal gives no advice.
	HintNormal Hint = iota
	// HintSequential announces a single front-to-back scan, as when a
	// segment blob is parsed.
	HintSequential
)

// File is a read-only mapping of a whole file. Reads may run concurrently
// with each other and with Close.
type File struct {
	mu    sync.RWMutex
	data  []byte
	unmap func([]byte) error
	size  int64
}

// Open maps the file at path. Empty files are not mapped and read as empty.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	m := &File{size: fi.Size()}
	if m.size == 0 {
		return m, nil
	}
	if m.data, m.unmap, err = osMap(f, int(m.size)); err != nil {
		return nil, err
	}
	return m, nil
}

// Size returns the file size in bytes.
func (m *File) Size() int64 { return m.size }

// Bytes returns the mapped contents. The slice must not be used after
// Close; it is nil once closed.
func (m *File) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data
}

// Advise passes an access hint to the kernel.
func (m *File) Advise(h Hint) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unmap == nil {
		if m.size > 0 {
			return ErrClosed
		}
		return nil
	}
	return osAdvise(m.data, h)
}

// ReadAt implements io.ReaderAt over the mapping.
func (m *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unmap == nil && m.size > 0 {
		return 0, ErrClosed
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the file. Extra calls are no-ops.
func (m *File) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unmap == nil {
		return nil
	}
	err := m.unmap(m.data)
	m.data, m.unmap = nil, nil
	return err
}
