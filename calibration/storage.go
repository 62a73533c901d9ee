package calibration

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Storage is byte-addressable non-volatile memory. Erased bytes read 0xFF.
type Storage interface {
	io.ReaderAt
	io.WriterAt
}

// DefaultSize is the size of a freshly created storage image.
const DefaultSize = 1024

// MemoryStorage is an erased-on-creation in-memory image.
type MemoryStorage struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryStorage(size int) *MemoryStorage {
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xFF
	}
	return &MemoryStorage{data: data}
}

func (m *MemoryStorage) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, io.ErrUnexpectedEOF
	}
	return copy(p, m.data[off:]), nil
}

func (m *MemoryStorage) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, io.ErrShortWrite
	}
	return copy(m.data[off:], p), nil
}

// FileStorage keeps the image in a regular file, synced after every write.
type FileStorage struct {
	f *os.File
}

// OpenFile opens or creates an image of at least size bytes, padding new
// space with 0xFF.
func OpenFile(path string, size int) (*FileStorage, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if pad := int64(size) - st.Size(); pad > 0 {
		blank := make([]byte, pad)
		for i := range blank {
			blank[i] = 0xFF
		}
		if _, err := f.WriteAt(blank, st.Size()); err != nil {
			f.Close()
			return nil, fmt.Errorf("initializing %q: %w", path, err)
		}
	}
	return &FileStorage{f: f}, nil
}

func (s *FileStorage) ReadAt(p []byte, off int64) (int, error) {
	n, err := s.f.ReadAt(p, off)
	if errors.Is(err, io.EOF) && n == len(p) {
		err = nil
	}
	return n, err
}

func (s *FileStorage) WriteAt(p []byte, off int64) (int, error) {
	n, err := s.f.WriteAt(p, off)
	if err != nil {
		return n, err
	}
	return n, s.f.Sync()
}

func (s *FileStorage) Close() error {
	return s.f.Close()
}
