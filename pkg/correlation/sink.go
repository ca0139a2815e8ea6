package correlation

import (
	"fmt"
	"io"
	"os"
	"sync"

	"caretcore/pkg/algorithm"
)

// PositionedByteSink is the output of the streaming back-end. Callers
// serialize Seek and Write; implementations need not be safe for concurrent
// use.
type PositionedByteSink interface {
	// Seek positions the next Write at offset bytes from the start.
	Seek(offset uint64) error

	// Write writes p at the current position and reports the bytes written.
	Write(p []byte) (uint64, error)

	Close() error
}

// FileSink writes to a local file.
type FileSink struct {
	f *os.File
}

// NewFileSink creates (or truncates) path and reserves size bytes for it.
func NewFileSink(path string, size int64) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, algorithm.Wrap(algorithm.ErrIoFailure, "filesink", err)
	}
	if size > 0 {
		if err := preallocate(f, size); err != nil {
			f.Close()
			return nil, algorithm.Wrap(algorithm.ErrIoFailure, "filesink",
				fmt.Errorf("reserving %d bytes: %w", size, err))
		}
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Seek(offset uint64) error {
	if _, err := s.f.Seek(int64(offset), io.SeekStart); err != nil {
		return &algorithm.Error{Kind: algorithm.ErrSeekFailure, Op: "filesink", Err: err}
	}
	return nil
}

func (s *FileSink) Write(p []byte) (uint64, error) {
	n, err := s.f.Write(p)
	return uint64(n), err
}

func (s *FileSink) Close() error {
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// MemorySink is a growable in-memory sink.
type MemorySink struct {
	mu  sync.Mutex
	buf []byte
	pos uint64
}

// NewMemorySink creates a sink with capacity for size bytes.
func NewMemorySink(size int) *MemorySink {
	return &MemorySink{buf: make([]byte, 0, size)}
}

func (s *MemorySink) Seek(offset uint64) error {
	s.mu.Lock()
	s.pos = offset
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) Write(p []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := s.pos + uint64(len(p))
	if end > uint64(len(s.buf)) {
		if end > uint64(cap(s.buf)) {
			grown := make([]byte, end, 2*end)
			copy(grown, s.buf)
			s.buf = grown
		} else {
			s.buf = s.buf[:end]
		}
	}
	copy(s.buf[s.pos:end], p)
	s.pos = end
	return uint64(len(p)), nil
}

func (s *MemorySink) Close() error { return nil }

// Bytes returns the sink contents.
func (s *MemorySink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf
}
