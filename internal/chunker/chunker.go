package chunker

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

const (
	// DefaultChunkSize is used when no chunk size is configured (4 MiB).
	DefaultChunkSize int64 = 4 << 20
	// MaxChunkSize bounds a single chunk (1 GiB).
	MaxChunkSize int64 = 1 << 30

	initialBufSize = 64 << 10
)

var ErrInvalidChunkSize = errors.New("chunk size out of range")

// Chunk is a contiguous byte range of the source stream.
type Chunk struct {
	Index  int
	Data   []byte
	Size   int64
	Digest string
}

// ReadError reports a failure of the underlying stream.
type ReadError struct {
	Index int
	Err   error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read chunk %d: %v", e.Index, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Source splits a stream into fixed-size chunks, front to back.
// It is consumed exactly once and keeps a single read buffer that grows on
// demand up to the chunk size, so short streams never reserve a full chunk.
type Source struct {
	r     io.Reader
	size  int64
	buf   []byte
	index int
	done  bool
	err   error
}

// NewSource creates a chunk source reading from r.
func NewSource(r io.Reader, size int64) (*Source, error) {
	if size <= 0 || size > MaxChunkSize {
		return nil, fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidChunkSize, size, MaxChunkSize)
	}
	return &Source{r: r, size: size}, nil
}

// ChunkSize returns the configured chunk size.
func (s *Source) ChunkSize() int64 {
	return s.size
}

// Next returns the next chunk or io.EOF once the stream is exhausted.
// The returned Data is a fresh slice owned by the caller.
func (s *Source) Next() (Chunk, error) {
	if s.err != nil {
		return Chunk{}, s.err
	}
	if s.done {
		return Chunk{}, io.EOF
	}

	n, err := s.fill()
	if err == io.EOF {
		if n == 0 {
			s.done = true
			return Chunk{}, io.EOF
		}
		// short read means this is the last chunk
		s.done = true
	} else if err != nil {
		s.err = &ReadError{Index: s.index, Err: err}
		return Chunk{}, s.err
	}

	data := make([]byte, n)
	copy(data, s.buf[:n])
	c := Chunk{
		Index:  s.index,
		Data:   data,
		Size:   int64(n),
		Digest: Digest(data),
	}
	s.index++
	return c, nil
}

// fill reads up to one chunk into buf, growing it as data arrives.
// It returns io.EOF when the stream ends before the chunk is full.
func (s *Source) fill() (int, error) {
	n := 0
	for int64(n) < s.size {
		if n == len(s.buf) {
			s.grow()
		}
		m, err := s.r.Read(s.buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (s *Source) grow() {
	next := int64(2 * len(s.buf))
	if next < initialBufSize {
		next = initialBufSize
	}
	if next > s.size {
		next = s.size
	}
	buf := make([]byte, next)
	copy(buf, s.buf)
	s.buf = buf
}

// Digest returns the hex BLAKE3-256 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChunkCount returns how many chunks a stream of the given length yields.
func ChunkCount(length, size int64) int {
	if length <= 0 || size <= 0 {
		return 0
	}
	return int((length + size - 1) / size)
}
