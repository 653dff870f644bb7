package compressor

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Every encoded payload starts with one of these markers.
const (
	markerRaw byte = 0x00
	markerLZ4 byte = 0x01
)

var ErrUnknownEncoding = errors.New("unknown chunk encoding")

// Encode compresses data with lz4. Incompressible payloads (media, archives)
// are stored raw so the encoded form is never more than one byte larger.
func Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) + 1)
	buf.WriteByte(markerLZ4)

	writer := lz4.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("compression failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("compression failed: %w", err)
	}

	if buf.Len() >= len(data)+1 {
		raw := make([]byte, 0, len(data)+1)
		raw = append(raw, markerRaw)
		return append(raw, data...), nil
	}
	return buf.Bytes(), nil
}

// NewReader returns a reader yielding the original payload of an encoded stream.
func NewReader(r io.Reader) (io.Reader, error) {
	var marker [1]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		return nil, fmt.Errorf("decompression failed: read marker: %w", err)
	}
	switch marker[0] {
	case markerRaw:
		return r, nil
	case markerLZ4:
		return lz4.NewReader(r), nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownEncoding, marker[0])
	}
}
