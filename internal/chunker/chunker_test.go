package chunker

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceBoundaries(t *testing.T) {
	const size = 8
	cases := []struct {
		name      string
		inputSize int
		wantCnt   int
	}{
		{name: "empty", inputSize: 0, wantCnt: 0},
		{name: "one", inputSize: 1, wantCnt: 1},
		{name: "size-1", inputSize: size - 1, wantCnt: 1},
		{name: "size", inputSize: size, wantCnt: 1},
		{name: "size+1", inputSize: size + 1, wantCnt: 2},
		{name: "ten+tail", inputSize: size*10 + 3, wantCnt: 11},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := make([]byte, tc.inputSize)
			for i := range input {
				input[i] = byte(i % 251)
			}

			src, err := NewSource(bytes.NewReader(input), size)
			require.NoError(t, err)

			var got []Chunk
			for {
				c, err := src.Next()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				got = append(got, c)
			}

			require.Len(t, got, tc.wantCnt)
			assert.Equal(t, tc.wantCnt, ChunkCount(int64(tc.inputSize), size))

			var rebuilt []byte
			for i, c := range got {
				assert.Equal(t, i, c.Index)
				assert.Equal(t, int64(len(c.Data)), c.Size)
				assert.Equal(t, Digest(c.Data), c.Digest)
				if i < len(got)-1 {
					assert.Equal(t, int64(size), c.Size)
				}
				rebuilt = append(rebuilt, c.Data...)
			}
			assert.True(t, bytes.Equal(rebuilt, input), "rebuild mismatch")

			// exhausted sources keep returning EOF
			_, err = src.Next()
			assert.Equal(t, io.EOF, err)
		})
	}
}

func TestSourceChunksDoNotAlias(t *testing.T) {
	src, err := NewSource(bytes.NewReader([]byte("aaaabbbb")), 4)
	require.NoError(t, err)

	first, err := src.Next()
	require.NoError(t, err)
	second, err := src.Next()
	require.NoError(t, err)

	assert.Equal(t, "aaaa", string(first.Data))
	assert.Equal(t, "bbbb", string(second.Data))
}

func TestNewSourceRejectsInvalidSize(t *testing.T) {
	for _, size := range []int64{0, -1, MaxChunkSize + 1, 9000000000000000000} {
		_, err := NewSource(bytes.NewReader(nil), size)
		assert.ErrorIs(t, err, ErrInvalidChunkSize)
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestSourceReadErrorEmitsNoPartialChunk(t *testing.T) {
	boom := errors.New("disk on fire")
	src, err := NewSource(&failingReader{data: []byte("0123456789"), err: boom}, 4)
	require.NoError(t, err)

	c, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, "0123", string(c.Data))

	c, err = src.Next()
	require.NoError(t, err)
	assert.Equal(t, "4567", string(c.Data))

	// "89" was read but the stream then failed: no partial chunk
	_, err = src.Next()
	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, 2, readErr.Index)
	assert.ErrorIs(t, err, boom)

	_, again := src.Next()
	assert.Equal(t, err, again)
}

func TestSourceGrowsBufferOnDemand(t *testing.T) {
	src, err := NewSource(bytes.NewReader([]byte{42}), MaxChunkSize)
	require.NoError(t, err)

	c, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{42}, c.Data)
	assert.LessOrEqual(t, len(src.buf), initialBufSize)

	_, err = src.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSourceLargeChunkAcrossGrowth(t *testing.T) {
	const size = 200 << 10
	input := make([]byte, size+size/2)
	for i := range input {
		input[i] = byte(i % 253)
	}
	src, err := NewSource(bytes.NewReader(input), size)
	require.NoError(t, err)

	first, err := src.Next()
	require.NoError(t, err)
	second, err := src.Next()
	require.NoError(t, err)

	assert.Equal(t, input[:size], first.Data)
	assert.Equal(t, input[size:], second.Data)
	assert.Equal(t, size, len(src.buf))
}
