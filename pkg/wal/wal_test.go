package wal

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReader_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.wal")

	w, err := OpenWrite(path, 0)
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("a")))
	require.NoError(t, w.Append([]byte("bb")))
	require.NoError(t, w.Flush())
	assert.Equal(t, int64(headerSize*2+3), w.Offset())

	r, err := OpenReader(path, 0, ReaderOptions{})
	require.NoError(t, err)
	defer r.Close()

	p, next, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", string(p))
	assert.Equal(t, int64(headerSize+1), next)

	p, _, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "bb", string(p))

	_, _, err = r.Next()
	assert.True(t, errors.Is(err, io.EOF))
	require.NoError(t, w.Close())
}

func TestReader_TruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.wal")
	w, err := OpenWrite(path, 0)
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("complete")))
	require.NoError(t, w.Close())

	// 模拟崩溃：只写了半个 header
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	tests := []struct {
		name      string
		allowTail bool
		wantErr   error
	}{
		{"允许半写尾部", true, io.EOF},
		{"严格模式", false, ErrCorruptHeader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := OpenReader(path, 0, ReaderOptions{AllowTruncatedTail: tt.allowTail})
			require.NoError(t, err)
			defer r.Close()

			_, _, err = r.Next()
			require.NoError(t, err)
			_, _, err = r.Next()
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, r.TruncatedTail())
			assert.Equal(t, int64(headerSize+len("complete")), r.Offset())
		})
	}
}

func TestWriter_Reset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.wal")
	w, err := OpenWrite(path, 0)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append([]byte("x")))
	require.NoError(t, w.Reset())
	assert.Equal(t, int64(0), w.Offset())

	require.NoError(t, w.Append([]byte("y")))
	require.NoError(t, w.Flush())

	r, err := OpenReader(path, 0, ReaderOptions{})
	require.NoError(t, err)
	defer r.Close()
	p, _, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "y", string(p))
}

func TestReader_ScanStopsOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.wal")
	w, err := OpenWrite(path, 0)
	require.NoError(t, err)
	for _, s := range []string{"r1", "r2", "r3"} {
		require.NoError(t, w.Append([]byte(s)))
	}
	require.NoError(t, w.Close())

	r, err := OpenReader(path, 0, ReaderOptions{})
	require.NoError(t, err)
	defer r.Close()

	stop := errors.New("stop")
	var seen []string
	var lastNext int64
	n, err := r.Scan(func(p []byte, next int64) error {
		if string(p) == "r3" {
			return stop
		}
		seen = append(seen, string(p))
		lastNext = next
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"r1", "r2"}, seen)
	assert.Equal(t, int64(2*(headerSize+2)), lastNext)
}

func TestOpenWrite_RepairsTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.wal")
	w, err := OpenWrite(path, 0)
	require.NoError(t, err)
	require.NoError(t, w.Sync([]byte("kept")))
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{9, 0, 0, 0, 1, 2}) // 半个 header
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w, err = OpenWrite(path, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(headerSize+len("kept")), w.Offset())
	require.NoError(t, w.Sync([]byte("next")))
	require.NoError(t, w.Close())

	r, err := OpenReader(path, 0, ReaderOptions{})
	require.NoError(t, err)
	defer r.Close()
	var got []string
	_, err = r.Scan(func(p []byte, _ int64) error {
		got = append(got, string(p))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"kept", "next"}, got)
}

func TestAppend_RejectsOversize(t *testing.T) {
	w, err := OpenWrite(filepath.Join(t.TempDir(), "big.wal"), 0)
	require.NoError(t, err)
	defer w.Close()
	assert.ErrorIs(t, w.Append(make([]byte, DefaultMaxPayload+1)), ErrPayloadTooLarge)
}
