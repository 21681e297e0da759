package ioframe

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/dmora/banjo"
	"github.com/stretchr/testify/require"
)

func TestReadLine_FromPrefilledQueueNoReader(t *testing.T) {
	var q ByteQueue
	q.Append([]byte("hello\nworld"))

	line, err := ReadLine(&q, nil, 4096, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "hello", line)

	// Trailing bytes with no newline, no reader: returned as a final
	// line, then io.EOF.
	line, err = ReadLine(&q, nil, 4096, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "world", line)

	_, err = ReadLine(&q, nil, 4096, time.Time{})
	require.ErrorIs(t, err, io.EOF)
}

func TestReadLine_SkipsEmptyLines(t *testing.T) {
	var q ByteQueue
	q.Append([]byte("\n\nhello\n"))

	line, err := ReadLine(&q, nil, 4096, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "hello", line)
}

func TestReadLine_TooLong(t *testing.T) {
	var q ByteQueue
	q.Append([]byte("aaaaaaaaaa\n"))

	_, err := ReadLine(&q, nil, 4, time.Time{})
	require.ErrorIs(t, err, banjo.ErrLineTooLong)
}

func TestReadLine_FromPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	go func() {
		w.Write([]byte("first line\nsecond"))
		w.Close()
	}()

	var q ByteQueue
	line, err := ReadLine(&q, r, 4096, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "first line", line)

	line, err = ReadLine(&q, r, 4096, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "second", line)

	_, err = ReadLine(&q, r, 4096, time.Time{})
	require.ErrorIs(t, err, io.EOF)
}

func TestReadLine_DeadlineTimeout(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	var q ByteQueue
	_, err = ReadLine(&q, r, 4096, time.Now().Add(50*time.Millisecond))
	require.ErrorIs(t, err, banjo.ErrTimeout)
}
