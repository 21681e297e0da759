package ioframe

import (
	"bytes"
	"io"
	"time"

	"github.com/dmora/banjo"
)

// ReadLineBufSize is the chunk size used to fill the byte queue from r
// between newline scans.
const ReadLineBufSize = 4096

// ReadLine reads until a newline into q, returning the line with its
// trailing newline stripped. Contract (spec.md §4.1):
//
//   - Empty lines (immediate '\n') are silently skipped.
//   - A line exceeding maxLineBytes fails with [banjo.ErrLineTooLong].
//   - EOF with a non-empty buffer returns the trailing bytes as a final
//     line.
//   - With a non-zero deadline, returns [banjo.ErrTimeout] if the
//     deadline passes before a newline arrives.
//   - With a nil r, reads from q alone and never blocks: returns the next
//     buffered line (or the trailing bytes as a final line), then io.EOF
//     once q is empty.
func ReadLine(q *ByteQueue, r DeadlineReader, maxLineBytes int, deadline time.Time) (string, error) {
	for {
		if idx := bytes.IndexByte(q.Peek(), '\n'); idx >= 0 {
			line := q.Peek()[:idx]
			lineLen := len(line)
			q.Consume(idx + 1)
			if lineLen == 0 {
				continue
			}
			if lineLen > maxLineBytes {
				return "", banjo.ErrLineTooLong
			}
			return string(line), nil
		}

		if q.Len() > maxLineBytes {
			return "", banjo.ErrLineTooLong
		}

		if r == nil {
			if q.Len() > 0 {
				line := string(q.Peek())
				q.Consume(q.Len())
				return line, nil
			}
			return "", io.EOF
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return "", banjo.ErrTimeout
		}

		slice := ClampPollSlice(deadline, time.Now())
		buf := make([]byte, ReadLineBufSize)
		n, _, err := WaitReadable(r, buf, int(slice.Milliseconds()))
		if n > 0 {
			q.Append(buf[:n])
			continue
		}
		switch {
		case err == io.EOF:
			if q.Len() > 0 {
				line := string(q.Peek())
				q.Consume(q.Len())
				return line, nil
			}
			return "", io.EOF
		case err != nil:
			return "", err
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			// Re-check after a zero-duration or expired poll slice.
			return "", banjo.ErrTimeout
		}
	}
}
