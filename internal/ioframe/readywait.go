package ioframe

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/dmora/banjo"
)

// DeadlineReader is a Reader that supports per-call read deadlines. Pipes
// returned by os/exec's StdoutPipe satisfy this on Unix via *os.File.
type DeadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// ClampPollSlice clamps (deadline − now) to [0, 200ms] so a wait never
// stalls cancellation beyond the maximum poll slice, regardless of how
// far away the caller's real deadline is.
func ClampPollSlice(deadline time.Time, now time.Time) time.Duration {
	const maxSlice = 200 * time.Millisecond
	if deadline.IsZero() {
		return maxSlice
	}
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return 0
	}
	if remaining > maxSlice {
		return maxSlice
	}
	return remaining
}

// WaitReadable reads whatever is available into buf within timeoutMS,
// arming a short read deadline on r. This is the idiomatic Go substitute
// for a raw fd poll: os.File (and the pipes os/exec hands back) support
// SetReadDeadline on Unix, so a deadline-bounded Read plays the role a
// select/poll loop would in a systems language.
//
// Returns (n, true, nil) when n>0 bytes were read, (0, false, nil) on
// timeout, (0, false, io.EOF) on clean end-of-stream, or (0, false,
// [banjo.ErrUnexpectedEOF]) for any other read error.
func WaitReadable(r DeadlineReader, buf []byte, timeoutMS int) (n int, readable bool, err error) {
	if timeoutMS < 0 {
		timeoutMS = 0
	}
	if derr := r.SetReadDeadline(time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)); derr != nil {
		// Some DeadlineReader implementations (e.g. in-memory pipes used
		// by tests) don't support deadlines; fall back to a plain,
		// possibly-blocking read.
		n, err = r.Read(buf)
		return n, n > 0, err
	}
	defer r.SetReadDeadline(time.Time{})

	n, err = r.Read(buf)
	switch {
	case n > 0:
		return n, true, nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return 0, false, nil
	case errors.Is(err, io.EOF):
		return 0, false, io.EOF
	case err != nil:
		return 0, false, banjo.ErrUnexpectedEOF
	default:
		return 0, false, nil
	}
}
