package chat

import (
	"bufio"
	"errors"
	"io"
	"os"
	"time"
)

// deadliner is implemented by streams that support read deadlines
// (*os.File for pipes and ptys, net.Conn).
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// inbound is a buffered reader with a single push-back slot.
// The protocol never needs more than one byte of look-ahead.
type inbound struct {
	r *bufio.Reader

	// Read deadline support; dl is nil when disabled.
	dl      deadliner
	timeout time.Duration

	pending    byte
	hasPending bool

	// tap sees every byte taken from the stream, but not re-reads of a
	// pushed-back byte.
	tap func(byte)
}

func newInbound(r io.Reader, size int, timeout time.Duration) *inbound {
	in := &inbound{r: bufio.NewReaderSize(r, size)}
	if timeout > 0 {
		if dl, ok := r.(deadliner); ok {
			in.dl = dl
			in.timeout = timeout
		}
	}
	return in
}

// readByte returns the pushed-back byte if there is one, and the next byte
// from the stream otherwise.
func (in *inbound) readByte() (byte, error) {
	if in.hasPending {
		in.hasPending = false
		return in.pending, nil
	}
	if err := in.arm(); err != nil {
		return 0, err
	}
	b, err := in.r.ReadByte()
	if err == nil && in.tap != nil {
		in.tap(b)
	}
	return b, err
}

// unreadByte pushes b back so the next readByte returns it.
func (in *inbound) unreadByte(b byte) {
	if in.hasPending {
		panic("chat: push-back slot already occupied")
	}
	in.pending = b
	in.hasPending = true
}

// readLine reads through the next line feed, stopping early after max bytes
// or at the first error. Bytes read before an error are returned with it.
func (in *inbound) readLine(max int) ([]byte, error) {
	line := make([]byte, 0, 64)
	for len(line) < max {
		b, err := in.readByte()
		if err != nil {
			return line, err
		}
		line = append(line, b)
		if b == '\n' {
			break
		}
	}
	return line, nil
}

// arm sets a read deadline before a read that will hit the stream.
func (in *inbound) arm() error {
	if in.dl == nil || in.r.Buffered() > 0 {
		return nil
	}
	err := in.dl.SetReadDeadline(time.Now().Add(in.timeout))
	if errors.Is(err, os.ErrNoDeadline) {
		in.dl = nil
		return nil
	}
	return err
}
