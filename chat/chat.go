package chat

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
)

// Session is a synchronous dialogue with a child process over two byte
// streams. It is not safe for concurrent use.
//
// Every error a Session returns from a dialogue operation is fatal: the
// session is dead afterwards and all further calls fail with an error
// wrapping ErrSessionDead and the original cause.
type Session struct {
	cfg sessionConfig
	log *slog.Logger

	toStream   io.Writer
	fromStream io.Reader
	to         *bufio.Writer
	from       *inbound

	err    error // first fatal error; non-nil means dead
	closed bool
}

// New creates a session that writes to the child through to and reads the
// child's output from from. Both streams must already be connected.
// The session takes exclusive use of them until Close.
func New(to io.Writer, from io.Reader, opts ...Option) *Session {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	log := cfg.logger
	if log == nil {
		log = slog.Default()
	}

	s := &Session{
		cfg:        cfg,
		log:        log,
		toStream:   to,
		fromStream: from,
		to:         bufio.NewWriterSize(to, cfg.bufferSize),
		from:       newInbound(from, cfg.bufferSize, cfg.readTimeout),
	}
	if cfg.transcript != nil {
		s.from.tap = cfg.transcript.Received
	}
	if cfg.readTimeout > 0 && s.from.dl == nil {
		log.Debug("read timeout ignored, inbound stream has no deadline support",
			slog.Duration("timeout", cfg.readTimeout))
	}
	return s
}

// ReadByte blocks until the child sends a byte and returns it.
// End of stream and read errors are fatal (ErrCommunicationLost).
func (s *Session) ReadByte() (byte, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	b, err := s.from.readByte()
	if err != nil {
		return 0, s.fail(lostError("read", err))
	}
	return b, nil
}

// Expect reads one byte and fails with a *MismatchError if it is not
// expected. A mismatch means the dialogue is out of sync and is fatal.
func (s *Session) Expect(expected byte) error {
	c, err := s.ReadByte()
	if err != nil {
		return err
	}
	if c != expected {
		return s.fail(&Error{Op: "expect", Err: &MismatchError{Expected: expected, Found: c}})
	}
	return nil
}

// ExpectOptional consumes the next byte if it equals expected and otherwise
// leaves it for the next read. It never reports a mismatch.
func (s *Session) ExpectOptional(expected byte) error {
	c, err := s.ReadByte()
	if err != nil {
		return err
	}
	if c != expected {
		s.from.unreadByte(c)
	}
	return nil
}

// ExpectString expects each byte of str in order.
func (s *Session) ExpectString(str string) error {
	for i := 0; i < len(str); i++ {
		if err := s.Expect(str[i]); err != nil {
			return err
		}
	}
	return nil
}

// SwallowPrompt discards output up to and including the next prompt: a
// sentinel byte ('#' or '$' by default) followed by one space.
//
// This is a heuristic. A sentinel byte anywhere in output that precedes the
// real prompt ends the scan early, and the byte after it must then be a space
// or the session fails with a mismatch.
func (s *Session) SwallowPrompt() error {
	for {
		c, err := s.ReadByte()
		if err != nil {
			return err
		}
		if bytes.IndexByte(s.cfg.sentinels, c) >= 0 {
			break
		}
	}
	return s.Expect(' ')
}

// Talk sends message followed by a line feed and verifies the child's
// terminal echo: the message bytes, then "\r", an optional second "\r",
// then "\n".
func (s *Session) Talk(message string) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.to.WriteString(message); err != nil {
		return s.fail(lostError("write", err))
	}
	if err := s.to.WriteByte('\n'); err != nil {
		return s.fail(lostError("write", err))
	}
	if err := s.to.Flush(); err != nil {
		return s.fail(lostError("flush", err))
	}
	if s.cfg.transcript != nil {
		s.cfg.transcript.Sent([]byte(message + "\n"))
	}
	s.log.Debug("sent line to child", slog.Int("bytes", len(message)+1))

	if err := s.ExpectString(message); err != nil {
		return err
	}

	// A terminal answers "\n" with "\r\n", sometimes "\r\r\n".
	if err := s.Expect('\r'); err != nil {
		return err
	}
	if err := s.ExpectOptional('\r'); err != nil {
		return err
	}
	return s.Expect('\n')
}

// ReadLine reads the next line of output with all trailing "\r" and "\n"
// bytes removed. At most MaxLineLength bytes are consumed per call, so a
// longer line comes back in pieces.
//
// A clean end of stream yields the bytes read so far, or "" before any
// byte, and no error. Any other read error is fatal, even after part of a
// line has arrived.
func (s *Session) ReadLine() (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	line, err := s.from.readLine(s.cfg.maxLineLength)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", s.fail(lostError("read line", err))
	}
	return string(bytes.TrimRight(line, "\r\n")), nil
}

// Query sends command, verifies its echo and returns the first line of
// output.
func (s *Session) Query(command string) (string, error) {
	if err := s.Talk(command); err != nil {
		return "", err
	}
	return s.ReadLine()
}

// Err returns the fatal error that killed the session, or nil.
func (s *Session) Err() error {
	return s.err
}

// Alive reports whether the session can still be used.
func (s *Session) Alive() bool {
	return s.err == nil && !s.closed
}

// Close flushes pending output and releases the session's buffers. The
// underlying streams are closed only with WithCloseStreams. Close is
// idempotent.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.err == nil {
		if err := s.to.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush: %w", err))
		}
	}
	if s.cfg.transcript != nil {
		if err := s.cfg.transcript.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush transcript: %w", err))
		}
	}
	if s.cfg.closeStreams {
		if c, ok := s.fromStream.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		if c, ok := s.toStream.(io.Closer); ok && !sameStream(s.toStream, s.fromStream) {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// check rejects calls on closed or dead sessions.
func (s *Session) check() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.err != nil {
		return fmt.Errorf("%w: %w", ErrSessionDead, s.err)
	}
	return nil
}

// fail marks the session dead.
func (s *Session) fail(err error) error {
	s.err = err
	s.log.Debug("chat session failed", slog.Any("error", err))
	if s.cfg.transcript != nil {
		s.cfg.transcript.Failed(err)
	}
	return err
}

// sameStream reports whether a and b are the same stream, as with a pty
// master used for both directions. Only pointers are compared.
func sameStream(a, b any) bool {
	t := reflect.TypeOf(a)
	if t == nil || t != reflect.TypeOf(b) || t.Kind() != reflect.Pointer {
		return false
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
