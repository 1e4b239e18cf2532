// Package chattest provides a scripted fake terminal for testing code that
// drives a child shell with package chat.
//
// A Terminal behaves like a shell on a tty in canonical echo mode: it prints
// a prompt, echoes every byte it receives, answers each line feed with
// "\r\n" (or "\r\r\n"), runs a handler on the line and prints the handler's
// output followed by a new prompt.
//
//	term, err := chattest.NewTerminal(chattest.WithHandler(func(line string) string {
//	    return "hi"
//	}))
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer term.Close()
//
//	s := chat.New(term.ToChild(), term.FromChild())
//	_ = s.SwallowPrompt()
//	out, _ := s.Query("echo hi")
package chattest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
)

// Handler returns the output for one received line, without line endings.
// Multiple output lines are separated by "\n".
type Handler func(line string) string

// Option configures a Terminal.
type Option func(*Terminal)

// WithPrompt sets the prompt. Default: "$ ". An empty prompt disables it.
func WithPrompt(prompt string) Option {
	return func(t *Terminal) { t.prompt = prompt }
}

// WithBanner sets text printed before the first prompt.
func WithBanner(banner string) Option {
	return func(t *Terminal) { t.banner = banner }
}

// WithDoubleCR echoes a line feed as "\r\r\n", as some terminals do.
func WithDoubleCR() Option {
	return func(t *Terminal) { t.doubleCR = true }
}

// WithHandler sets the line handler. Default: no output.
func WithHandler(h Handler) Option {
	return func(t *Terminal) { t.handler = h }
}

// WithEchoFilter rewrites each echoed byte, to simulate a terminal that
// echoes something other than what it received.
func WithEchoFilter(f func(b byte) byte) Option {
	return func(t *Terminal) { t.echoFilter = f }
}

// Terminal is a fake child shell behind two OS pipes.
type Terminal struct {
	prompt     string
	banner     string
	doubleCR   bool
	handler    Handler
	echoFilter func(byte) byte

	// Session side.
	toChild   *os.File
	fromChild *os.File

	// Terminal side.
	in  *os.File
	out *os.File

	mu       sync.Mutex
	received []string
	err      error

	done      chan struct{}
	closeOnce sync.Once
}

// NewTerminal starts a fake terminal.
func NewTerminal(opts ...Option) (*Terminal, error) {
	t := &Terminal{
		prompt: "$ ",
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create input pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		_ = inR.Close()
		_ = inW.Close()
		return nil, fmt.Errorf("create output pipe: %w", err)
	}
	t.in, t.toChild = inR, inW
	t.fromChild, t.out = outR, outW

	go t.run()
	return t, nil
}

// ToChild returns the stream a session writes to.
func (t *Terminal) ToChild() *os.File {
	return t.toChild
}

// FromChild returns the stream a session reads from.
func (t *Terminal) FromChild() *os.File {
	return t.fromChild
}

// Received returns the lines the terminal has read so far.
func (t *Terminal) Received() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.received...)
}

// Hangup closes the terminal's output, so the session sees end of stream.
func (t *Terminal) Hangup() error {
	return t.out.Close()
}

// Close closes all pipes and waits for the terminal to stop.
// It returns the first error the terminal hit, if any.
func (t *Terminal) Close() error {
	t.closeOnce.Do(func() {
		_ = t.toChild.Close()
		_ = t.fromChild.Close()
		<-t.done
		_ = t.in.Close()
	})
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Terminal) run() {
	defer close(t.done)
	defer t.out.Close()

	w := bufio.NewWriter(t.out)
	r := bufio.NewReader(t.in)

	if err := t.write(w, t.banner+t.prompt); err != nil {
		return
	}

	var line strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.setErr(fmt.Errorf("read input: %w", err))
			}
			return
		}

		if b != '\n' {
			line.WriteByte(b)
			echo := b
			if t.echoFilter != nil {
				echo = t.echoFilter(b)
			}
			if err := t.write(w, string(echo)); err != nil {
				return
			}
			continue
		}

		eol := "\r\n"
		if t.doubleCR {
			eol = "\r\r\n"
		}
		received := line.String()
		line.Reset()

		t.mu.Lock()
		t.received = append(t.received, received)
		t.mu.Unlock()

		reply := eol
		if t.handler != nil {
			if output := t.handler(received); output != "" {
				reply += strings.ReplaceAll(output, "\n", "\r\n") + "\r\n"
			}
		}
		if err := t.write(w, reply+t.prompt); err != nil {
			return
		}
	}
}

func (t *Terminal) write(w *bufio.Writer, s string) error {
	if s == "" {
		return nil
	}
	if _, err := w.WriteString(s); err != nil {
		return t.writeErr(err)
	}
	if err := w.Flush(); err != nil {
		return t.writeErr(err)
	}
	return nil
}

func (t *Terminal) writeErr(err error) error {
	// The session side going away is normal shutdown.
	if !errors.Is(err, os.ErrClosed) && !errors.Is(err, syscall.EPIPE) {
		t.setErr(fmt.Errorf("write output: %w", err))
	}
	return err
}

func (t *Terminal) setErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		t.err = err
	}
}
