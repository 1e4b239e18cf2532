// Package transcript records chat dialogues as JSONL and reads them back.
//
// Each line is one Event. Sent bytes are recorded per write; received bytes
// are coalesced into one event per line so a transcript stays readable:
//
//	{"time":"...","kind":"send","data":"echo hi\n"}
//	{"time":"...","kind":"recv","data":"echo hi\r\n"}
//	{"time":"...","kind":"recv","data":"hi\r\n"}
//
// A Reader can tail a transcript file that a live session is still writing.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Kind classifies a transcript event.
type Kind string

// Event kinds.
const (
	KindSend  Kind = "send"
	KindRecv  Kind = "recv"
	KindFatal Kind = "fatal"
)

// Event is one line of a transcript.
type Event struct {
	Time  time.Time `json:"time"`
	Kind  Kind      `json:"kind"`
	Data  string    `json:"data,omitempty"`
	Error string    `json:"error,omitempty"`
}

// Recorder writes events as JSON lines. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	w       *bufio.Writer
	closer  io.Closer
	pending []byte // received bytes not yet written
	err     error  // first write error
	now     func() time.Time
}

// NewRecorder returns a recorder writing to w.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: bufio.NewWriter(w), now: time.Now}
}

// Create creates (or truncates) the file at path and records to it.
// Close the recorder to close the file.
func Create(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create transcript: %w", err)
	}
	r := NewRecorder(f)
	r.closer = f
	return r, nil
}

// Sent records bytes written to the child.
func (r *Recorder) Sent(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushPendingLocked()
	r.writeLocked(Event{Kind: KindSend, Data: string(p)})
	r.syncLocked()
}

// Received records one byte read from the child. Bytes are buffered until a
// line feed, the next Sent or Failed call, or Flush.
func (r *Recorder) Received(b byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, b)
	if b == '\n' {
		r.flushPendingLocked()
		r.syncLocked()
	}
}

// Failed records the fatal error that ended a session.
func (r *Recorder) Failed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushPendingLocked()
	r.writeLocked(Event{Kind: KindFatal, Error: err.Error()})
	r.syncLocked()
}

// Flush writes buffered received bytes and returns the first write error.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushPendingLocked()
	r.syncLocked()
	return r.err
}

// Close flushes and closes the file opened by Create.
func (r *Recorder) Close() error {
	err := r.Flush()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
		r.closer = nil
	}
	return err
}

func (r *Recorder) flushPendingLocked() {
	if len(r.pending) == 0 {
		return
	}
	r.writeLocked(Event{Kind: KindRecv, Data: string(r.pending)})
	r.pending = r.pending[:0]
}

func (r *Recorder) writeLocked(ev Event) {
	if r.err != nil {
		return
	}
	ev.Time = r.now()
	data, err := json.Marshal(ev)
	if err != nil {
		r.err = fmt.Errorf("marshal event: %w", err)
		return
	}
	data = append(data, '\n')
	if _, err := r.w.Write(data); err != nil {
		r.err = fmt.Errorf("write event: %w", err)
	}
}

// syncLocked pushes complete lines to the underlying writer so tail
// readers see them.
func (r *Recorder) syncLocked() {
	if r.err != nil {
		return
	}
	if err := r.w.Flush(); err != nil {
		r.err = fmt.Errorf("write event: %w", err)
	}
}
