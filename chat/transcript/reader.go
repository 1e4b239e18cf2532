package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ParseEvent decodes one transcript line.
func ParseEvent(line []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	if ev.Kind == "" {
		return nil, fmt.Errorf("parse event: missing kind")
	}
	return &ev, nil
}

// Reader reads transcript files.
type Reader struct {
	path string
	file *os.File
}

// NewReader opens the transcript at path.
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	return &Reader{path: path, file: file}, nil
}

// Path returns the file path being read.
func (r *Reader) Path() string {
	return r.path
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// ReadAll reads every event in the file. Malformed lines are skipped.
func (r *Reader) ReadAll() ([]Event, error) {
	events, _, err := r.ReadFrom(0)
	return events, err
}

// ReadFrom reads events starting at a byte offset and returns the offset
// after the last complete line.
func (r *Reader) ReadFrom(offset int64) ([]Event, int64, error) {
	if _, err := r.file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek to offset: %w", err)
	}

	var events []Event
	reader := bufio.NewReader(r.file)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			// A trailing partial line is left for the next call.
			if err == io.EOF {
				break
			}
			return events, offset, fmt.Errorf("read transcript: %w", err)
		}
		offset += int64(len(line))
		if ev, perr := ParseEvent(line[:len(line)-1]); perr == nil {
			events = append(events, *ev)
		}
	}
	return events, offset, nil
}

// Tail follows the file and sends events appended after the call.
// The channel is closed when ctx is cancelled.
// Uses fsnotify with a polling fallback.
func (r *Reader) Tail(ctx context.Context) <-chan Event {
	ch := make(chan Event, 100)

	go func() {
		defer close(ch)

		offset, err := r.file.Seek(0, io.SeekEnd)
		if err != nil {
			return
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			r.tailPolling(ctx, ch, offset)
			return
		}
		defer watcher.Close()

		// Watching the directory survives editors and log rotation that
		// replace the file.
		if err := watcher.Add(filepath.Dir(r.path)); err != nil {
			r.tailPolling(ctx, ch, offset)
			return
		}

		r.tailWithWatcher(ctx, ch, watcher, offset)
	}()

	return ch
}

func (r *Reader) tailWithWatcher(ctx context.Context, ch chan<- Event, watcher *fsnotify.Watcher, offset int64) {
	baseName := filepath.Base(r.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != baseName || !event.Has(fsnotify.Write) {
				continue
			}
			offset = r.readNew(ctx, ch, offset)

		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (r *Reader) tailPolling(ctx context.Context, ch chan<- Event, offset int64) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			offset = r.readNew(ctx, ch, offset)
		}
	}
}

// readNew sends events after offset, restarting from the top if the file
// was truncated.
func (r *Reader) readNew(ctx context.Context, ch chan<- Event, offset int64) int64 {
	info, err := r.file.Stat()
	if err != nil {
		return offset
	}
	if info.Size() < offset {
		offset = 0
	}
	events, next, err := r.ReadFrom(offset)
	if err != nil {
		return offset
	}
	for _, ev := range events {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return next
		}
	}
	return next
}

// ReadFile reads all events from the transcript at path.
func ReadFile(path string) ([]Event, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadAll()
}

// Summary holds aggregate statistics for a transcript.
type Summary struct {
	Events        int
	Sends         int
	Receives      int
	BytesSent     int
	BytesReceived int
	Fatal         string // error text of the fatal event, if any
	First         time.Time
	Last          time.Time
}

// Summarize reads the transcript at path and aggregates it.
func Summarize(path string) (*Summary, error) {
	events, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return summarize(events), nil
}

func summarize(events []Event) *Summary {
	s := &Summary{}
	for _, ev := range events {
		s.Events++
		if s.First.IsZero() {
			s.First = ev.Time
		}
		s.Last = ev.Time

		switch ev.Kind {
		case KindSend:
			s.Sends++
			s.BytesSent += len(ev.Data)
		case KindRecv:
			s.Receives++
			s.BytesReceived += len(ev.Data)
		case KindFatal:
			s.Fatal = ev.Error
		}
	}
	return s
}

// Lines joins the received data of events and splits it into terminal
// lines with "\r" and "\n" trimmed.
func Lines(events []Event) []string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Kind == KindRecv {
			b.WriteString(ev.Data)
		}
	}
	out := strings.Split(b.String(), "\n")
	if len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	for i, l := range out {
		out[i] = strings.TrimRight(l, "\r")
	}
	return out
}
