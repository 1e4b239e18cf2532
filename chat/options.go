package chat

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/chatkit/chat/transcript"
)

// DefaultMaxLineLength bounds ReadLine, counting the line feed. A line with
// no line feed comes back in pieces of up to this many bytes. This is one
// byte more than a C fgets with a buffer of the same size, which reserves
// the last byte for the terminating NUL.
const DefaultMaxLineLength = 512

// DefaultPromptSentinels are the bytes that end a shell prompt, each
// followed by exactly one space.
const DefaultPromptSentinels = "#$"

// DefaultBufferSize is the size of the inbound and outbound buffers.
const DefaultBufferSize = 4096

// Option configures a Session.
type Option func(*sessionConfig)

// sessionConfig holds session configuration.
type sessionConfig struct {
	maxLineLength int
	sentinels     []byte
	bufferSize    int
	readTimeout   time.Duration
	closeStreams  bool

	logger     *slog.Logger
	transcript *transcript.Recorder
}

// defaultConfig returns the default session configuration.
func defaultConfig() sessionConfig {
	return sessionConfig{
		maxLineLength: DefaultMaxLineLength,
		sentinels:     []byte(DefaultPromptSentinels),
		bufferSize:    DefaultBufferSize,
	}
}

// WithMaxLineLength sets the longest line ReadLine returns in one call,
// counting the line feed. Values below 2 are ignored.
func WithMaxLineLength(n int) Option {
	return func(c *sessionConfig) {
		if n >= 2 {
			c.maxLineLength = n
		}
	}
}

// WithPromptSentinels replaces the bytes SwallowPrompt treats as the end of
// a prompt. An empty list is ignored.
func WithPromptSentinels(sentinels ...byte) Option {
	return func(c *sessionConfig) {
		if len(sentinels) > 0 {
			c.sentinels = append([]byte(nil), sentinels...)
		}
	}
}

// WithBufferSize sets the size of the inbound and outbound buffers.
func WithBufferSize(n int) Option {
	return func(c *sessionConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithReadTimeout bounds every blocking read on the inbound stream.
// It only takes effect when the stream supports SetReadDeadline; an expired
// deadline is reported as a lost connection.
func WithReadTimeout(d time.Duration) Option {
	return func(c *sessionConfig) { c.readTimeout = d }
}

// WithCloseStreams makes Close also close the underlying streams when they
// implement io.Closer. By default the caller keeps ownership of them.
func WithCloseStreams() Option {
	return func(c *sessionConfig) { c.closeStreams = true }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *sessionConfig) { c.logger = l }
}

// WithTranscript records everything sent and received.
func WithTranscript(r *transcript.Recorder) Option {
	return func(c *sessionConfig) { c.transcript = r }
}
