package chat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/chatkit/chat/transcript"
)

// Config holds session configuration that can be loaded from files or the
// environment.
type Config struct {
	// MaxLineLength bounds ReadLine, counting the line feed.
	// Default: 512.
	MaxLineLength int `json:"max_line_length" yaml:"max_line_length" toml:"max_line_length" jsonschema:"minimum=2"`

	// PromptSentinels lists the bytes that end a shell prompt.
	// Default: "#$".
	PromptSentinels string `json:"prompt_sentinels" yaml:"prompt_sentinels" toml:"prompt_sentinels"`

	// ReadTimeout bounds each blocking read when the inbound stream supports
	// deadlines. Zero means block forever.
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout" toml:"read_timeout"`

	// BufferSize is the size of the inbound and outbound buffers.
	// Default: 4096.
	BufferSize int `json:"buffer_size" yaml:"buffer_size" toml:"buffer_size"`

	// TranscriptPath, when set, records the dialogue as JSONL to this file.
	TranscriptPath string `json:"transcript_path" yaml:"transcript_path" toml:"transcript_path"`

	// CloseStreams makes Session.Close close the underlying streams.
	CloseStreams bool `json:"close_streams" yaml:"close_streams" toml:"close_streams"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxLineLength:   DefaultMaxLineLength,
		PromptSentinels: DefaultPromptSentinels,
		BufferSize:      DefaultBufferSize,
	}
}

// LoadFromEnv populates config fields from environment variables.
// Environment variables use the CHAT_ prefix and take precedence over
// existing values. Unparseable values are ignored.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("CHAT_MAX_LINE_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxLineLength = n
		}
	}
	if v := os.Getenv("CHAT_PROMPT_SENTINELS"); v != "" {
		c.PromptSentinels = v
	}
	if v := os.Getenv("CHAT_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ReadTimeout = d
		}
	}
	if v := os.Getenv("CHAT_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BufferSize = n
		}
	}
	if v := os.Getenv("CHAT_TRANSCRIPT_PATH"); v != "" {
		c.TranscriptPath = v
	}
	if v := os.Getenv("CHAT_CLOSE_STREAMS"); v == "true" || v == "1" {
		c.CloseStreams = true
	}
}

// FromEnv creates a Config from environment variables with defaults.
func FromEnv() Config {
	cfg := DefaultConfig()
	cfg.LoadFromEnv()
	return cfg
}

// LoadConfigFile reads a YAML, TOML or JSON file (chosen by extension) over
// the defaults and validates the result.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxLineLength < 2 {
		return fmt.Errorf("max_line_length must be >= 2, got %d", c.MaxLineLength)
	}
	if c.PromptSentinels == "" {
		return fmt.Errorf("prompt_sentinels is required")
	}
	if strings.ContainsRune(c.PromptSentinels, ' ') {
		return fmt.Errorf("prompt_sentinels must not contain a space")
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("read_timeout must be >= 0, got %v", c.ReadTimeout)
	}
	if c.BufferSize != 0 && c.BufferSize < 16 {
		return fmt.Errorf("buffer_size must be >= 16, got %d", c.BufferSize)
	}
	return nil
}

// ToOptions converts the config to functional options.
// The transcript is not included; see OpenTranscript.
func (c *Config) ToOptions() []Option {
	opts := make([]Option, 0, 5)

	if c.MaxLineLength > 0 {
		opts = append(opts, WithMaxLineLength(c.MaxLineLength))
	}
	if c.PromptSentinels != "" {
		opts = append(opts, WithPromptSentinels([]byte(c.PromptSentinels)...))
	}
	if c.ReadTimeout > 0 {
		opts = append(opts, WithReadTimeout(c.ReadTimeout))
	}
	if c.BufferSize > 0 {
		opts = append(opts, WithBufferSize(c.BufferSize))
	}
	if c.CloseStreams {
		opts = append(opts, WithCloseStreams())
	}

	return opts
}

// OpenTranscript creates the recorder for TranscriptPath. It returns nil
// when no path is configured. The caller closes the recorder.
func (c *Config) OpenTranscript() (*transcript.Recorder, error) {
	if c.TranscriptPath == "" {
		return nil, nil
	}
	return transcript.Create(c.TranscriptPath)
}

// ConfigSchema returns the JSON Schema describing Config files.
func ConfigSchema() ([]byte, error) {
	r := &jsonschema.Reflector{ExpandedStruct: true}
	schema := r.Reflect(&Config{})
	schema.Title = "chat session configuration"
	return json.MarshalIndent(schema, "", "  ")
}
