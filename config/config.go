package config

import (
	"bytes"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultPort = "1935"

var Debug = false

// BuffioSize is the read buffer used when merged read is enabled.
const BuffioSize = 1024 * 64

// ReadBufferSize is the read buffer used otherwise. It still lets a whole chunk header be peeked.
const ReadBufferSize = 4096

const App = "app"

// DefaultChunkSize is the chunk size both directions start with, before any Set Chunk Size message.
const DefaultChunkSize uint32 = 128

// OutChunkSize is the chunk size the server and client announce after connecting.
const OutChunkSize uint32 = 4096

const MinChunkSize uint32 = 128
const MaxChunkSize uint32 = 65536

// DefaultWindowAckSize is honoured while the peer has not sent a Window Acknowledgement Size.
const DefaultWindowAckSize uint32 = 2500000
const DefaultClientWindowSize uint32 = 2500000
const DefaultPeerBandwidth uint32 = 2500000

// DefaultMaxMessageSize bounds a single reassembled message.
const DefaultMaxMessageSize uint32 = 10 * 1024 * 1024

// HeaderCacheSize is the scratch space for chunk headers of one vectored write.
const HeaderCacheSize = 16 * 1024

// MaxWriteSegments caps the buffers gathered before they are written out (Linux IOV_MAX).
const MaxWriteSegments = 1024

const DefaultPublishStream uint32 = 0
const DefaultStreamID uint32 = 1

const FlashMediaServerVersion string = "FMS/3,5,7,7009"
const FlashMediaServerSignature string = "3,5,3,888"

const Capabilities int = 31

const Mode int = 1

// Config holds the settings of cmd/rtmpserver.
type Config struct {
	Listen       string        `yaml:"listen"`
	App          string        `yaml:"app"`
	ChunkSize    uint32        `yaml:"chunk_size"`
	WindowAck    uint32        `yaml:"window_ack_size"`
	MaxMessage   uint32        `yaml:"max_message_size"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MergeRead    bool          `yaml:"merge_read"`
	LogLevel     string        `yaml:"log_level"`
}

// Load reads the configuration file at path. Unknown fields are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	cfg.setDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.Listen == "" {
		c.Listen = ":" + DefaultPort
	}
	if c.App == "" {
		c.App = App
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = OutChunkSize
	}
	if c.WindowAck == 0 {
		c.WindowAck = DefaultClientWindowSize
	}
	if c.MaxMessage == 0 {
		c.MaxMessage = DefaultMaxMessageSize
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate reports the first setting that is out of range.
func (c *Config) Validate() error {
	if c.ChunkSize < MinChunkSize || c.ChunkSize > MaxChunkSize {
		return errors.Errorf("chunk_size must be between %d and %d, got %d", MinChunkSize, MaxChunkSize, c.ChunkSize)
	}
	if c.MaxMessage > 0xFFFFFF {
		return errors.Errorf("max_message_size must fit in 24 bits, got %d", c.MaxMessage)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	return nil
}
