package nanoweb

import (
	"encoding/json"
	"fmt"
	"net"
	"net/textproto"
	"os"
	"strconv"
	"time"
)

const (
	// DefaultAddress is the address the server binds when none is configured.
	DefaultAddress = "0.0.0.0"

	// DefaultPort is the listen port when none is configured.
	DefaultPort = 80

	// DefaultChunkSize is the file streaming read size.
	DefaultChunkSize = 4096

	// DefaultMaxChain bounds handler-returns-handler redispatch.
	DefaultMaxChain = 32
)

// DefaultExtractHeaders is the allow-list of request headers retained on a
// Request. Anything else is read and discarded.
var DefaultExtractHeaders = []string{
	"Authorization",
	"Content-Length",
	"Content-Type",
	"Host",
	"Connection",
	"Upgrade",
	"Origin",
	"Sec-WebSocket-Key",
	"Sec-WebSocket-Version",
	"Sec-WebSocket-Protocol",
	"Sec-WebSocket-Extensions",
}

// Duration is a time.Duration that reads and writes JSON as "5s" strings.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Bare numbers are nanoseconds.
		n, nerr := strconv.ParseInt(string(b), 10, 64)
		if nerr != nil {
			return fmt.Errorf("duration must be a string or integer: %w", err)
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// WebSocketConfig tunes connections handed to the WebSocket upgrader.
type WebSocketConfig struct {
	MaxMessageSize int64    `json:"max_message_size,omitempty"`
	ReadTimeout    Duration `json:"read_timeout,omitempty"`
	WriteTimeout   Duration `json:"write_timeout,omitempty"`
	PingInterval   Duration `json:"ping_interval,omitempty"`
	CheckOrigin    bool     `json:"check_origin,omitempty"`
}

// Config holds server and dispatch settings.
type Config struct {
	Address string `json:"address,omitempty"`
	Port    int    `json:"port,omitempty"`

	// ExtractHeaders lists the request headers kept on each Request.
	ExtractHeaders []string `json:"extract_headers,omitempty"`

	// StaticDir is the root for TemplateVars handlers, which render the file
	// named after the request path.
	StaticDir string `json:"static_dir,omitempty"`

	ChunkSize      int   `json:"chunk_size,omitempty"`
	MaxChain       int   `json:"max_chain,omitempty"`
	MaxHeaderBytes int   `json:"max_header_bytes,omitempty"`
	MaxBodyBytes   int64 `json:"max_body_bytes,omitempty"`

	// ReadTimeout and WriteTimeout are applied as connection deadlines.
	// Zero disables them.
	ReadTimeout  Duration `json:"read_timeout,omitempty"`
	WriteTimeout Duration `json:"write_timeout,omitempty"`

	WebSocket WebSocketConfig `json:"websocket,omitempty"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Address:        DefaultAddress,
		Port:           DefaultPort,
		ExtractHeaders: append([]string(nil), DefaultExtractHeaders...),
		StaticDir:      ".",
		ChunkSize:      DefaultChunkSize,
		MaxChain:       DefaultMaxChain,
		MaxHeaderBytes: 8 << 10,
		MaxBodyBytes:   1 << 20,
		WebSocket: WebSocketConfig{
			MaxMessageSize: 1 << 20,
			ReadTimeout:    Duration(60 * time.Second),
			WriteTimeout:   Duration(10 * time.Second),
			PingInterval:   Duration(30 * time.Second),
		},
	}
}

// LoadConfig reads a JSON config file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

// ListenAddr joins Address and Port.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// normalize fills zero values with defaults.
func (c *Config) normalize() {
	d := DefaultConfig()
	if c.Address == "" {
		c.Address = d.Address
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.ExtractHeaders == nil {
		c.ExtractHeaders = d.ExtractHeaders
	}
	if c.StaticDir == "" {
		c.StaticDir = d.StaticDir
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.MaxChain <= 0 {
		c.MaxChain = d.MaxChain
	}
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = d.MaxHeaderBytes
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	ws := &c.WebSocket
	if ws.MaxMessageSize <= 0 {
		ws.MaxMessageSize = d.WebSocket.MaxMessageSize
	}
	if ws.ReadTimeout <= 0 {
		ws.ReadTimeout = d.WebSocket.ReadTimeout
	}
	if ws.WriteTimeout <= 0 {
		ws.WriteTimeout = d.WebSocket.WriteTimeout
	}
	if ws.PingInterval <= 0 {
		ws.PingInterval = d.WebSocket.PingInterval
	}
}

// headerSet builds the canonical allow-list lookup.
func (c Config) headerSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.ExtractHeaders))
	for _, h := range c.ExtractHeaders {
		set[textproto.CanonicalMIMEHeaderKey(h)] = struct{}{}
	}
	return set
}
