// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// StorageMode selects the storage backend bound at startup.
type StorageMode string

const (
	// ModeFilesystem persists documents directly on local disk.
	ModeFilesystem StorageMode = "filesystem"

	// ModeRemote talks to a marcalink server over a WebSocket.
	ModeRemote StorageMode = "remote"
)

// StorageConfig holds settings for the storage facade.
type StorageConfig struct {
	// Mode selects the backend: filesystem or remote.
	Mode StorageMode `json:"mode" yaml:"mode" mapstructure:"mode"`

	// BaseDir is the data directory of the filesystem backend
	// (contains config.json and one directory per project).
	BaseDir string `json:"base_dir" yaml:"base_dir" mapstructure:"base_dir"`
}

// ServerConfig holds settings for the WebSocket server.
type ServerConfig struct {
	// Addr is the listen address (default ":8080").
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`

	// Path is the WebSocket endpoint path (default "/ws").
	Path string `json:"path" yaml:"path" mapstructure:"path"`
}

// ClientConfig holds settings for the remote backend.
type ClientConfig struct {
	// URL is the server WebSocket URL (e.g. "ws://localhost:8080/ws").
	URL string `json:"url" yaml:"url" mapstructure:"url"`

	// OpenTimeout bounds how long a request waits for the connection to
	// open before it is treated as not connected (default 5s).
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout" mapstructure:"open_timeout"`

	// RequestTimeout bounds how long a request waits for its reply (default 30s).
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" mapstructure:"request_timeout"`

	// ReconnectMin is the first reconnect delay; it doubles up to ReconnectMax.
	ReconnectMin time.Duration `json:"reconnect_min" yaml:"reconnect_min" mapstructure:"reconnect_min"`

	// ReconnectMax caps the reconnect delay (default 30s).
	ReconnectMax time.Duration `json:"reconnect_max" yaml:"reconnect_max" mapstructure:"reconnect_max"`

	// CacheFile is the SQLite file backing the local cache and backup queue.
	// Empty keeps the cache in memory.
	CacheFile string `json:"cache_file" yaml:"cache_file" mapstructure:"cache_file"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error (default info).
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// File, when set, receives logs through a rotating writer instead of stderr.
	File string `json:"file,omitempty" yaml:"file,omitempty" mapstructure:"file"`

	// MaxSizeMB is the rotation threshold of File (default 10).
	MaxSizeMB int `json:"max_size_mb" yaml:"max_size_mb" mapstructure:"max_size_mb"`

	// MaxBackups is the number of rotated files kept (default 3).
	MaxBackups int `json:"max_backups" yaml:"max_backups" mapstructure:"max_backups"`
}

// Config groups all marcalink settings.
type Config struct {
	Storage StorageConfig `json:"storage" yaml:"storage" mapstructure:"storage"`
	Server  ServerConfig  `json:"server" yaml:"server" mapstructure:"server"`
	Client  ClientConfig  `json:"client" yaml:"client" mapstructure:"client"`
	Log     LogConfig     `json:"log" yaml:"log" mapstructure:"log"`
}

// Defaults.
const (
	DefaultServerAddr     = ":8080"
	DefaultServerPath     = "/ws"
	DefaultOpenTimeout    = 5 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultReconnectMin   = 500 * time.Millisecond
	DefaultReconnectMax   = 30 * time.Second
)

// DefaultConfig returns the configuration used when no file or environment
// override is present.
func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{Mode: ModeFilesystem, BaseDir: "user_data"},
		Server:  ServerConfig{Addr: DefaultServerAddr, Path: DefaultServerPath},
		Client: ClientConfig{
			URL:            "ws://localhost:8080/ws",
			OpenTimeout:    DefaultOpenTimeout,
			RequestTimeout: DefaultRequestTimeout,
			ReconnectMin:   DefaultReconnectMin,
			ReconnectMax:   DefaultReconnectMax,
		},
		Log: LogConfig{Level: "info", MaxSizeMB: 10, MaxBackups: 3},
	}
}

// WithDefaults fills zero-valued client timing fields.
func (c ClientConfig) WithDefaults() ClientConfig {
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = DefaultOpenTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = DefaultReconnectMin
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = DefaultReconnectMax
		if c.ReconnectMax < c.ReconnectMin {
			c.ReconnectMax = c.ReconnectMin
		}
	}
	return c
}
