package config

import "time"

// Config represents the complete deckrelay configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Relay     RelayConfig     `yaml:"relay"`
	Transport TransportConfig `yaml:"transport"`
	API       APIConfig       `yaml:"api,omitempty"`

	// Path and Fingerprint describe the file the config was loaded from.
	// Both are empty when running on defaults.
	Path        string `yaml:"-"`
	Fingerprint string `yaml:"-"`
}

// ServiceConfig defines process-wide settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// LockDir holds per-plugin instance locks. Empty means a deckrelay
	// directory under the system temp dir.
	LockDir string `yaml:"lock_dir"`
}

// RelayConfig defines the rendezvous broker and its clients.
type RelayConfig struct {
	Host         string        `yaml:"host"`
	BasePort     int           `yaml:"base_port"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// JournalPath enables the SQLite journal of broker decisions when set.
	JournalPath string `yaml:"journal_path"`
}

// TransportConfig defines the host connection.
type TransportConfig struct {
	Host             string        `yaml:"host"`
	ReadChunk        int           `yaml:"read_chunk"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// APIConfig defines the loopback inspection server.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// Tokens enable bearer authentication. Values may use ${ENV} references.
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken is a bearer token and the scopes it grants.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "deckrelay",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Relay: RelayConfig{
			Host:         "127.0.0.1",
			BasePort:     17423,
			ProbeTimeout: 2 * time.Second,
			RetryBackoff: 5 * time.Second,
		},
		Transport: TransportConfig{
			Host:             "localhost",
			ReadChunk:        1024,
			HandshakeTimeout: 10 * time.Second,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:17480",
		},
	}
}
