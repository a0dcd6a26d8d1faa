package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/deckrelay/internal/auth"
)

// EnvConfig names the environment variable consulted when no --config flag
// is given.
const EnvConfig = "DECKRELAY_CONFIG"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Discover resolves the config file path. Priority order: explicit path,
// $DECKRELAY_CONFIG, ~/.config/deckrelay/config.yaml. An empty result with
// a nil error means run on defaults.
func Discover(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if p := os.Getenv(EnvConfig); p != "" {
		return p, nil
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "deckrelay", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// Load reads and parses configuration from a file. An empty path returns
// Defaults.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		cfg := Defaults()
		return cfg, validate(cfg)
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.Path = absPath
	cfg.Fingerprint = Fingerprint(data)
	return cfg, nil
}

// Parse interpolates ${VAR} references, decodes YAML, applies defaults and
// validates.
func Parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(interpolated))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyConfigDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Fingerprint is the BLAKE3 hash of the raw config bytes, hex encoded.
func Fingerprint(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// applyConfigDefaults fills zero values from Defaults.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Relay.Host == "" {
		cfg.Relay.Host = defaults.Relay.Host
	}
	if cfg.Relay.BasePort == 0 {
		cfg.Relay.BasePort = defaults.Relay.BasePort
	}
	if cfg.Relay.ProbeTimeout == 0 {
		cfg.Relay.ProbeTimeout = defaults.Relay.ProbeTimeout
	}
	if cfg.Relay.RetryBackoff == 0 {
		cfg.Relay.RetryBackoff = defaults.Relay.RetryBackoff
	}

	if cfg.Transport.Host == "" {
		cfg.Transport.Host = defaults.Transport.Host
	}
	if cfg.Transport.ReadChunk == 0 {
		cfg.Transport.ReadChunk = defaults.Transport.ReadChunk
	}
	if cfg.Transport.HandshakeTimeout == 0 {
		cfg.Transport.HandshakeTimeout = defaults.Transport.HandshakeTimeout
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
}

// interpolateEnv replaces ${VAR} with its value. Unset variables are left in
// place and rejected by validate.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Relay.BasePort < 1 || cfg.Relay.BasePort > 65535 {
		return fmt.Errorf("relay.base_port must be in 1-65535 (got %d)", cfg.Relay.BasePort)
	}
	if cfg.Relay.ProbeTimeout < 0 || cfg.Relay.RetryBackoff < 0 {
		return fmt.Errorf("relay.probe_timeout and relay.retry_backoff must not be negative")
	}
	if m := envVarPattern.FindStringSubmatch(cfg.Relay.JournalPath); m != nil {
		return fmt.Errorf("relay.journal_path: environment variable ${%s} is not set", m[1])
	}
	if m := envVarPattern.FindStringSubmatch(cfg.Service.LockDir); m != nil {
		return fmt.Errorf("service.lock_dir: environment variable ${%s} is not set", m[1])
	}

	if cfg.Transport.ReadChunk < 1 {
		return fmt.Errorf("transport.read_chunk must be positive (got %d)", cfg.Transport.ReadChunk)
	}
	if cfg.Transport.HandshakeTimeout < 0 {
		return fmt.Errorf("transport.handshake_timeout must not be negative")
	}

	if cfg.API.Enabled {
		host, _, err := net.SplitHostPort(cfg.API.Listen)
		if err != nil {
			return fmt.Errorf("api.listen %q: %w", cfg.API.Listen, err)
		}
		if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			return fmt.Errorf("api.listen must be a loopback address (got %q)", cfg.API.Listen)
		}
	}
	for i, tok := range cfg.API.Tokens {
		if m := envVarPattern.FindStringSubmatch(tok.Token); m != nil {
			return fmt.Errorf("api.tokens[%d].token: environment variable ${%s} is not set", i, m[1])
		}
		if strings.TrimSpace(tok.Token) == "" {
			return fmt.Errorf("api.tokens[%d].token is empty", i)
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("api.tokens[%d].scopes must not be empty", i)
		}
		for _, scope := range tok.Scopes {
			if !auth.IsKnownScope(scope) {
				return fmt.Errorf("api.tokens[%d]: unknown scope %q (known: %s)", i, scope, strings.Join(auth.KnownScopes, ", "))
			}
		}
	}
	return nil
}
