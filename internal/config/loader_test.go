package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
service:
  log_level: debug
relay:
  base_port: 18000
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.LogLevel != "debug" {
					t.Error("log_level not parsed")
				}
				if cfg.Relay.BasePort != 18000 {
					t.Error("base_port not parsed")
				}
				// Check defaults applied
				if cfg.Relay.ProbeTimeout != 2*time.Second || cfg.Relay.RetryBackoff != 5*time.Second {
					t.Errorf("relay timing defaults not applied: %+v", cfg.Relay)
				}
				if cfg.Transport.ReadChunk != 1024 {
					t.Error("read_chunk default not applied")
				}
				if cfg.Service.Name != "deckrelay" {
					t.Error("service name default not applied")
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
relay:
  journal_path: ${JOURNAL_DIR}/relay.db
api:
  enabled: true
  listen: ${API_LISTEN}
`,
			env: map[string]string{
				"JOURNAL_DIR": "/tmp/deckrelay",
				"API_LISTEN":  "127.0.0.1:9999",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Relay.JournalPath != "/tmp/deckrelay/relay.db" {
					t.Errorf("journal_path = %q", cfg.Relay.JournalPath)
				}
				if cfg.API.Listen != "127.0.0.1:9999" {
					t.Errorf("api.listen = %q", cfg.API.Listen)
				}
			},
		},
		{
			name: "durations",
			yaml: `
relay:
  probe_timeout: 500ms
  retry_backoff: 1m
transport:
  handshake_timeout: 3s
  read_chunk: 4096
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Relay.ProbeTimeout != 500*time.Millisecond || cfg.Relay.RetryBackoff != time.Minute {
					t.Errorf("relay durations = %+v", cfg.Relay)
				}
				if cfg.Transport.HandshakeTimeout != 3*time.Second || cfg.Transport.ReadChunk != 4096 {
					t.Errorf("transport = %+v", cfg.Transport)
				}
			},
		},
		{
			name:    "unset env var in journal path",
			yaml:    "relay:\n  journal_path: ${DECKRELAY_TEST_UNSET_VAR}\n",
			wantErr: "DECKRELAY_TEST_UNSET_VAR",
		},
		{
			name:    "invalid log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "service.log_level",
		},
		{
			name:    "invalid log format",
			yaml:    "service:\n  log_format: xml\n",
			wantErr: "service.log_format",
		},
		{
			name:    "port out of range",
			yaml:    "relay:\n  base_port: 70000\n",
			wantErr: "relay.base_port",
		},
		{
			name:    "api must be loopback",
			yaml:    "api:\n  enabled: true\n  listen: 0.0.0.0:8080\n",
			wantErr: "loopback",
		},
		{
			name: "api tokens",
			yaml: `
service:
  lock_dir: /tmp/deckrelay-locks
api:
  enabled: true
  tokens:
    - token: ${DECK_TOKEN}
      scopes: ['relay:ro', 'events:ro']
`,
			env: map[string]string{"DECK_TOKEN": "s3cret"},
			checkFn: func(t *testing.T, cfg *Config) {
				if len(cfg.API.Tokens) != 1 || cfg.API.Tokens[0].Token != "s3cret" {
					t.Errorf("tokens = %+v", cfg.API.Tokens)
				}
				if cfg.Service.LockDir != "/tmp/deckrelay-locks" {
					t.Errorf("lock_dir = %q", cfg.Service.LockDir)
				}
			},
		},
		{
			name:    "unknown token scope",
			yaml:    "api:\n  tokens:\n    - token: x\n      scopes: ['jobs:rw']\n",
			wantErr: "unknown scope",
		},
		{
			name:    "token without scopes",
			yaml:    "api:\n  tokens:\n    - token: x\n",
			wantErr: "scopes must not be empty",
		},
		{
			name:    "unset env var in token",
			yaml:    "api:\n  tokens:\n    - token: ${DECKRELAY_TEST_UNSET_TOKEN}\n      scopes: ['*']\n",
			wantErr: "DECKRELAY_TEST_UNSET_TOKEN",
		},
		{
			name:    "unknown field",
			yaml:    "relay:\n  base_prot: 1\n",
			wantErr: "failed to parse YAML",
		},
		{
			name: "empty file uses defaults",
			yaml: "",
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Relay.BasePort != 17423 {
					t.Errorf("base_port = %d", cfg.Relay.BasePort)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o600); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if cfg.Path != path {
				t.Errorf("Path = %q, want %q", cfg.Path, path)
			}
			if cfg.Fingerprint != Fingerprint([]byte(tt.yaml)) {
				t.Error("fingerprint does not match file contents")
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDefaultsWithoutPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.Path != "" || cfg.Fingerprint != "" {
		t.Error("defaults must not carry a source path or fingerprint")
	}
	if cfg.Relay.BasePort != Defaults().Relay.BasePort {
		t.Error("defaults not returned")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("relay:\n  base_port: 20000\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) failed: %v", err)
	}
	if cfg.Relay.BasePort != 20000 {
		t.Errorf("base_port = %d", cfg.Relay.BasePort)
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint([]byte("relay:\n  base_port: 1\n"))
	b := Fingerprint([]byte("relay:\n  base_port: 1\n"))
	c := Fingerprint([]byte("relay:\n  base_port: 2\n"))
	if a != b {
		t.Error("fingerprint not stable")
	}
	if a == c {
		t.Error("fingerprint ignores content")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func TestDiscover(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	t.Setenv(EnvConfig, "")
	got, err := Discover("")
	if err != nil || got != "" {
		t.Fatalf("Discover() = %q, %v; want empty", got, err)
	}

	t.Setenv(EnvConfig, "/etc/deckrelay.yaml")
	if got, _ := Discover(""); got != "/etc/deckrelay.yaml" {
		t.Errorf("env discovery = %q", got)
	}
	if got, _ := Discover("./explicit.yaml"); got != "./explicit.yaml" {
		t.Errorf("explicit path = %q", got)
	}
}
