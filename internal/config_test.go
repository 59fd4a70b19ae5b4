package internal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadServerConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.toml")
	content := "port = 6969\nroot_dir = \"/srv/tftp\"\nallow_delete = true\nmax_sessions = 4\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.Port != 6969 {
		t.Errorf("port: expected 6969, got %d", cfg.Port)
	}
	if cfg.RootDir != "/srv/tftp" {
		t.Errorf("root_dir: expected /srv/tftp, got %q", cfg.RootDir)
	}
	if !cfg.AllowDelete {
		t.Error("allow_delete should be true")
	}
	if cfg.MaxSessions != 4 {
		t.Errorf("max_sessions: expected 4, got %d", cfg.MaxSessions)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log_level default: expected info, got %q", cfg.LogLevel)
	}
	if cfg.ServerId == "" {
		t.Error("server_id should default to a generated id")
	}
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{name: "defaults", cfg: ServerConfig{Port: 69}},
		{name: "bad port", cfg: ServerConfig{Port: 70000}, wantErr: true},
		{name: "overwrite without writes", cfg: ServerConfig{Port: 69, AllowOverwrite: true, DisableWrite: true}, wantErr: true},
		{name: "negative sessions", cfg: ServerConfig{Port: 69, MaxSessions: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClientConfigSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "client.toml")
	cfg := &ClientConfig{Port: 1069, Mode: "netascii", LogLevel: "debug"}

	written, err := cfg.Save(path)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if written != path {
		t.Errorf("expected %s, got %s", path, written)
	}

	loaded, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("expected %+v, got %+v", *cfg, *loaded)
	}
}

func TestConfigureLogger(t *testing.T) {
	defer SetLogLevel(LevelInfo)

	if err := ConfigureLogger("DEBUG"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if getLevel() != LevelDebug {
		t.Errorf("expected debug level")
	}
	if err := ConfigureLogger("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
	if getLevel() != LevelInfo {
		t.Errorf("unknown level should fall back to info")
	}
}
