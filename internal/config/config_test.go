package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lspwire.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  command: gopls
  args: ["-remote=auto"]
  env:
    GOFLAGS: -mod=mod
root: /ws
request_timeout: 10s
trace: messages
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Command != "gopls" {
		t.Errorf("Command = %q", cfg.Server.Command)
	}
	if len(cfg.Server.Args) != 1 || cfg.Server.Args[0] != "-remote=auto" {
		t.Errorf("Args = %v", cfg.Server.Args)
	}
	if cfg.Server.Env["GOFLAGS"] != "-mod=mod" {
		t.Errorf("Env = %v", cfg.Server.Env)
	}
	if cfg.RequestTimeout.Std() != 10*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.Trace != "messages" {
		t.Errorf("Trace = %q", cfg.Trace)
	}
	if cfg.Root != "/ws" {
		t.Errorf("Root = %q", cfg.Root)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
server:
  command: gopls
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout.Std() != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want default 30s", cfg.RequestTimeout)
	}
	if cfg.Trace != "off" {
		t.Errorf("Trace = %q, want default off", cfg.Trace)
	}
	// Root defaults to the config file's directory.
	if cfg.Root != filepath.Dir(path) {
		t.Errorf("Root = %q, want %q", cfg.Root, filepath.Dir(path))
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name:    "missing command",
			content: "root: /ws\n",
			wantMsg: "server.command is required",
		},
		{
			name:    "bad trace level",
			content: "server:\n  command: gopls\ntrace: loud\n",
			wantMsg: "unknown level",
		},
		{
			name:    "negative timeout",
			content: "server:\n  command: gopls\nrequest_timeout: -5s\n",
			wantMsg: "must not be negative",
		},
		{
			name:    "unknown field",
			content: "server:\n  command: gopls\nbanana: true\n",
			wantMsg: "banana",
		},
		{
			name:    "invalid yaml",
			content: "server: [unclosed\n",
			wantMsg: "parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %v, want %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() succeeded for missing file")
	}
}

func TestClientCapabilities_Overrides(t *testing.T) {
	path := writeConfig(t, `
server:
  command: gopls
capabilities:
  textDocument.synchronization.didSave: false
  workspace.newFeature: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	caps, err := cfg.ClientCapabilities()
	if err != nil {
		t.Fatalf("ClientCapabilities() error = %v", err)
	}

	if got := gjson.GetBytes(caps, "textDocument.synchronization.didSave"); got.Bool() {
		t.Errorf("didSave = %v, want overridden to false", got)
	}
	if !gjson.GetBytes(caps, "workspace.newFeature").Bool() {
		t.Error("new path not set")
	}
	// Untouched defaults survive.
	if !gjson.GetBytes(caps, "textDocument.synchronization.didOpen").Exists() &&
		!gjson.GetBytes(caps, "textDocument.hover").Exists() {
		t.Error("default capabilities lost")
	}
}

func TestClientCapabilities_NoOverrides(t *testing.T) {
	caps, err := Default().ClientCapabilities()
	if err != nil {
		t.Fatalf("ClientCapabilities() error = %v", err)
	}
	if !gjson.ValidBytes(caps) {
		t.Fatal("default capabilities are not valid JSON")
	}
}
