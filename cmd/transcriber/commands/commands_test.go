package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigCommandPrintsEffectiveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("upload:\n  mode: tus\n  endpoint: https://x/storage/v1/upload/resumable\n  bucket: audio\n  token: secret-token\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	var out bytes.Buffer
	Root.SetOut(&out)
	Root.SetArgs([]string{"config", "--config", path, "--server", "http://api.local"})
	if err := Root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "server: http://api.local") {
		t.Fatalf("server override missing:\n%s", got)
	}
	if strings.Contains(got, "secret-token") || !strings.Contains(got, "[redacted]") {
		t.Fatalf("token should be redacted:\n%s", got)
	}
}

func TestRunRequiresFileArgument(t *testing.T) {
	Root.SetArgs([]string{"run"})
	Root.SetOut(&bytes.Buffer{})
	Root.SetErr(&bytes.Buffer{})
	if err := Root.Execute(); err == nil {
		t.Fatalf("want error without a file argument")
	}
}
