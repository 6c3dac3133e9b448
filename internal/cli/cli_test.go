package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFile(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PMEMBED_TEST_ONLY=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PMEMBED_TEST_ONLY", "")
	os.Unsetenv("PMEMBED_TEST_ONLY")
	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile: %v", err)
	}
	if got := os.Getenv("PMEMBED_TEST_ONLY"); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"serve", "watch", "alerts", "cleanup", "token", "track", "export", "simulate-alert", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("command %q not registered", name)
		}
	}
}
