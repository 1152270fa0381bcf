package system

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "# stream settings\nSTREAMER_TEST_DEST=10.0.0.2:8888\nSTREAMER_TEST_KEPT=from-file\n"
	if err := os.WriteFile(filepath.Join(root, ".env.test"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	chdir(t, nested)
	t.Setenv("STREAMER_TEST_KEPT", "from-env")
	t.Setenv("STREAMER_TEST_DEST", "")
	os.Unsetenv("STREAMER_TEST_DEST")

	if err := LoadEnv(".env.test"); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("STREAMER_TEST_DEST"); got != "10.0.0.2:8888" {
		t.Errorf("STREAMER_TEST_DEST = %q", got)
	}
	if got := os.Getenv("STREAMER_TEST_KEPT"); got != "from-env" {
		t.Errorf("existing variable overwritten: %q", got)
	}
}

func TestLoadOptionalEnvMissing(t *testing.T) {
	chdir(t, t.TempDir())
	loaded, err := LoadOptionalEnv(".env.does-not-exist")
	if err != nil || loaded {
		t.Errorf("LoadOptionalEnv = %v, %v; want false, nil", loaded, err)
	}
}
