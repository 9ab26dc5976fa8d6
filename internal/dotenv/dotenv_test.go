package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnv(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	return path
}

// unsetForTest clears keys and restores them after the test.
func unsetForTest(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}

func TestLoadFile_MissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadFile missing file error: %v", err)
	}
}

func TestLoadFile_LoadsValuesAndPreservesExisting(t *testing.T) {
	unsetForTest(t, "PL_FROM_FILE", "PL_QUOTED", "PL_EXPORTED", "PL_COMMENTED", "PL_ESCAPED", "PL_SINGLE")
	envPath := writeEnv(t, ".env", ""+
		"# comment\n"+
		"PL_FROM_FILE=loaded\n"+
		"PL_QUOTED=\"hello world\"\n"+
		"export PL_EXPORTED=ok\n"+
		"PL_EXISTING=from_file\n"+
		"PL_COMMENTED=gemini # default provider\n"+
		"PL_ESCAPED=\"a\\nb\"\n"+
		"PL_SINGLE='keep # this'\n"+
		"not a pair\n")

	t.Setenv("PL_EXISTING", "already_set")

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	want := map[string]string{
		"PL_FROM_FILE": "loaded",
		"PL_QUOTED":    "hello world",
		"PL_EXPORTED":  "ok",
		"PL_EXISTING":  "already_set",
		"PL_COMMENTED": "gemini",
		"PL_ESCAPED":   "a\nb",
		"PL_SINGLE":    "keep # this",
	}
	for k, v := range want {
		if got := os.Getenv(k); got != v {
			t.Fatalf("%s=%q, want %q", k, got, v)
		}
	}
}

func TestLoadFiles_EarlierFileWins(t *testing.T) {
	unsetForTest(t, "PL_LAYERED", "PL_BASE_ONLY")
	local := writeEnv(t, ".env.local", "PL_LAYERED=local\n")
	base := writeEnv(t, ".env", "PL_LAYERED=base\nPL_BASE_ONLY=yes\n")

	if err := LoadFiles(local, "", base); err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	if got := os.Getenv("PL_LAYERED"); got != "local" {
		t.Fatalf("PL_LAYERED=%q, want local", got)
	}
	if got := os.Getenv("PL_BASE_ONLY"); got != "yes" {
		t.Fatalf("PL_BASE_ONLY=%q, want yes", got)
	}
}

func TestLoadFile_UnreadablePathErrors(t *testing.T) {
	dir := t.TempDir()
	if err := LoadFile(dir); err == nil {
		t.Fatalf("expected error reading a directory")
	}
}
