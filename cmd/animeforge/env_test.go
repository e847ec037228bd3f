package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `# credentials
GEMINI_API_KEY="gm-123"
export HUGGING_FACE_TOKEN='hf-456'

SD_WEBUI_API_KEY = user:pass
ANIMEFORGE_PRESET=kept
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("HUGGING_FACE_TOKEN", "")
	t.Setenv("SD_WEBUI_API_KEY", "")
	t.Setenv("ANIMEFORGE_PRESET", "from-env")
	// t.Setenv registers the vars; unset the ones the file should fill
	for _, k := range []string{"GEMINI_API_KEY", "HUGGING_FACE_TOKEN", "SD_WEBUI_API_KEY"} {
		if err := os.Unsetenv(k); err != nil {
			t.Fatal(err)
		}
	}

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile() error = %v", err)
	}

	tests := map[string]string{
		"GEMINI_API_KEY":     "gm-123",
		"HUGGING_FACE_TOKEN": "hf-456",
		"SD_WEBUI_API_KEY":   "user:pass",
		"ANIMEFORGE_PRESET":  "from-env",
	}
	for key, want := range tests {
		if got := os.Getenv(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestLoadEnvFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("NOT_A_PAIR\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := loadEnvFile(path); err == nil {
		t.Error("expected error for malformed line")
	}
}

func TestTrimQuotes(t *testing.T) {
	tests := map[string]string{
		`"a"`: "a",
		`'b'`: "b",
		`"c'`: `"c'`,
		`d`:   "d",
		`""`:  "",
		`"`:   `"`,
	}
	for in, want := range tests {
		if got := trimQuotes(in); got != want {
			t.Errorf("trimQuotes(%q) = %q, want %q", in, got, want)
		}
	}
}
