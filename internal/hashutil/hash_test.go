package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHashFileMatchesStdlib(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello\n"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	got, err := HashFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sum := sha256.Sum256([]byte("hello\n"))
	want := hex.EncodeToString(sum[:])

	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestHashReader(t *testing.T) {
	got, err := HashReader(strings.NewReader("hello\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sum := sha256.Sum256([]byte("hello\n"))
	want := hex.EncodeToString(sum[:])
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestHashBytes(t *testing.T) {
	got := HashBytes([]byte("hello\n"))
	sum := sha256.Sum256([]byte("hello\n"))
	want := hex.EncodeToString(sum[:])
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
