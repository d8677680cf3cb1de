package fingerprint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// sha256("hello\n")
const helloDigest = "5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		file string
		want string
	}{
		{name: "with extension", file: "photo.jpg", want: helloDigest + ".jpg"},
		{name: "multiple dots", file: "clip.final.mp4", want: helloDigest + ".mp4"},
		{name: "no extension", file: "README", want: helloDigest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, dir, tc.file, "hello\n")
			got, err := File(path)
			if err != nil {
				t.Fatalf("File: %v", err)
			}
			if got != tc.want {
				t.Errorf("File(%s) = %q, want %q", tc.file, got, tc.want)
			}
		})
	}
}

func TestFileSameBytesDifferentNames(t *testing.T) {
	dir := t.TempDir()
	// Larger than one block so the streaming path is exercised.
	content := strings.Repeat("x", BlockSize*3+17)
	a, err := File(writeFile(t, dir, "a.png", content))
	if err != nil {
		t.Fatalf("File a: %v", err)
	}
	b, err := File(writeFile(t, dir, "b-renamed.png", content))
	if err != nil {
		t.Fatalf("File b: %v", err)
	}
	if a != b {
		t.Errorf("identical bytes produced %q and %q", a, b)
	}
}

func TestFileMissing(t *testing.T) {
	if _, err := File(filepath.Join(t.TempDir(), "nope.jpg")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
