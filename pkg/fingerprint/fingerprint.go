// Package fingerprint derives content-addressed names for downloaded files.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// BlockSize is the read size used while hashing.
const BlockSize = 4096

// File returns the hex SHA-256 of the file at path, with the original
// extension appended when the file name contains a dot.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	digest, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return digest + Extension(filepath.Base(path)), nil
}

// Reader hashes r in BlockSize chunks and returns the hex digest.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, BlockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Extension returns "."+ext for the text after the last dot in name, or ""
// if name has no dot.
func Extension(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return ""
	}
	return "." + name[i+1:]
}
