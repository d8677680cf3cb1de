//go:build !unix

package archive

import "os"

// lockFile only ensures the lock file exists; cross-process locking is not
// available on this platform, so a single process must own the archive.
func lockFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return func() { f.Close() }, nil
}
