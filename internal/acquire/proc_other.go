//go:build !unix

package acquire

import "os/exec"

// configureProcess leaves the default kill of the direct child in place;
// WaitDelay still bounds how long Fetch waits on inherited pipes.
func configureProcess(cmd *exec.Cmd) {}
