package acquire

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// waitDelay bounds how long Fetch waits for output pipes to close after the
// tool has been killed.
const waitDelay = 2 * time.Second

// Tool selects which external downloader handles a URL.
type Tool string

const (
	ToolGallery Tool = "gallery"
	ToolVideo   Tool = "video"
)

// FetchRequest describes one downloader invocation.
type FetchRequest struct {
	Tool     Tool
	URL      string
	Dir      string // destination directory, written to as a side effect
	MaxItems int    // gallery only; 0 means no limit
}

// Fetcher pulls a URL down into a directory. Only the files it leaves behind
// are consulted; it has no other result.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) error
}

// ExecFetcher runs gallery-dl and a youtube-dl compatible video tool.
type ExecFetcher struct {
	GalleryPath string        // gallery-dl binary
	VideoPath   string        // youtube-dl / yt-dlp binary
	Timeout     time.Duration // per invocation; 0 disables
}

// Fetch implements Fetcher.
func (f *ExecFetcher) Fetch(ctx context.Context, req FetchRequest) error {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	cmd := f.buildCommand(ctx, req)
	cmd.Dir = req.Dir
	cmd.WaitDelay = waitDelay
	configureProcess(cmd)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s failed: %w\nstderr: %s", filepath.Base(cmd.Path), req.URL, err, stderr.String())
	}
	return nil
}

func (f *ExecFetcher) buildCommand(ctx context.Context, req FetchRequest) *exec.Cmd {
	if req.Tool == ToolVideo {
		bin := f.VideoPath
		if bin == "" {
			bin = "youtube-dl"
		}
		return exec.CommandContext(ctx, bin,
			"-o", filepath.Join(req.Dir, "%(id)s.%(ext)s"),
			req.URL,
		)
	}

	bin := f.GalleryPath
	if bin == "" {
		bin = "gallery-dl"
	}
	args := []string{req.URL, "-D", req.Dir}
	if req.MaxItems > 0 {
		args = append(args, "--range", "1-"+strconv.Itoa(req.MaxItems))
	}
	return exec.CommandContext(ctx, bin, args...)
}
