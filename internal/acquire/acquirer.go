// Package acquire populates a scratch workspace with a post's media by
// trying an ordered list of strategies until one leaves files behind.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/feedvault/feedvault/pkg/post"
)

// Strategy names one acquisition method.
type Strategy string

const (
	StrategyDirect  Strategy = "direct"
	StrategyGallery Strategy = "gallery"
	StrategyPreview Strategy = "preview"
)

// DefaultMaxItems caps gallery-dl fan-out for a direct URL.
const DefaultMaxItems = 4096

// TransientFetchError wraps a strategy failure. It is logged and the next
// strategy runs; it never leaves the acquirer.
type TransientFetchError struct {
	Strategy Strategy
	URL      string
	Err      error
}

func (e *TransientFetchError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s strategy: %v", e.Strategy, e.Err)
	}
	return fmt.Sprintf("%s strategy (%s): %v", e.Strategy, e.URL, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// Result is what one strategy contributed.
type Result struct {
	Strategy Strategy
	Files    []string // in the order they appeared
	Err      *TransientFetchError
}

// Acquirer runs the strategies against a workspace.
type Acquirer struct {
	fetcher  Fetcher
	maxItems int
	logger   *zap.Logger
}

// Option configures an Acquirer.
type Option func(*Acquirer)

// WithMaxItems sets the item ceiling passed to every gallery tool call.
func WithMaxItems(n int) Option {
	return func(a *Acquirer) { a.maxItems = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Acquirer) { a.logger = l }
}

// New creates an Acquirer that downloads through fetcher.
func New(fetcher Fetcher, opts ...Option) *Acquirer {
	a := &Acquirer{
		fetcher:  fetcher,
		maxItems: DefaultMaxItems,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Acquire downloads the media of rec into workspace and returns the names
// of the files it produced. Names come in the order an enumerating strategy
// (gallery, preview) produced them, or sorted when only the direct strategy
// ran. A post without media yields an empty result and no error. Acquire
// fails when the workspace cannot be read or when ctx is done: a cancelled
// tool leaves an incomplete workspace that must not be committed.
func (a *Acquirer) Acquire(ctx context.Context, rec post.Record, workspace string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	baseline, err := listFiles(workspace)
	if err != nil {
		return nil, err
	}
	w := &tracker{dir: workspace, seen: toSet(baseline)}

	url, hasURL := rec.URL()
	url = post.Unescape(url)

	var ordered []string
	if hasURL && url != "" {
		a.report(rec, a.direct(ctx, url, w))
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	produced, err := w.any()
	if err != nil {
		return nil, err
	}
	if !produced && !(hasURL && looksLikeSingleMedia(url)) {
		res := a.gallery(ctx, rec, w)
		a.report(rec, res)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ordered = append(ordered, res.Files...)
	}

	if produced, err = w.any(); err != nil {
		return nil, err
	}
	if !produced {
		if previewURL, ok := rec.PreviewURL(); ok {
			res := a.preview(ctx, post.Unescape(previewURL), w)
			a.report(rec, res)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			ordered = append(ordered, res.Files...)
		}
	}

	if len(ordered) > 0 {
		return ordered, nil
	}
	all, err := w.all()
	if err != nil {
		return nil, err
	}
	sort.Strings(all)
	return all, nil
}

func (a *Acquirer) direct(ctx context.Context, url string, w *tracker) Result {
	req := FetchRequest{Tool: ToolGallery, URL: url, Dir: w.dir, MaxItems: a.maxItems}
	if isVideoHost(url) {
		req = FetchRequest{Tool: ToolVideo, URL: url, Dir: w.dir}
	}
	return a.fetch(ctx, StrategyDirect, req, w)
}

func (a *Acquirer) gallery(ctx context.Context, rec post.Record, w *tracker) Result {
	source := rec
	if parents := rec.CrosspostParents(); len(parents) > 0 {
		source = parents[0]
	}

	items, ok, err := source.Gallery()
	if err != nil {
		return Result{Strategy: StrategyGallery, Err: &TransientFetchError{Strategy: StrategyGallery, Err: err}}
	}
	if !ok {
		return Result{Strategy: StrategyGallery}
	}

	res := Result{Strategy: StrategyGallery}
	var errs []error
	for _, item := range items {
		r := a.fetch(ctx, StrategyGallery, FetchRequest{
			Tool:     ToolGallery,
			URL:      post.Unescape(item.URL),
			Dir:      w.dir,
			MaxItems: a.maxItems,
		}, w)
		if ctx.Err() != nil {
			break
		}
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
		res.Files = append(res.Files, r.Files...)
	}
	if len(res.Files) == 0 && len(errs) > 0 {
		res.Err = &TransientFetchError{Strategy: StrategyGallery, Err: errors.Join(errs...)}
	}
	return res
}

func (a *Acquirer) preview(ctx context.Context, url string, w *tracker) Result {
	return a.fetch(ctx, StrategyPreview, FetchRequest{Tool: ToolGallery, URL: url, Dir: w.dir, MaxItems: a.maxItems}, w)
}

// fetch runs one tool invocation and diffs the workspace around it.
func (a *Acquirer) fetch(ctx context.Context, s Strategy, req FetchRequest, w *tracker) Result {
	res := Result{Strategy: s}
	fetchErr := a.fetcher.Fetch(ctx, req)

	fresh, err := w.fresh()
	if err != nil {
		res.Err = &TransientFetchError{Strategy: s, URL: req.URL, Err: err}
		return res
	}
	res.Files = fresh
	if fetchErr != nil {
		res.Err = &TransientFetchError{Strategy: s, URL: req.URL, Err: fetchErr}
	} else if len(fresh) == 0 {
		res.Err = &TransientFetchError{Strategy: s, URL: req.URL, Err: errors.New("no files produced")}
	}
	return res
}

func (a *Acquirer) report(rec post.Record, res Result) {
	if res.Err != nil {
		a.logger.Debug("strategy skipped",
			zap.String("post_id", rec.ID()),
			zap.String("strategy", string(res.Strategy)),
			zap.Error(res.Err),
		)
		return
	}
	if len(res.Files) > 0 {
		a.logger.Info("media acquired",
			zap.String("post_id", rec.ID()),
			zap.String("strategy", string(res.Strategy)),
			zap.Int("files", len(res.Files)),
		)
	}
}

func isVideoHost(url string) bool {
	return strings.Contains(url, "v.redd.it")
}

func looksLikeSingleMedia(url string) bool {
	return strings.Contains(url, ".gif") || strings.Contains(url, ".mp4")
}

// tracker remembers which workspace entries have already been attributed
// so each invocation only reports what it added.
type tracker struct {
	dir  string
	seen map[string]bool
	new  []string
}

func (t *tracker) fresh() ([]string, error) {
	names, err := listFiles(t.dir)
	if err != nil {
		return nil, err
	}
	var added []string
	for _, n := range names {
		if !t.seen[n] {
			t.seen[n] = true
			added = append(added, n)
		}
	}
	t.new = append(t.new, added...)
	return added, nil
}

func (t *tracker) any() (bool, error) {
	if _, err := t.fresh(); err != nil {
		return false, err
	}
	return len(t.new) > 0, nil
}

func (t *tracker) all() ([]string, error) {
	if _, err := t.fresh(); err != nil {
		return nil, err
	}
	return append([]string(nil), t.new...), nil
}

// listFiles returns the regular files directly under dir, sorted.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list workspace %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
