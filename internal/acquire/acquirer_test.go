package acquire

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/feedvault/feedvault/pkg/post"
)

// fakeFetcher writes the files registered for a URL and records every call.
type fakeFetcher struct {
	files map[string][]string // url -> file names to create
	fail  map[string]bool
	calls []FetchRequest
}

func (f *fakeFetcher) Fetch(ctx context.Context, req FetchRequest) error {
	f.calls = append(f.calls, req)
	for _, name := range f.files[req.URL] {
		if err := os.WriteFile(filepath.Join(req.Dir, name), []byte(req.URL+"/"+name), 0o644); err != nil {
			return err
		}
	}
	if f.fail[req.URL] {
		return errors.New("tool exited 1")
	}
	return nil
}

func galleryRecord(extra post.Record) post.Record {
	rec := post.Record{
		"id": "g1",
		"gallery_data": map[string]any{
			"items": []any{
				map[string]any{"media_id": "b"},
				map[string]any{"media_id": "a"},
			},
		},
		"media_metadata": map[string]any{
			"a": map[string]any{"status": "valid", "s": map[string]any{"u": "http://i/a.jpg?x=1&amp;y=2"}},
			"b": map[string]any{"status": "valid", "s": map[string]any{"u": "http://i/b.jpg"}},
		},
	}
	for k, v := range extra {
		rec[k] = v
	}
	return rec
}

func TestAcquire(t *testing.T) {
	tests := []struct {
		name      string
		rec       post.Record
		files     map[string][]string
		fail      map[string]bool
		want      []string
		wantCalls []FetchRequest
	}{
		{
			name: "no media fields",
			rec:  post.Record{"id": "abc123", "title": "text post"},
			want: []string{},
		},
		{
			name:  "direct url sorted",
			rec:   post.Record{"id": "d1", "url": "http://x/y.jpg"},
			files: map[string][]string{"http://x/y.jpg": {"z.jpg", "a.jpg"}},
			want:  []string{"a.jpg", "z.jpg"},
			wantCalls: []FetchRequest{
				{Tool: ToolGallery, URL: "http://x/y.jpg", MaxItems: DefaultMaxItems},
			},
		},
		{
			name:  "video host routes to video tool",
			rec:   post.Record{"id": "v1", "url_overridden_by_dest": "https://v.redd.it/abc", "url": "ignored"},
			files: map[string][]string{"https://v.redd.it/abc": {"abc.mp4"}},
			want:  []string{"abc.mp4"},
			wantCalls: []FetchRequest{
				{Tool: ToolVideo, URL: "https://v.redd.it/abc"},
			},
		},
		{
			name: "ampersand unescaped",
			rec:  post.Record{"id": "e1", "url": "http://x/?a=1&amp;b=2"},
			files: map[string][]string{
				"http://x/?a=1&b=2": {"one.png"},
			},
			want: []string{"one.png"},
			wantCalls: []FetchRequest{
				{Tool: ToolGallery, URL: "http://x/?a=1&b=2", MaxItems: DefaultMaxItems},
			},
		},
		{
			name: "gallery fallback keeps declared order",
			rec:  galleryRecord(post.Record{"url": "https://www.reddit.com/gallery/g1"}),
			files: map[string][]string{
				"http://i/b.jpg":         {"b.jpg"},
				"http://i/a.jpg?x=1&y=2": {"a.jpg"},
			},
			want: []string{"b.jpg", "a.jpg"},
			wantCalls: []FetchRequest{
				{Tool: ToolGallery, URL: "https://www.reddit.com/gallery/g1", MaxItems: DefaultMaxItems},
				{Tool: ToolGallery, URL: "http://i/b.jpg", MaxItems: DefaultMaxItems},
				{Tool: ToolGallery, URL: "http://i/a.jpg?x=1&y=2", MaxItems: DefaultMaxItems},
			},
		},
		{
			name: "gallery from first crosspost parent",
			rec: post.Record{
				"id":                    "c1",
				"url":                   "/r/x/comments/c1",
				"crosspost_parent_list": []any{map[string]any(galleryRecord(nil))},
			},
			files: map[string][]string{
				"http://i/b.jpg":         {"b.jpg"},
				"http://i/a.jpg?x=1&y=2": {"a.jpg"},
			},
			want: []string{"b.jpg", "a.jpg"},
			wantCalls: []FetchRequest{
				{Tool: ToolGallery, URL: "/r/x/comments/c1", MaxItems: DefaultMaxItems},
				{Tool: ToolGallery, URL: "http://i/b.jpg", MaxItems: DefaultMaxItems},
				{Tool: ToolGallery, URL: "http://i/a.jpg?x=1&y=2", MaxItems: DefaultMaxItems},
			},
		},
		{
			name: "gif url skips gallery and falls to preview",
			rec: galleryRecord(post.Record{
				"url": "http://x/anim.gif",
				"preview": map[string]any{"images": []any{
					map[string]any{"source": map[string]any{"url": "http://p/prev.jpg"}},
				}},
			}),
			fail:  map[string]bool{"http://x/anim.gif": true},
			files: map[string][]string{"http://p/prev.jpg": {"prev.jpg"}},
			want:  []string{"prev.jpg"},
			wantCalls: []FetchRequest{
				{Tool: ToolGallery, URL: "http://x/anim.gif", MaxItems: DefaultMaxItems},
				{Tool: ToolGallery, URL: "http://p/prev.jpg", MaxItems: DefaultMaxItems},
			},
		},
		{
			name: "malformed gallery falls through to preview",
			rec: post.Record{
				"id":             "m1",
				"gallery_data":   map[string]any{"items": "nope"},
				"media_metadata": map[string]any{},
				"preview": map[string]any{"images": []any{
					map[string]any{"source": map[string]any{"url": "http://p/m.jpg"}},
				}},
			},
			files: map[string][]string{"http://p/m.jpg": {"m.jpg"}},
			want:  []string{"m.jpg"},
			wantCalls: []FetchRequest{
				{Tool: ToolGallery, URL: "http://p/m.jpg", MaxItems: DefaultMaxItems},
			},
		},
		{
			name: "failing tool that still wrote files keeps them",
			rec:  post.Record{"id": "f1", "url": "http://x/partial"},
			files: map[string][]string{
				"http://x/partial": {"1.jpg"},
			},
			fail: map[string]bool{"http://x/partial": true},
			want: []string{"1.jpg"},
			wantCalls: []FetchRequest{
				{Tool: ToolGallery, URL: "http://x/partial", MaxItems: DefaultMaxItems},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ws := t.TempDir()
			f := &fakeFetcher{files: tc.files, fail: tc.fail}
			a := New(f)

			got, err := a.Acquire(context.Background(), tc.rec, ws)
			if err != nil {
				t.Fatalf("Acquire: %v", err)
			}
			if len(got) == 0 && len(tc.want) == 0 {
				got = []string{}
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("files = %v, want %v", got, tc.want)
			}

			if len(f.calls) != len(tc.wantCalls) {
				t.Fatalf("calls = %+v, want %+v", f.calls, tc.wantCalls)
			}
			for i, want := range tc.wantCalls {
				want.Dir = ws
				if f.calls[i] != want {
					t.Errorf("call %d = %+v, want %+v", i, f.calls[i], want)
				}
			}
		})
	}
}

func TestAcquireGalleryDoesNotDuplicateNames(t *testing.T) {
	ws := t.TempDir()
	rec := galleryRecord(nil)
	// Second item rewrites b.jpg and adds a.jpg; b.jpg must be reported once.
	f := &fakeFetcher{files: map[string][]string{
		"http://i/b.jpg":         {"b.jpg"},
		"http://i/a.jpg?x=1&y=2": {"b.jpg", "a.jpg"},
	}}

	got, err := New(f).Acquire(context.Background(), rec, ws)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	want := []string{"b.jpg", "a.jpg"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("files = %v, want %v", got, want)
	}
}

func TestAcquireMaxItems(t *testing.T) {
	f := &fakeFetcher{}
	rec := galleryRecord(post.Record{
		"url": "http://x",
		"preview": map[string]any{"images": []any{
			map[string]any{"source": map[string]any{"url": "http://p/prev.jpg"}},
		}},
	})
	_, err := New(f, WithMaxItems(10)).Acquire(context.Background(), rec, t.TempDir())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// direct, two gallery items, preview
	if len(f.calls) != 4 {
		t.Fatalf("calls = %+v, want 4", f.calls)
	}
	for i, c := range f.calls {
		if c.MaxItems != 10 {
			t.Errorf("call %d (%s) MaxItems = %d, want 10", i, c.URL, c.MaxItems)
		}
	}
}

// cancellingFetcher cancels the pass while the tool is "running", as a
// signal would, and reports the kill the way exec does.
type cancellingFetcher struct {
	cancel context.CancelFunc
	calls  int
}

func (f *cancellingFetcher) Fetch(ctx context.Context, req FetchRequest) error {
	f.calls++
	f.cancel()
	return ctx.Err()
}

func TestAcquireCancelledMidFetch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := &cancellingFetcher{cancel: cancel}
	rec := galleryRecord(post.Record{"url": "http://x/page"})

	got, err := New(f).Acquire(ctx, rec, t.TempDir())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire = %v, %v; want context.Canceled", got, err)
	}
	if f.calls != 1 {
		t.Errorf("fetcher called %d times after cancellation, want 1", f.calls)
	}
}

func TestAcquireMissingWorkspace(t *testing.T) {
	_, err := New(&fakeFetcher{}).Acquire(context.Background(), post.Record{"id": "x"}, filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected error for missing workspace")
	}
}
