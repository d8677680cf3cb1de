package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/feedvault/feedvault/internal/feed"
)

type fakeReddit struct {
	*httptest.Server
	tokens atomic.Int32
}

func newFakeReddit(t *testing.T) *fakeReddit {
	t.Helper()
	f := &fakeReddit{}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		id, secret, ok := r.BasicAuth()
		if !ok || id != "cid" || secret != "csecret" {
			http.Error(w, "bad client", http.StatusUnauthorized)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "password" ||
			r.PostForm.Get("username") != "alice" || r.PostForm.Get("password") != "pw" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		if r.Header.Get("User-Agent") != "feedvault-test" {
			http.Error(w, "missing agent", http.StatusForbidden)
			return
		}
		f.tokens.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
	})

	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if r.Header.Get("User-Agent") != "feedvault-test" {
				http.Error(w, "missing agent", http.StatusForbidden)
				return
			}
			h(w, r)
		}
	}

	mux.HandleFunc("GET /subreddits/mine/subscriber", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			writeListing(w, "t5_page2", `{"display_name":"pics"}`, `{"display_name":"u_bob"}`)
			return
		}
		writeListing(w, "", `{"display_name":"art"}`)
	}))

	mux.HandleFunc("GET /r/pics/new", authed(func(w http.ResponseWriter, r *http.Request) {
		start := 0
		if a := r.URL.Query().Get("after"); a != "" {
			start, _ = strconv.Atoi(a)
		}
		n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		var children []string
		for i := start; i < start+n && i < 250; i++ {
			children = append(children, fmt.Sprintf(`{"id":"p%d","title":"post %d","_reddit":1}`, i, i))
		}
		after := ""
		if start+n < 250 {
			after = strconv.Itoa(start + n)
		}
		writeListing(w, after, children...)
	}))

	mux.HandleFunc("GET /user/bob/submitted", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sort") != "new" {
			http.Error(w, "want sort=new", http.StatusBadRequest)
			return
		}
		writeListing(w, "", `{"id":"b1","subreddit":{"display_name":"u_bob"},"url":"https://i.example/x.jpg"}`)
	}))

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func writeListing(w http.ResponseWriter, after string, children ...string) {
	type child struct {
		Kind string          `json:"kind"`
		Data json.RawMessage `json:"data"`
	}
	var l struct {
		Data struct {
			After    string  `json:"after"`
			Children []child `json:"children"`
		} `json:"data"`
	}
	l.Data.After = after
	l.Data.Children = []child{}
	for _, c := range children {
		l.Data.Children = append(l.Data.Children, child{Kind: "t3", Data: json.RawMessage(c)})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(l)
}

func newTestClient(f *fakeReddit) *Client {
	return New(Config{
		ClientID:     "cid",
		ClientSecret: "csecret",
		Username:     "alice",
		Password:     "pw",
		UserAgent:    "feedvault-test",
		APIURL:       f.URL,
		TokenURL:     f.URL + "/api/v1/access_token",
	})
}

func TestChannels(t *testing.T) {
	f := newFakeReddit(t)
	c := newTestClient(f)

	got, err := c.Channels(context.Background())
	if err != nil {
		t.Fatalf("Channels: %v", err)
	}
	want := []feed.Channel{{Name: "art"}, {Name: "pics"}, {Name: "bob", Author: true}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("channel %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if n := f.tokens.Load(); n != 1 {
		t.Errorf("token requests = %d, want 1", n)
	}
}

func TestNewPostsPaginatesToLimit(t *testing.T) {
	f := newFakeReddit(t)
	c := newTestClient(f)

	posts, err := c.NewPosts(context.Background(), feed.Channel{Name: "pics"}, 230)
	if err != nil {
		t.Fatalf("NewPosts: %v", err)
	}
	if len(posts) != 230 {
		t.Fatalf("got %d posts, want 230", len(posts))
	}
	if posts[0].ID() != "p0" || posts[229].ID() != "p229" {
		t.Errorf("unexpected order: first %q last %q", posts[0].ID(), posts[229].ID())
	}
	if _, ok := posts[0]["_reddit"]; ok {
		t.Error("private field was captured")
	}
}

func TestNewPostsStopsAtEndOfListing(t *testing.T) {
	f := newFakeReddit(t)
	c := newTestClient(f)

	posts, err := c.NewPosts(context.Background(), feed.Channel{Name: "pics"}, 1000)
	if err != nil {
		t.Fatalf("NewPosts: %v", err)
	}
	if len(posts) != 250 {
		t.Errorf("got %d posts, want 250", len(posts))
	}
}

func TestNewPostsAuthorChannel(t *testing.T) {
	f := newFakeReddit(t)
	c := newTestClient(f)

	posts, err := c.NewPosts(context.Background(), feed.Channel{Name: "bob", Author: true}, 10)
	if err != nil {
		t.Fatalf("NewPosts: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(posts))
	}
	if got := posts[0].String("subreddit"); got != "u_bob" {
		t.Errorf("subreddit = %q, want flattened display name", got)
	}
}

func TestBadCredentials(t *testing.T) {
	f := newFakeReddit(t)
	c := New(Config{
		ClientID:  "cid",
		UserAgent: "feedvault-test",
		APIURL:    f.URL,
		TokenURL:  f.URL + "/api/v1/access_token",
	})
	if _, err := c.Channels(context.Background()); err == nil {
		t.Fatal("expected error with bad credentials")
	}
}

func TestHTTPErrorStatus(t *testing.T) {
	f := newFakeReddit(t)
	c := newTestClient(f)
	if _, err := c.NewPosts(context.Background(), feed.Channel{Name: "missing"}, 10); err == nil {
		t.Fatal("expected error for 404 listing")
	}
}
