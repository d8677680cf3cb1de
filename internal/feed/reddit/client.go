// Package reddit implements feed.Source against the Reddit OAuth API using
// a script-app password grant.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/feedvault/feedvault/internal/feed"
	"github.com/feedvault/feedvault/pkg/post"
)

const (
	defaultAPIURL   = "https://oauth.reddit.com"
	defaultTokenURL = "https://www.reddit.com/api/v1/access_token"
	pageSize        = 100
)

// Config holds script-app credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
	APIURL       string // default https://oauth.reddit.com
	TokenURL     string // default https://www.reddit.com/api/v1/access_token
	Timeout      time.Duration
}

// Client lists subscriptions and posts.
type Client struct {
	http   *http.Client
	apiURL string
}

// New creates a Client. Tokens are fetched lazily and renewed through the
// password grant when they expire.
func New(cfg Config) *Client {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	base := &userAgentTransport{agent: cfg.UserAgent, base: http.DefaultTransport}
	tokenClient := &http.Client{Transport: base, Timeout: timeout}

	src := &passwordSource{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		username: cfg.Username,
		password: cfg.Password,
		ctx:      context.WithValue(context.Background(), oauth2.HTTPClient, tokenClient),
	}

	return &Client{
		http: &http.Client{
			Transport: &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, src), Base: base},
			Timeout:   timeout,
		},
		apiURL: apiURL,
	}
}

// Channels returns the account's subscriptions sorted by display name.
func (c *Client) Channels(ctx context.Context) ([]feed.Channel, error) {
	var names []string
	after := ""
	for {
		q := url.Values{"limit": {strconv.Itoa(pageSize)}}
		if after != "" {
			q.Set("after", after)
		}
		var l listing
		if err := c.get(ctx, "/subreddits/mine/subscriber", q, &l); err != nil {
			return nil, fmt.Errorf("list subscriptions: %w", err)
		}
		for _, child := range l.Data.Children {
			var sub struct {
				DisplayName string `json:"display_name"`
			}
			if err := json.Unmarshal(child.Data, &sub); err != nil {
				return nil, fmt.Errorf("decode subscription: %w", err)
			}
			names = append(names, sub.DisplayName)
		}
		if l.Data.After == "" {
			break
		}
		after = l.Data.After
	}

	sort.Strings(names)
	channels := make([]feed.Channel, len(names))
	for i, n := range names {
		channels[i] = feed.ParseChannel(n)
	}
	return channels, nil
}

// NewPosts returns up to limit of the channel's newest posts.
func (c *Client) NewPosts(ctx context.Context, ch feed.Channel, limit int) ([]post.Record, error) {
	path := "/r/" + url.PathEscape(ch.Name) + "/new"
	if ch.Author {
		path = "/user/" + url.PathEscape(ch.Name) + "/submitted"
	}

	var posts []post.Record
	after := ""
	for len(posts) < limit {
		q := url.Values{"limit": {strconv.Itoa(min(pageSize, limit-len(posts)))}}
		if ch.Author {
			q.Set("sort", "new")
		}
		if after != "" {
			q.Set("after", after)
		}

		var l listing
		if err := c.get(ctx, path, q, &l); err != nil {
			return nil, fmt.Errorf("list %s: %w", ch, err)
		}
		for _, child := range l.Data.Children {
			rec, err := post.Decode(child.Data)
			if err != nil {
				return nil, err
			}
			posts = append(posts, rec)
		}
		if l.Data.After == "" || len(l.Data.Children) == 0 {
			break
		}
		after = l.Data.After
	}
	return posts, nil
}

type listing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (c *Client) get(ctx context.Context, path string, q url.Values, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// passwordSource obtains tokens with the resource-owner password grant.
// Reddit issues no refresh token for it, so every renewal is a new grant.
type passwordSource struct {
	cfg      *oauth2.Config
	username string
	password string
	ctx      context.Context
}

func (s *passwordSource) Token() (*oauth2.Token, error) {
	tok, err := s.cfg.PasswordCredentialsToken(s.ctx, s.username, s.password)
	if err != nil {
		return nil, fmt.Errorf("reddit token: %w", err)
	}
	return tok, nil
}

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.agent == "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(r)
}
