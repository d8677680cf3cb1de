// Package config handles loading and managing feedvault configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/feedvault/feedvault/internal/logging"
)

// EnvPrefix prefixes environment overrides, e.g. FEEDVAULT_REDDIT_PASSWORD.
const EnvPrefix = "FEEDVAULT"

// Config is the top-level configuration for feedvault.
type Config struct {
	Archive ArchiveConfig `yaml:"archive"`
	Poll    PollConfig    `yaml:"poll"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Reddit  RedditConfig  `yaml:"reddit"`
	Mirror  MirrorConfig  `yaml:"mirror"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Log     LogConfig     `yaml:"log"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// ArchiveConfig locates the archive and the scratch workspace.
type ArchiveConfig struct {
	Root      string `yaml:"root"`
	Workspace string `yaml:"workspace"` // defaults to a per-archive cache dir
}

// PollConfig controls the feed walk.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	Limit    int           `yaml:"limit"` // newest posts listed per channel
}

// FetchConfig controls the external media tools.
type FetchConfig struct {
	GalleryDL string        `yaml:"gallery_dl"`
	VideoTool string        `yaml:"video_tool"`
	MaxItems  int           `yaml:"max_items"`
	Timeout   time.Duration `yaml:"timeout"` // per tool invocation, 0 disables
}

// IngestConfig controls how already-archived posts are treated.
type IngestConfig struct {
	OnKnown string `yaml:"on_known"` // skip | refresh
}

// RedditConfig holds script-app credentials. Secrets are normally supplied
// through FEEDVAULT_REDDIT_* variables.
type RedditConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	UserAgent    string `yaml:"user_agent"`
}

// MirrorConfig selects an optional secondary copy of content blobs.
type MirrorConfig struct {
	Kind      string `yaml:"kind"` // none | local | s3 | gcs
	Dir       string `yaml:"dir"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// LedgerConfig points at the optional Postgres ingestion ledger.
type LedgerConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// HTTPConfig configures the daemon's listener.
type HTTPConfig struct {
	Address string `yaml:"address"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Archive: ArchiveConfig{Root: "archive"},
		Poll: PollConfig{
			Interval: 600 * time.Second,
			Limit:    1000,
		},
		Fetch: FetchConfig{
			GalleryDL: "gallery-dl",
			VideoTool: "youtube-dl",
			MaxItems:  4096,
			Timeout:   10 * time.Minute,
		},
		Ingest: IngestConfig{OnKnown: "skip"},
		Reddit: RedditConfig{UserAgent: "feedvault/0.1"},
		Mirror: MirrorConfig{Kind: "none"},
		Log:    LogConfig{Level: "info"},
		HTTP:   HTTPConfig{Address: "127.0.0.1:8080"},
	}
}

// Load reads a config file from the given path.
// If the file does not exist, it returns the default config.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// NewViper returns a viper instance reading FEEDVAULT_* environment
// variables, with "." in keys mapped to "_".
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ApplyOverrides copies every key set in v (through the environment or a
// changed bound flag) over the file values.
func (c *Config) ApplyOverrides(v *viper.Viper) error {
	strs := map[string]*string{
		"archive.root":         &c.Archive.Root,
		"archive.workspace":    &c.Archive.Workspace,
		"fetch.gallery_dl":     &c.Fetch.GalleryDL,
		"fetch.video_tool":     &c.Fetch.VideoTool,
		"ingest.on_known":      &c.Ingest.OnKnown,
		"reddit.client_id":     &c.Reddit.ClientID,
		"reddit.client_secret": &c.Reddit.ClientSecret,
		"reddit.username":      &c.Reddit.Username,
		"reddit.password":      &c.Reddit.Password,
		"reddit.user_agent":    &c.Reddit.UserAgent,
		"mirror.kind":          &c.Mirror.Kind,
		"mirror.dir":           &c.Mirror.Dir,
		"mirror.bucket":        &c.Mirror.Bucket,
		"mirror.prefix":        &c.Mirror.Prefix,
		"mirror.region":        &c.Mirror.Region,
		"mirror.endpoint":      &c.Mirror.Endpoint,
		"mirror.access_key":    &c.Mirror.AccessKey,
		"mirror.secret_key":    &c.Mirror.SecretKey,
		"ledger.database_url":  &c.Ledger.DatabaseURL,
		"log.level":            &c.Log.Level,
		"http.address":         &c.HTTP.Address,
	}
	for key, dst := range strs {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	ints := map[string]*int{
		"poll.limit":      &c.Poll.Limit,
		"fetch.max_items": &c.Fetch.MaxItems,
	}
	for key, dst := range ints {
		if !v.IsSet(key) {
			continue
		}
		n, err := castInt(v.Get(key))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}

	durs := map[string]*time.Duration{
		"poll.interval": &c.Poll.Interval,
		"fetch.timeout": &c.Fetch.Timeout,
	}
	for key, dst := range durs {
		if !v.IsSet(key) {
			continue
		}
		d, err := castDuration(v.Get(key))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Archive.Root) == "" {
		return fmt.Errorf("archive.root is required")
	}
	if c.Poll.Interval < time.Second {
		return fmt.Errorf("poll.interval must be at least 1s, got %s", c.Poll.Interval)
	}
	if c.Poll.Limit <= 0 {
		return fmt.Errorf("poll.limit must be positive, got %d", c.Poll.Limit)
	}
	if c.Fetch.MaxItems <= 0 {
		return fmt.Errorf("fetch.max_items must be positive, got %d", c.Fetch.MaxItems)
	}
	if c.Fetch.Timeout < 0 {
		return fmt.Errorf("fetch.timeout must not be negative")
	}
	switch c.Ingest.OnKnown {
	case "skip", "refresh":
	default:
		return fmt.Errorf("ingest.on_known must be skip or refresh, got %q", c.Ingest.OnKnown)
	}
	switch c.Mirror.Kind {
	case "", "none":
	case "local":
		if c.Mirror.Dir == "" {
			return fmt.Errorf("mirror.dir is required for a local mirror")
		}
	case "s3", "gcs":
		if c.Mirror.Bucket == "" {
			return fmt.Errorf("mirror.bucket is required for a %s mirror", c.Mirror.Kind)
		}
	default:
		return fmt.Errorf("unknown mirror.kind %q", c.Mirror.Kind)
	}
	if !logging.ValidLevel(c.Log.Level) {
		return fmt.Errorf("unknown log.level %q", c.Log.Level)
	}
	return nil
}

// ValidateCredentials checks the settings needed to reach the feed source.
func (c *Config) ValidateCredentials() error {
	var missing []string
	for key, val := range map[string]string{
		"reddit.client_id":     c.Reddit.ClientID,
		"reddit.client_secret": c.Reddit.ClientSecret,
		"reddit.username":      c.Reddit.Username,
		"reddit.password":      c.Reddit.Password,
	} {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing feed credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

// WorkspaceDir returns the configured workspace, or a directory under
// ~/.cache/feedvault/<archive-slug>/ when none is set.
func (c *Config) WorkspaceDir() string {
	if c.Archive.Workspace != "" {
		return c.Archive.Workspace
	}
	return filepath.Join(CacheDir(c.Archive.Root), "workspace")
}

// FindConfigFile looks for .feedvault/config.yaml in the given directory
// and its parents, returning the path if found, or "" if not.
func FindConfigFile(dir string) string {
	for {
		candidate := filepath.Join(dir, ".feedvault", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// CacheDir returns the cache directory for a given archive root.
// Uses ~/.cache/feedvault/<archive-slug>/ so scratch files stay off the archive volume.
func CacheDir(archiveRoot string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".cache", "feedvault", archiveSlug(archiveRoot))
}

// archiveSlug creates a filesystem-safe identifier from an archive path
// using its last two components.
func archiveSlug(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	dir := filepath.Base(filepath.Dir(abs))
	base := filepath.Base(abs)
	return dir + "_" + base
}
