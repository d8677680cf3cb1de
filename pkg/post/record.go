// Package post defines the captured snapshot of a feed post and typed
// accessors for the fields the archive acts on.
package post

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Record is a post as captured at discovery time. It keeps every field the
// feed returned (minus private and poll-specific ones) so the stored
// metadata is a faithful snapshot.
type Record map[string]any

// excluded lists top-level fields never stored.
var excluded = map[string]bool{
	"poll_data": true,
}

// flattened fields are reduced to their display-name string.
var flattened = []string{"subreddit", "author"}

// Capture builds a Record from a raw decoded post, dropping private fields
// (leading underscore) and poll data, and flattening subreddit/author
// objects to their names.
func Capture(raw map[string]any) Record {
	rec := make(Record, len(raw))
	for k, v := range raw {
		if strings.HasPrefix(k, "_") || excluded[k] {
			continue
		}
		rec[k] = v
	}
	for _, k := range flattened {
		if v, ok := rec[k]; ok {
			rec[k] = displayName(v)
		}
	}
	return rec
}

// Decode parses a JSON object into a captured Record. Numbers are kept as
// json.Number so ids and timestamps round-trip unchanged.
func Decode(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode post: %w", err)
	}
	return Capture(raw), nil
}

func displayName(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "None"
	case map[string]any:
		for _, k := range []string{"display_name", "name"} {
			if s, ok := t[k].(string); ok {
				return s
			}
		}
	}
	return fmt.Sprint(v)
}

// ID returns the feed-assigned id.
func (r Record) ID() string { return r.String("id") }

// Title returns the post title.
func (r Record) Title() string { return r.String("title") }

// String returns the string field k, or "" when absent or not a string.
func (r Record) String(k string) string {
	s, _ := r[k].(string)
	return s
}

// URL returns the authoritative direct URL: url_overridden_by_dest when
// present, else url. ok is false when neither field exists.
func (r Record) URL() (string, bool) {
	for _, k := range []string{"url_overridden_by_dest", "url"} {
		if v, present := r[k]; present {
			s, _ := v.(string)
			return s, true
		}
	}
	return "", false
}

// CrosspostParents returns crosspost_parent_list entries as Records.
func (r Record) CrosspostParents() []Record {
	list, _ := r["crosspost_parent_list"].([]any)
	parents := make([]Record, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			parents = append(parents, Record(m))
		}
	}
	return parents
}

// PreviewURL returns preview.images[0].source.url.
func (r Record) PreviewURL() (string, bool) {
	preview, ok := r["preview"].(map[string]any)
	if !ok {
		return "", false
	}
	images, ok := preview["images"].([]any)
	if !ok || len(images) == 0 {
		return "", false
	}
	first, ok := images[0].(map[string]any)
	if !ok {
		return "", false
	}
	source, ok := first["source"].(map[string]any)
	if !ok {
		return "", false
	}
	u, ok := source["url"].(string)
	return u, ok && u != ""
}

// GalleryItem is one entry of a gallery, already resolved to its best
// source URL.
type GalleryItem struct {
	MediaID string
	URL     string
}

// Gallery resolves gallery_data + media_metadata into ordered items.
// Items whose status is "failed" are skipped. Variant priority is gif, then
// mp4, then the generic image url. ok is false when the record carries no
// gallery; err reports metadata that is present but malformed.
func (r Record) Gallery() (items []GalleryItem, ok bool, err error) {
	gd, present := r["gallery_data"]
	if !present || gd == nil {
		return nil, false, nil
	}
	mm, present := r["media_metadata"]
	if !present {
		return nil, false, nil
	}

	galleryData, isMap := gd.(map[string]any)
	if !isMap {
		return nil, true, fmt.Errorf("gallery_data is %T", gd)
	}
	metadata, isMap := mm.(map[string]any)
	if !isMap {
		return nil, true, fmt.Errorf("media_metadata is %T", mm)
	}
	list, isList := galleryData["items"].([]any)
	if !isList {
		return nil, true, fmt.Errorf("gallery_data.items missing")
	}

	for i, raw := range list {
		entry, isMap := raw.(map[string]any)
		if !isMap {
			return nil, true, fmt.Errorf("gallery item %d is %T", i, raw)
		}
		mediaID, _ := entry["media_id"].(string)
		meta, isMap := metadata[mediaID].(map[string]any)
		if !isMap {
			return nil, true, fmt.Errorf("no media_metadata for %q", mediaID)
		}
		if status, _ := meta["status"].(string); status == "failed" {
			continue
		}
		source, isMap := meta["s"].(map[string]any)
		if !isMap {
			return nil, true, fmt.Errorf("media %q has no source", mediaID)
		}
		u := bestVariant(source)
		if u == "" {
			return nil, true, fmt.Errorf("media %q has no usable variant", mediaID)
		}
		items = append(items, GalleryItem{MediaID: mediaID, URL: u})
	}
	return items, true, nil
}

func bestVariant(source map[string]any) string {
	for _, k := range []string{"gif", "mp4", "u"} {
		if s, ok := source[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Unescape undoes the HTML ampersand escaping the feed applies to URLs.
func Unescape(u string) string {
	return strings.ReplaceAll(u, "&amp;", "&")
}
