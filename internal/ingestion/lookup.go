package ingestion

import (
	"encoding/json"

	"github.com/feedvault/feedvault/internal/archive"
	"github.com/feedvault/feedvault/pkg/shard"
)

// PostView is the archived state of one post.
type PostView struct {
	ID      string          `json:"id"`
	Known   bool            `json:"known"`
	Info    json.RawMessage `json:"info,omitempty"`
	Content []string        `json:"content"`
}

// Lookup reads a post's info and relations entries. A post whose info was
// written but whose relations were not is reported with Known false.
func Lookup(store *archive.Store, postID string) (PostView, error) {
	view := PostView{ID: shard.Normalize(postID), Content: []string{}}

	if _, err := store.Get(archive.KindInfo, postID, &view.Info); err != nil {
		return view, err
	}
	known, err := store.Get(archive.KindRelations, postID, &view.Content)
	if err != nil {
		return view, err
	}
	view.Known = known
	if view.Content == nil {
		view.Content = []string{}
	}
	return view, nil
}
