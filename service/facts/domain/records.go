package domain

import "time"

// Profile is the upstream entity record the gateway caches and relays.
type Profile struct {
	ID          string         `json:"id"`
	Handle      string         `json:"handle"`
	DisplayName string         `json:"display_name"`
	Verified    bool           `json:"verified"`
	AvatarURL   string         `json:"avatar_url,omitempty"`
	Metrics     ProfileMetrics `json:"metrics"`
}

// ProfileMetrics are the public counters attached to a profile.
type ProfileMetrics struct {
	Followers int64 `json:"followers"`
	Following int64 `json:"following"`
	Posts     int64 `json:"posts"`
}

// Post is one content item authored by a profile.
type Post struct {
	ID        string      `json:"id"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"created_at"`
	Metrics   PostMetrics `json:"metrics"`
}

// PostMetrics are the public counters attached to a post.
type PostMetrics struct {
	Likes   int64 `json:"likes"`
	Reposts int64 `json:"reposts"`
	Replies int64 `json:"replies"`
}
