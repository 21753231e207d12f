package domain

import "context"

// SearchResult is what a recent-content search returns: the newest posts,
// plus the author record when the upstream embeds it.
type SearchResult struct {
	Posts  []Post
	Author *Profile
}

// Social is the upstream content API, specified only at this boundary.
// Implementations return ErrNotFound for unknown handles and
// *OverloadError when the upstream rejects for quota reasons; required
// fields are validated at this boundary, so a nil-free record means a
// complete record.
type Social interface {
	// ProfileByHandle resolves a profile directly by handle.
	ProfileByHandle(ctx context.Context, h Handle) (*Profile, error)

	// SearchRecent returns the newest posts authored by h, newest first.
	SearchRecent(ctx context.Context, h Handle, limit int) (*SearchResult, error)

	// Timeline returns the newest posts of an already-resolved profile.
	Timeline(ctx context.Context, profileID string, limit int) ([]Post, error)
}
