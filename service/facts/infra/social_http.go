package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"profile-gateway/service/facts/domain"
)

// socialMaxBody caps how much of an upstream response is read.
const socialMaxBody = 1 << 20

// SocialClient talks to the upstream content API over HTTP.
//
// The optional token-bucket guard (golang.org/x/time/rate) keeps a single
// process under the upstream's published ceiling even when the shared
// global limiter fails open. It waits briefly instead of rejecting; saying
// no is the distributed limiters' job.
type SocialClient struct {
	base  string
	token string
	httpc *http.Client
	guard *rate.Limiter
}

var _ domain.Social = (*SocialClient)(nil)

type SocialOption func(*SocialClient)

func WithSocialHTTPClient(c *http.Client) SocialOption {
	return func(s *SocialClient) { s.httpc = c }
}

// WithSocialLocalRate installs the process-local guard. rps <= 0 disables
// it.
func WithSocialLocalRate(rps float64, burst int) SocialOption {
	return func(s *SocialClient) {
		if rps <= 0 {
			s.guard = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.guard = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func NewSocialClient(baseURL, token string, opts ...SocialOption) *SocialClient {
	s := &SocialClient{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		httpc: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type wireProfile struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
	Verified    bool   `json:"verified"`
	AvatarURL   string `json:"avatar_url"`
	Metrics     struct {
		Followers int64 `json:"followers"`
		Following int64 `json:"following"`
		Posts     int64 `json:"posts"`
	} `json:"metrics"`
}

type wirePost struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Metrics   struct {
		Likes   int64 `json:"likes"`
		Reposts int64 `json:"reposts"`
		Replies int64 `json:"replies"`
	} `json:"metrics"`
}

// profileFromWire validates at the boundary: an upstream payload without
// the fields we depend on is treated as the entity not being there, not
// propagated as a half-empty record.
func profileFromWire(w *wireProfile) (*domain.Profile, error) {
	if w == nil || w.ID == "" || w.Handle == "" {
		return nil, domain.ErrNotFound
	}
	p := &domain.Profile{
		ID:          w.ID,
		Handle:      w.Handle,
		DisplayName: w.DisplayName,
		Verified:    w.Verified,
		AvatarURL:   w.AvatarURL,
	}
	p.Metrics.Followers = w.Metrics.Followers
	p.Metrics.Following = w.Metrics.Following
	p.Metrics.Posts = w.Metrics.Posts
	return p, nil
}

func postsFromWire(ws []wirePost) []domain.Post {
	out := make([]domain.Post, 0, len(ws))
	for _, w := range ws {
		if w.ID == "" {
			continue
		}
		p := domain.Post{
			ID:        w.ID,
			Text:      w.Text,
			CreatedAt: w.CreatedAt,
		}
		p.Metrics.Likes = w.Metrics.Likes
		p.Metrics.Reposts = w.Metrics.Reposts
		p.Metrics.Replies = w.Metrics.Replies
		out = append(out, p)
	}
	return out
}

func (c *SocialClient) ProfileByHandle(ctx context.Context, h domain.Handle) (*domain.Profile, error) {
	var out struct {
		Data *wireProfile `json:"data"`
	}
	err := c.getJSON(ctx, domain.UpstreamLookup, "/v1/profiles/"+url.PathEscape(string(h)), nil, &out)
	if err != nil {
		return nil, err
	}
	return profileFromWire(out.Data)
}

func (c *SocialClient) SearchRecent(ctx context.Context, h domain.Handle, limit int) (*domain.SearchResult, error) {
	q := url.Values{}
	q.Set("author", string(h))
	q.Set("limit", strconv.Itoa(limit))

	var out struct {
		Data struct {
			Posts  []wirePost   `json:"posts"`
			Author *wireProfile `json:"author"`
		} `json:"data"`
	}
	err := c.getJSON(ctx, domain.UpstreamSearch, "/v1/posts/search", q, &out)
	if err != nil {
		return nil, err
	}

	res := &domain.SearchResult{Posts: postsFromWire(out.Data.Posts)}
	if out.Data.Author != nil {
		// The embedded author is a bonus; skip it if malformed.
		if p, err := profileFromWire(out.Data.Author); err == nil {
			res.Author = p
		}
	}
	return res, nil
}

func (c *SocialClient) Timeline(ctx context.Context, profileID string, limit int) ([]domain.Post, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	var out struct {
		Data struct {
			Posts []wirePost `json:"posts"`
		} `json:"data"`
	}
	err := c.getJSON(ctx, domain.UpstreamTimeline, "/v1/profiles/"+url.PathEscape(profileID)+"/posts", q, &out)
	if err != nil {
		return nil, err
	}
	return postsFromWire(out.Data.Posts), nil
}

func (c *SocialClient) getJSON(ctx context.Context, op domain.UpstreamOp, path string, query url.Values, dest any) error {
	if c.guard != nil {
		if err := c.guard.Wait(ctx); err != nil {
			return err
		}
	}

	reqURL := c.base + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("upstream %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("upstream %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, socialMaxBody))
	if err != nil {
		return fmt.Errorf("upstream %s: read response: %w", op, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return &domain.OverloadError{Op: op, RetryAfter: retryAfterFrom(resp.Header)}
	case resp.StatusCode >= 400:
		return fmt.Errorf("upstream %s: status %d: %s", op, resp.StatusCode, truncate(data, 120))
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("upstream %s: decode response: %w", op, err)
	}
	return nil
}

// retryAfterFrom recovers the advertised wait from an overloaded response.
// Retry-After in delta seconds wins; X-RateLimit-Reset (epoch seconds) is
// the fallback. Absent or malformed headers yield zero and the caller
// substitutes its configured default.
func retryAfterFrom(h http.Header) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Until(time.Unix(epoch, 0)); d > 0 {
				return d
			}
		}
	}
	return 0
}

func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
