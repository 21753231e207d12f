package application

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"profile-gateway/service/facts/domain"
)

// Strategy selects how upstream data is gathered.
type Strategy string

const (
	// StrategyDirect resolves the profile by handle and reads its
	// timeline.
	StrategyDirect Strategy = "direct"

	// StrategySearch mines recent-content search results, which embed
	// the author record, and falls back to direct resolution when a
	// search comes back empty.
	StrategySearch Strategy = "search"
)

// FailMode decides what happens when a budget check itself fails, as
// opposed to deciding "no".
type FailMode string

const (
	// FailNone lets every budget check fail open.
	FailNone FailMode = "none"

	// FailGlobal fails closed on the shared global budget only.
	FailGlobal FailMode = "global"

	// FailAll fails closed on every budget.
	FailAll FailMode = "all"
)

// DefaultPostsLimit is what transports pass when the caller did not ask
// for a specific number of posts.
const DefaultPostsLimit = 25

const (
	minPostsLimit = 5
	maxPostsLimit = 100

	// scorePostsLimit is how many recent posts a score request pulls.
	// Only the newest one is scored; the fetch itself lands in the
	// shared posts cache either way.
	scorePostsLimit = 5
)

// Service runs the request pipeline. Use it by pointer; the zero value
// with collaborators assigned is ready.
//
// Nil collaborators degrade instead of crashing: a nil Cache never hits, a
// nil limiter is a budget that is off, nil Cooldowns tracks nothing.
// Social must be set; Scorer is only required for Score.
type Service struct {
	Cache     domain.Cache
	Limits    domain.LimiterSet
	Cooldowns domain.Cooldowns
	Social    domain.Social
	Scorer    domain.Scorer
	Stats     domain.StatsStore

	Strategy Strategy
	FailMode FailMode

	// RequireStore refuses every request while the shared store is not
	// configured, instead of silently running with cache and budgets
	// off. Production deployments set it; development leaves it unset
	// and fails open.
	RequireStore bool

	// DefaultCooldown applies when the upstream signals overload without
	// advertising a reset.
	DefaultCooldown time.Duration

	ProfileTTL time.Duration
	PostsTTL   time.Duration
	ScoreTTL   time.Duration

	flight singleflight.Group
}

// Profile answers a profile request for rawHandle on behalf of clientKey.
func (s *Service) Profile(ctx context.Context, clientKey, rawHandle string) domain.Result {
	started := time.Now()

	if res, refused := s.storeGate(); refused {
		return s.finish(ctx, domain.OpProfile, started, res)
	}

	h, err := domain.NormalizeHandle(rawHandle)
	if err != nil {
		return s.finish(ctx, domain.OpProfile, started, badInput())
	}

	key := domain.Key{Op: domain.OpProfile, Handle: h}
	if body, ok := s.cacheLookup(ctx, key); ok {
		return s.finish(ctx, domain.OpProfile, started, cached(body))
	}

	if res, blocked := s.checkLimits(ctx, clientKey, h); blocked {
		return s.finish(ctx, domain.OpProfile, started, res)
	}

	body, err := s.profileBody(ctx, h)
	if err != nil {
		return s.finish(ctx, domain.OpProfile, started, s.classify(ctx, err))
	}
	return s.finish(ctx, domain.OpProfile, started, fetched(body))
}

// Posts answers a recent-posts request. max is the caller's requested
// count; out-of-range values are clamped, not rejected.
func (s *Service) Posts(ctx context.Context, clientKey, rawHandle string, max int) domain.Result {
	started := time.Now()

	if res, refused := s.storeGate(); refused {
		return s.finish(ctx, domain.OpPosts, started, res)
	}

	h, err := domain.NormalizeHandle(rawHandle)
	if err != nil {
		return s.finish(ctx, domain.OpPosts, started, badInput())
	}

	limit := clampPostsLimit(max)
	key := domain.Key{Op: domain.OpPosts, Handle: h, Param: strconv.Itoa(limit)}
	if body, ok := s.cacheLookup(ctx, key); ok {
		return s.finish(ctx, domain.OpPosts, started, cached(body))
	}

	if res, blocked := s.checkLimits(ctx, clientKey, h); blocked {
		return s.finish(ctx, domain.OpPosts, started, res)
	}

	body, err := s.postsBody(ctx, h, limit)
	if err != nil {
		return s.finish(ctx, domain.OpPosts, started, s.classify(ctx, err))
	}
	return s.finish(ctx, domain.OpPosts, started, fetched(body))
}

// Score answers a derived-score request for rawHandle's newest post.
func (s *Service) Score(ctx context.Context, clientKey, rawHandle string) domain.Result {
	started := time.Now()

	if res, refused := s.storeGate(); refused {
		return s.finish(ctx, domain.OpScore, started, res)
	}

	h, err := domain.NormalizeHandle(rawHandle)
	if err != nil {
		return s.finish(ctx, domain.OpScore, started, badInput())
	}

	if s.Scorer == nil {
		return s.finish(ctx, domain.OpScore, started, domain.Result{
			Class:   domain.ClassUnavailable,
			Message: "scoring is not configured",
		})
	}

	key := domain.Key{Op: domain.OpScore, Handle: h}
	if body, ok := s.cacheLookup(ctx, key); ok {
		return s.finish(ctx, domain.OpScore, started, cached(body))
	}

	if res, blocked := s.checkLimits(ctx, clientKey, h); blocked {
		return s.finish(ctx, domain.OpScore, started, res)
	}

	body, err := s.scoreBody(ctx, h)
	if err != nil {
		return s.finish(ctx, domain.OpScore, started, s.classify(ctx, err))
	}
	return s.finish(ctx, domain.OpScore, started, fetched(body))
}

func fetched(body []byte) domain.Result {
	return domain.Result{Class: domain.ClassOK, Body: body}
}

func cached(body []byte) domain.Result {
	return domain.Result{Class: domain.ClassOK, Body: body, Cached: true}
}

func badInput() domain.Result {
	return domain.Result{Class: domain.ClassBadInput, Message: "missing or invalid handle"}
}

// storeGate refuses everything while the shared store is required but not
// wired. A nil Cache is the marker: wiring always sets cache, budgets and
// cooldowns together.
func (s *Service) storeGate() (domain.Result, bool) {
	if !s.RequireStore || s.Cache != nil {
		return domain.Result{}, false
	}
	return domain.Result{
		Class:   domain.ClassUnavailable,
		Message: "service unavailable: shared store is not configured",
	}, true
}

// checkLimits runs the three budget gates. The per-client gate goes first
// and alone, so abusive callers never consume handle or global budget; the
// other two run concurrently because neither depends on the other.
func (s *Service) checkLimits(ctx context.Context, clientKey string, h domain.Handle) (domain.Result, bool) {
	if res, blocked := s.limitCheck(ctx, s.Limits.Client, domain.LimitClient, clientKey); blocked {
		return res, true
	}

	var handleRes, globalRes domain.Result
	var handleBlocked, globalBlocked bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		handleRes, handleBlocked = s.limitCheck(gctx, s.Limits.Handle, domain.LimitHandle, string(h))
		return nil
	})
	g.Go(func() error {
		globalRes, globalBlocked = s.limitCheck(gctx, s.Limits.Global, domain.LimitGlobal, domain.GlobalSubject)
		return nil
	})
	_ = g.Wait()

	// The narrower budget wins ties.
	if handleBlocked {
		return handleRes, true
	}
	if globalBlocked {
		return globalRes, true
	}
	return domain.Result{}, false
}

// limitCheck consults one budget. A nil limiter always allows; a check
// error allows or blocks per the fail mode.
func (s *Service) limitCheck(ctx context.Context, lim domain.Limiter, class domain.LimiterClass, subject string) (domain.Result, bool) {
	if lim == nil {
		return domain.Result{}, false
	}

	dec, err := lim.Allow(ctx, subject)
	if err != nil {
		if s.failsClosed(class) {
			return domain.Result{
				Class:   domain.ClassUnavailable,
				Message: "rate limit state unavailable",
			}, true
		}
		return domain.Result{}, false
	}

	if dec.Allowed {
		return domain.Result{}, false
	}
	return domain.Result{
		Class:      domain.ClassLimitedLocal,
		Message:    "rate limit exceeded, try again later",
		RetryAfter: dec.RetryAfter,
		Limiter:    class,
	}, true
}

func (s *Service) failsClosed(class domain.LimiterClass) bool {
	switch s.FailMode {
	case FailAll:
		return true
	case FailGlobal:
		return class == domain.LimitGlobal
	default:
		return false
	}
}

// profileBody returns the serialized profile, fetching and caching on
// miss. Concurrent misses for the same handle collapse into one upstream
// call.
func (s *Service) profileBody(ctx context.Context, h domain.Handle) ([]byte, error) {
	key := domain.Key{Op: domain.OpProfile, Handle: h}
	return s.once(ctx, key, func(ctx context.Context) ([]byte, error) {
		if body, ok := s.cacheLookup(ctx, key); ok {
			return body, nil
		}

		var p *domain.Profile
		var err error
		if s.Strategy == StrategySearch {
			p, err = s.profileViaSearch(ctx, h)
		} else {
			p, err = s.profileDirect(ctx, h)
		}
		if err != nil {
			return nil, err
		}

		body, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		s.cacheStore(ctx, key, body, s.profileTTL())
		return body, nil
	})
}

func (s *Service) profileDirect(ctx context.Context, h domain.Handle) (*domain.Profile, error) {
	if err := s.cooldownGate(ctx, domain.UpstreamLookup); err != nil {
		return nil, err
	}
	return s.Social.ProfileByHandle(ctx, h)
}

// profileViaSearch mines the author record out of a recent-content search
// and falls back to direct resolution when the search has nothing usable.
func (s *Service) profileViaSearch(ctx context.Context, h domain.Handle) (*domain.Profile, error) {
	if err := s.cooldownGate(ctx, domain.UpstreamSearch); err != nil {
		return nil, err
	}
	r, err := s.Social.SearchRecent(ctx, h, 1)
	if err != nil {
		return nil, err
	}
	if r.Author != nil {
		return r.Author, nil
	}
	return s.profileDirect(ctx, h)
}

// resolveProfile returns the parsed profile, via cache when possible.
func (s *Service) resolveProfile(ctx context.Context, h domain.Handle) (*domain.Profile, error) {
	body, err := s.profileBody(ctx, h)
	if err != nil {
		return nil, err
	}
	var p domain.Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// postsEnvelope is the serialized posts response; its bytes are exactly
// what the cache stores.
type postsEnvelope struct {
	Handle string        `json:"handle"`
	Posts  []domain.Post `json:"posts"`
}

// scoreEnvelope is the serialized score response.
type scoreEnvelope struct {
	Handle      string    `json:"handle"`
	PostID      string    `json:"post_id"`
	Score       int       `json:"score"`
	Explanation string    `json:"explanation,omitempty"`
	ComputedAt  time.Time `json:"computed_at"`
}

func (s *Service) postsBody(ctx context.Context, h domain.Handle, limit int) ([]byte, error) {
	key := domain.Key{Op: domain.OpPosts, Handle: h, Param: strconv.Itoa(limit)}
	return s.once(ctx, key, func(ctx context.Context) ([]byte, error) {
		if body, ok := s.cacheLookup(ctx, key); ok {
			return body, nil
		}

		posts, err := s.recentPosts(ctx, h, limit)
		if err != nil {
			return nil, err
		}
		if posts == nil {
			posts = []domain.Post{}
		}

		body, err := json.Marshal(postsEnvelope{Handle: string(h), Posts: posts})
		if err != nil {
			return nil, err
		}
		s.cacheStore(ctx, key, body, s.postsTTL())
		return body, nil
	})
}

func (s *Service) recentPosts(ctx context.Context, h domain.Handle, limit int) ([]domain.Post, error) {
	if s.Strategy == StrategySearch {
		return s.postsViaSearch(ctx, h, limit)
	}
	return s.postsViaTimeline(ctx, h, limit)
}

func (s *Service) postsViaTimeline(ctx context.Context, h domain.Handle, limit int) ([]domain.Post, error) {
	p, err := s.resolveProfile(ctx, h)
	if err != nil {
		return nil, err
	}
	if err := s.cooldownGate(ctx, domain.UpstreamTimeline); err != nil {
		return nil, err
	}
	return s.Social.Timeline(ctx, p.ID, limit)
}

func (s *Service) postsViaSearch(ctx context.Context, h domain.Handle, limit int) ([]domain.Post, error) {
	if err := s.cooldownGate(ctx, domain.UpstreamSearch); err != nil {
		return nil, err
	}
	r, err := s.Social.SearchRecent(ctx, h, limit)
	if err != nil {
		return nil, err
	}

	if r.Author != nil {
		// Free author record: cache it so a later profile request skips
		// its upstream call.
		if body, err := json.Marshal(r.Author); err == nil {
			s.cacheStore(ctx, domain.Key{Op: domain.OpProfile, Handle: h}, body, s.profileTTL())
		}
	}

	if len(r.Posts) == 0 && r.Author == nil {
		// Search cannot tell a quiet profile from a missing one; resolve
		// the profile to decide between empty and not-found.
		if _, err := s.resolveProfile(ctx, h); err != nil {
			return nil, err
		}
	}
	return r.Posts, nil
}

func (s *Service) scoreBody(ctx context.Context, h domain.Handle) ([]byte, error) {
	key := domain.Key{Op: domain.OpScore, Handle: h}
	return s.once(ctx, key, func(ctx context.Context) ([]byte, error) {
		if body, ok := s.cacheLookup(ctx, key); ok {
			return body, nil
		}

		postsBody, err := s.postsBody(ctx, h, scorePostsLimit)
		if err != nil {
			return nil, err
		}
		var env postsEnvelope
		if err := json.Unmarshal(postsBody, &env); err != nil {
			return nil, err
		}
		latest, ok := latestScorable(env.Posts)
		if !ok {
			return nil, domain.ErrNotFound
		}

		itemKey := domain.Key{Op: domain.OpScore, Handle: h, Param: latest.ID}
		if body, ok := s.cacheLookup(ctx, itemKey); ok {
			// Same newest post as an earlier computation: reuse the
			// verdict and refresh the handle-level entry.
			s.cacheStore(ctx, key, body, s.scoreTTL())
			return body, nil
		}

		reply, err := s.Scorer.ScoreText(ctx, latest.Text)
		if err != nil {
			return nil, errors.Join(domain.ErrNoScore, err)
		}
		score, explanation, err := ParseScore(reply)
		if err != nil {
			return nil, err
		}

		body, err := json.Marshal(scoreEnvelope{
			Handle:      string(h),
			PostID:      latest.ID,
			Score:       score,
			Explanation: explanation,
			ComputedAt:  time.Now().UTC(),
		})
		if err != nil {
			return nil, err
		}
		s.cacheStore(ctx, itemKey, body, s.scoreTTL())
		s.cacheStore(ctx, key, body, s.scoreTTL())
		return body, nil
	})
}

// latestScorable picks the newest post that has any text to score.
func latestScorable(posts []domain.Post) (domain.Post, bool) {
	for _, p := range posts {
		if strings.TrimSpace(p.Text) != "" {
			return p, true
		}
	}
	return domain.Post{}, false
}

// once collapses concurrent fetches of the same key into one call. The
// fetch runs detached from the triggering caller's cancellation: a caller
// hanging up must not abort work other waiters share, and the result
// still lands in cache for the next request.
func (s *Service) once(ctx context.Context, key domain.Key, fetch func(context.Context) ([]byte, error)) ([]byte, error) {
	v, err, _ := s.flight.Do(key.String(), func() (any, error) {
		return fetch(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// cooldownGate reports an active cooldown as the overload it stands for.
// A broken flag store never blocks; the upstream will say no itself.
func (s *Service) cooldownGate(ctx context.Context, op domain.UpstreamOp) error {
	if s.Cooldowns == nil {
		return nil
	}
	d, err := s.Cooldowns.Remaining(ctx, op)
	if err != nil || d <= 0 {
		return nil
	}
	return &domain.OverloadError{Op: op, RetryAfter: d}
}

// classify maps a pipeline error to its outcome. Upstream overloads also
// trip the operation's cooldown here, so every path that surfaces one
// flags it exactly once.
func (s *Service) classify(ctx context.Context, err error) domain.Result {
	var oe *domain.OverloadError
	switch {
	case errors.As(err, &oe):
		retry := oe.RetryAfter
		if retry <= 0 {
			retry = s.defaultCooldown()
		}
		if s.Cooldowns != nil {
			_ = s.Cooldowns.Trip(context.WithoutCancel(ctx), oe.Op, retry)
		}
		return domain.Result{
			Class:      domain.ClassLimitedUpstream,
			Message:    "upstream is rate limited, try again later",
			RetryAfter: retry,
			Upstream:   true,
		}
	case errors.Is(err, domain.ErrNotFound):
		return domain.Result{
			Class:   domain.ClassNotFound,
			Message: "no such profile or no recent content",
		}
	case errors.Is(err, domain.ErrNoScore):
		return domain.Result{
			Class:   domain.ClassDerivationFailed,
			Message: "model output had no usable score",
		}
	default:
		return domain.Result{
			Class:   domain.ClassInternal,
			Message: "unexpected failure",
		}
	}
}

// finish records the outcome before returning it. Recording is
// best-effort and detached from the caller's cancellation.
func (s *Service) finish(ctx context.Context, op domain.Op, started time.Time, res domain.Result) domain.Result {
	if s.Stats != nil {
		_ = s.Stats.Record(context.WithoutCancel(ctx), domain.StatsEvent{
			Op:      op,
			Class:   res.Class,
			Cached:  res.Cached,
			Limiter: res.Limiter,
			At:      started,
			Elapsed: time.Since(started),
		})
	}
	return res
}

func (s *Service) cacheLookup(ctx context.Context, key domain.Key) ([]byte, bool) {
	if s.Cache == nil {
		return nil, false
	}
	return s.Cache.Lookup(ctx, key)
}

func (s *Service) cacheStore(ctx context.Context, key domain.Key, body []byte, ttl time.Duration) {
	if s.Cache == nil {
		return
	}
	s.Cache.Store(ctx, key, body, ttl)
}

func clampPostsLimit(max int) int {
	if max < minPostsLimit {
		return minPostsLimit
	}
	if max > maxPostsLimit {
		return maxPostsLimit
	}
	return max
}

func (s *Service) profileTTL() time.Duration {
	if s.ProfileTTL > 0 {
		return s.ProfileTTL
	}
	return time.Hour
}

func (s *Service) postsTTL() time.Duration {
	if s.PostsTTL > 0 {
		return s.PostsTTL
	}
	return time.Hour
}

func (s *Service) scoreTTL() time.Duration {
	if s.ScoreTTL > 0 {
		return s.ScoreTTL
	}
	return 6 * time.Hour
}

func (s *Service) defaultCooldown() time.Duration {
	if s.DefaultCooldown > 0 {
		return s.DefaultCooldown
	}
	return time.Minute
}
