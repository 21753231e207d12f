package application

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"profile-gateway/service/facts/domain"
)

type fakeSocial struct {
	mu sync.Mutex

	profile *domain.Profile
	posts   []domain.Post
	search  *domain.SearchResult

	lookupErr   error
	searchErr   error
	timelineErr error

	lookupCalls   int
	searchCalls   int
	timelineCalls int

	lastSearchLimit   int
	lastTimelineLimit int

	// block, when set, parks lookups until closed.
	block chan struct{}
	// lookupCtxErr records ctx.Err() as the last lookup finished.
	lookupCtxErr error
}

func (f *fakeSocial) ProfileByHandle(ctx context.Context, _ domain.Handle) (*domain.Profile, error) {
	f.mu.Lock()
	f.lookupCalls++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupCtxErr = ctx.Err()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if f.profile == nil {
		return nil, domain.ErrNotFound
	}
	p := *f.profile
	return &p, nil
}

func (f *fakeSocial) SearchRecent(_ context.Context, _ domain.Handle, limit int) (*domain.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	f.lastSearchLimit = limit
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if f.search == nil {
		return &domain.SearchResult{}, nil
	}
	return f.search, nil
}

func (f *fakeSocial) Timeline(_ context.Context, _ string, limit int) ([]domain.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timelineCalls++
	f.lastTimelineLimit = limit
	if f.timelineErr != nil {
		return nil, f.timelineErr
	}
	return f.posts, nil
}

func (f *fakeSocial) calls() (lookup, search, timeline int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookupCalls, f.searchCalls, f.timelineCalls
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (c *fakeCache) Lookup(_ context.Context, key domain.Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key.String()]
	return v, ok
}

func (c *fakeCache) Store(_ context.Context, key domain.Key, body []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key.String()] = body
	c.ttls[key.String()] = ttl
}

func (c *fakeCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

type fakeLimiter struct {
	mu         sync.Mutex
	allow      bool
	retryAfter time.Duration
	err        error
	calls      int
	subjects   []string
}

func allowAll() *fakeLimiter { return &fakeLimiter{allow: true} }

func (l *fakeLimiter) Allow(_ context.Context, subject string) (domain.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.subjects = append(l.subjects, subject)
	if l.err != nil {
		return domain.Decision{}, l.err
	}
	if !l.allow {
		return domain.Decision{Allowed: false, RetryAfter: l.retryAfter}, nil
	}
	return domain.Decision{Allowed: true}, nil
}

func (l *fakeLimiter) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type fakeCooldowns struct {
	mu        sync.Mutex
	remaining map[domain.UpstreamOp]time.Duration
	tripped   map[domain.UpstreamOp]time.Duration
}

func newFakeCooldowns() *fakeCooldowns {
	return &fakeCooldowns{
		remaining: make(map[domain.UpstreamOp]time.Duration),
		tripped:   make(map[domain.UpstreamOp]time.Duration),
	}
}

func (c *fakeCooldowns) Remaining(_ context.Context, op domain.UpstreamOp) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining[op], nil
}

func (c *fakeCooldowns) Trip(_ context.Context, op domain.UpstreamOp, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tripped[op] = d
	return nil
}

func (c *fakeCooldowns) trippedWith(op domain.UpstreamOp) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tripped[op]
}

type fakeScorer struct {
	mu       sync.Mutex
	reply    string
	err      error
	calls    int
	lastText string
}

func (f *fakeScorer) ScoreText(_ context.Context, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastText = text
	return f.reply, f.err
}

func (f *fakeScorer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStats struct {
	mu     sync.Mutex
	events []domain.StatsEvent
}

func (f *fakeStats) Record(_ context.Context, ev domain.StatsEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStats) all() []domain.StatsEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.StatsEvent, len(f.events))
	copy(out, f.events)
	return out
}

func testProfile() *domain.Profile {
	return &domain.Profile{ID: "p1", Handle: "alice", DisplayName: "Alice"}
}

func testPosts() []domain.Post {
	return []domain.Post{
		{ID: "t9", Text: "newest text"},
		{ID: "t8", Text: "older text"},
	}
}

func newTestService(social *fakeSocial) (*Service, *fakeCache, *fakeCooldowns) {
	cache := newFakeCache()
	cds := newFakeCooldowns()
	svc := &Service{
		Cache: cache,
		Limits: domain.LimiterSet{
			Client: allowAll(),
			Handle: allowAll(),
			Global: allowAll(),
		},
		Cooldowns: cds,
		Social:    social,
	}
	return svc, cache, cds
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestService_BadHandleRejectedBeforeBudgets(t *testing.T) {
	social := &fakeSocial{profile: testProfile()}
	svc, _, _ := newTestService(social)
	client := svc.Limits.Client.(*fakeLimiter)

	for _, raw := range []string{"", "   ", "@@", "has space", "UPPER CASE!"} {
		res := svc.Profile(context.Background(), "c1", raw)
		if res.Class != domain.ClassBadInput {
			t.Fatalf("handle %q: expected bad_input, got %v", raw, res.Class)
		}
	}
	if client.callCount() != 0 {
		t.Fatalf("expected no budget consumed by rejected input, got %d", client.callCount())
	}
	if lookup, _, _ := social.calls(); lookup != 0 {
		t.Fatalf("expected no upstream call for rejected input")
	}
}

func TestService_HandleNormalizationSharesCache(t *testing.T) {
	social := &fakeSocial{profile: testProfile()}
	svc, _, _ := newTestService(social)
	ctx := context.Background()

	if res := svc.Profile(ctx, "c1", "@Alice "); res.Class != domain.ClassOK {
		t.Fatalf("expected ok, got %v (%s)", res.Class, res.Message)
	}
	res := svc.Profile(ctx, "c1", "alice")
	if res.Class != domain.ClassOK || !res.Cached {
		t.Fatalf("expected cache hit for normalized variant, got %+v", res)
	}
	if lookup, _, _ := social.calls(); lookup != 1 {
		t.Fatalf("expected one upstream lookup, got %d", lookup)
	}
}

func TestService_CacheHitSkipsBudgetsAndUpstream(t *testing.T) {
	social := &fakeSocial{profile: testProfile()}
	svc, cache, _ := newTestService(social)
	client := svc.Limits.Client.(*fakeLimiter)
	ctx := context.Background()

	cache.Store(ctx, domain.Key{Op: domain.OpProfile, Handle: "alice"}, []byte(`{"id":"p1"}`), time.Hour)

	res := svc.Profile(ctx, "c1", "alice")
	if res.Class != domain.ClassOK || !res.Cached {
		t.Fatalf("expected cached ok, got %+v", res)
	}
	if client.callCount() != 0 {
		t.Fatalf("expected cache hit to bypass budgets, got %d checks", client.callCount())
	}
	if lookup, _, _ := social.calls(); lookup != 0 {
		t.Fatalf("expected no upstream call on cache hit")
	}
}

func TestService_ClientGateRunsFirstAndAlone(t *testing.T) {
	social := &fakeSocial{profile: testProfile()}
	svc, _, _ := newTestService(social)
	svc.Limits.Client = &fakeLimiter{allow: false, retryAfter: 10 * time.Minute}
	handle := svc.Limits.Handle.(*fakeLimiter)
	global := svc.Limits.Global.(*fakeLimiter)

	res := svc.Profile(context.Background(), "c1", "alice")
	if res.Class != domain.ClassLimitedLocal {
		t.Fatalf("expected limited_local, got %v", res.Class)
	}
	if res.Limiter != domain.LimitClient {
		t.Fatalf("expected client budget blamed, got %q", res.Limiter)
	}
	if res.RetryAfter != 10*time.Minute {
		t.Fatalf("expected retry-after passed through, got %v", res.RetryAfter)
	}
	if handle.callCount() != 0 || global.callCount() != 0 {
		t.Fatalf("expected blocked client to consume no other budget, got handle=%d global=%d",
			handle.callCount(), global.callCount())
	}
	if lookup, _, _ := social.calls(); lookup != 0 {
		t.Fatalf("expected no upstream call when limited")
	}
}

func TestService_BudgetSubjects(t *testing.T) {
	social := &fakeSocial{profile: testProfile()}
	svc, _, _ := newTestService(social)
	client := svc.Limits.Client.(*fakeLimiter)
	handle := svc.Limits.Handle.(*fakeLimiter)
	global := svc.Limits.Global.(*fakeLimiter)

	svc.Profile(context.Background(), "client-7", "alice")

	client.mu.Lock()
	defer client.mu.Unlock()
	handle.mu.Lock()
	defer handle.mu.Unlock()
	global.mu.Lock()
	defer global.mu.Unlock()

	if len(client.subjects) != 1 || client.subjects[0] != "client-7" {
		t.Fatalf("expected client budget keyed by caller, got %v", client.subjects)
	}
	if len(handle.subjects) != 1 || handle.subjects[0] != "alice" {
		t.Fatalf("expected handle budget keyed by handle, got %v", handle.subjects)
	}
	if len(global.subjects) != 1 || global.subjects[0] != domain.GlobalSubject {
		t.Fatalf("expected global budget keyed by constant, got %v", global.subjects)
	}
}

func TestService_HandleDenialWinsOverGlobal(t *testing.T) {
	social := &fakeSocial{profile: testProfile()}
	svc, _, _ := newTestService(social)
	svc.Limits.Handle = &fakeLimiter{allow: false, retryAfter: 10 * time.Minute}
	svc.Limits.Global = &fakeLimiter{allow: false, retryAfter: 10 * time.Minute}

	res := svc.Profile(context.Background(), "c1", "alice")
	if res.Class != domain.ClassLimitedLocal {
		t.Fatalf("expected limited_local, got %v", res.Class)
	}
	if res.Limiter != domain.LimitHandle {
		t.Fatalf("expected handle budget blamed on double denial, got %q", res.Limiter)
	}
}

func TestService_GlobalDenialBlocks(t *testing.T) {
	social := &fakeSocial{profile: testProfile()}
	svc, _, _ := newTestService(social)
	svc.Limits.Global = &fakeLimiter{allow: false, retryAfter: time.Minute}

	res := svc.Profile(context.Background(), "c1", "alice")
	if res.Class != domain.ClassLimitedLocal || res.Limiter != domain.LimitGlobal {
		t.Fatalf("expected global limited_local, got %+v", res)
	}
	if lookup, _, _ := social.calls(); lookup != 0 {
		t.Fatalf("expected no upstream call when globally limited")
	}
}

func TestService_LimiterErrorFailsOpenByDefault(t *testing.T) {
	social := &fakeSocial{profile: testProfile()}
	svc, _, _ := newTestService(social)
	svc.Limits.Client = &fakeLimiter{err: errors.New("store down")}
	svc.Limits.Handle = &fakeLimiter{err: errors.New("store down")}
	svc.Limits.Global = &fakeLimiter{err: errors.New("store down")}

	res := svc.Profile(context.Background(), "c1", "alice")
	if res.Class != domain.ClassOK {
		t.Fatalf("expected fail-open ok, got %v (%s)", res.Class, res.Message)
	}
}

func TestService_LimiterErrorFailModes(t *testing.T) {
	t.Run("global mode ignores handle errors", func(t *testing.T) {
		social := &fakeSocial{profile: testProfile()}
		svc, _, _ := newTestService(social)
		svc.FailMode = FailGlobal
		svc.Limits.Handle = &fakeLimiter{err: errors.New("store down")}

		if res := svc.Profile(context.Background(), "c1", "alice"); res.Class != domain.ClassOK {
			t.Fatalf("expected ok, got %v", res.Class)
		}
	})

	t.Run("global mode blocks on global errors", func(t *testing.T) {
		social := &fakeSocial{profile: testProfile()}
		svc, _, _ := newTestService(social)
		svc.FailMode = FailGlobal
		svc.Limits.Global = &fakeLimiter{err: errors.New("store down")}

		if res := svc.Profile(context.Background(), "c1", "alice"); res.Class != domain.ClassUnavailable {
			t.Fatalf("expected unavailable, got %v", res.Class)
		}
	})

	t.Run("all mode blocks on any error", func(t *testing.T) {
		social := &fakeSocial{profile: testProfile()}
		svc, _, _ := newTestService(social)
		svc.FailMode = FailAll
		svc.Limits.Client = &fakeLimiter{err: errors.New("store down")}

		if res := svc.Profile(context.Background(), "c1", "alice"); res.Class != domain.ClassUnavailable {
			t.Fatalf("expected unavailable, got %v", res.Class)
		}
	})
}

func TestService_RequireStoreRefusesEverything(t *testing.T) {
	social := &fakeSocial{profile: testProfile()}
	svc := &Service{
		Social:       social,
		RequireStore: true,
	}
	ctx := context.Background()

	for _, res := range []domain.Result{
		svc.Profile(ctx, "c1", "alice"),
		svc.Posts(ctx, "c1", "alice", DefaultPostsLimit),
		svc.Score(ctx, "c1", "alice"),
	} {
		if res.Class != domain.ClassUnavailable {
			t.Fatalf("expected unavailable without a store, got %v", res.Class)
		}
	}
	if lookup, search, timeline := social.calls(); lookup+search+timeline != 0 {
		t.Fatalf("expected no upstream traffic while refusing requests")
	}
}

func TestService_RequireStoreIsInertWithStoreWired(t *testing.T) {
	social := &fakeSocial{profile: testProfile()}
	svc, _, _ := newTestService(social)
	svc.RequireStore = true

	if res := svc.Profile(context.Background(), "c1", "alice"); res.Class != domain.ClassOK {
		t.Fatalf("expected ok with a wired store, got %v (%s)", res.Class, res.Message)
	}
}

func TestService_MissFetchesThenSecondCallHits(t *testing.T) {
	social := &fakeSocial{profile: testProfile()}
	svc, cache, _ := newTestService(social)
	ctx := context.Background()

	first := svc.Profile(ctx, "c1", "alice")
	if first.Class != domain.ClassOK || first.Cached {
		t.Fatalf("expected fresh ok, got %+v", first)
	}
	if _, ok := cache.get("profile:alice"); !ok {
		t.Fatalf("expected profile cached under canonical key")
	}

	second := svc.Profile(ctx, "c1", "alice")
	if second.Class != domain.ClassOK || !second.Cached {
		t.Fatalf("expected cache hit, got %+v", second)
	}
	if string(second.Body) != string(first.Body) {
		t.Fatalf("expected identical bytes from cache")
	}
	if lookup, _, _ := social.calls(); lookup != 1 {
		t.Fatalf("expected exactly one upstream lookup, got %d", lookup)
	}
}

func TestService_UnknownHandleIsNotFoundAndNotCached(t *testing.T) {
	social := &fakeSocial{}
	svc, cache, _ := newTestService(social)

	res := svc.Profile(context.Background(), "c1", "ghost")
	if res.Class != domain.ClassNotFound {
		t.Fatalf("expected not_found, got %v", res.Class)
	}
	if _, ok := cache.get("profile:ghost"); ok {
		t.Fatalf("expected failures to never be cached")
	}
}

func TestService_OverloadTripsCooldown(t *testing.T) {
	social := &fakeSocial{
		lookupErr: &domain.OverloadError{Op: domain.UpstreamLookup, RetryAfter: 45 * time.Second},
	}
	svc, _, cds := newTestService(social)

	res := svc.Profile(context.Background(), "c1", "alice")
	if res.Class != domain.ClassLimitedUpstream {
		t.Fatalf("expected limited_upstream, got %v", res.Class)
	}
	if !res.Upstream {
		t.Fatalf("expected upstream flag set")
	}
	if res.RetryAfter != 45*time.Second {
		t.Fatalf("expected advertised reset, got %v", res.RetryAfter)
	}
	if got := cds.trippedWith(domain.UpstreamLookup); got != 45*time.Second {
		t.Fatalf("expected lookup cooldown tripped for 45s, got %v", got)
	}
}

func TestService_OverloadWithoutResetUsesDefaultCooldown(t *testing.T) {
	social := &fakeSocial{
		lookupErr: &domain.OverloadError{Op: domain.UpstreamLookup},
	}
	svc, _, cds := newTestService(social)
	svc.DefaultCooldown = 10 * time.Minute

	res := svc.Profile(context.Background(), "c1", "alice")
	if res.Class != domain.ClassLimitedUpstream {
		t.Fatalf("expected limited_upstream, got %v", res.Class)
	}
	if res.RetryAfter != 10*time.Minute {
		t.Fatalf("expected default cooldown advertised, got %v", res.RetryAfter)
	}
	if got := cds.trippedWith(domain.UpstreamLookup); got != 10*time.Minute {
		t.Fatalf("expected default cooldown tripped, got %v", got)
	}
}

func TestService_OverloadFallbackCooldownIsOneMinute(t *testing.T) {
	social := &fakeSocial{
		lookupErr: &domain.OverloadError{Op: domain.UpstreamLookup},
	}
	svc, _, cds := newTestService(social)

	res := svc.Profile(context.Background(), "c1", "alice")
	if res.RetryAfter != time.Minute {
		t.Fatalf("expected one minute fallback, got %v", res.RetryAfter)
	}
	if got := cds.trippedWith(domain.UpstreamLookup); got != time.Minute {
		t.Fatalf("expected one minute cooldown tripped, got %v", got)
	}
}

func TestService_ActiveCooldownShortCircuitsUpstream(t *testing.T) {
	social := &fakeSocial{profile: testProfile()}
	svc, _, cds := newTestService(social)
	cds.remaining[domain.UpstreamLookup] = 30 * time.Second

	res := svc.Profile(context.Background(), "c1", "alice")
	if res.Class != domain.ClassLimitedUpstream {
		t.Fatalf("expected limited_upstream, got %v", res.Class)
	}
	if res.RetryAfter != 30*time.Second {
		t.Fatalf("expected remaining cooldown advertised, got %v", res.RetryAfter)
	}
	if lookup, _, _ := social.calls(); lookup != 0 {
		t.Fatalf("expected no upstream call during cooldown, got %d", lookup)
	}
}

func TestService_TimelineCooldownDoesNotBlockProfile(t *testing.T) {
	social := &fakeSocial{profile: testProfile(), posts: testPosts()}
	svc, _, cds := newTestService(social)
	cds.remaining[domain.UpstreamTimeline] = time.Minute

	if res := svc.Profile(context.Background(), "c1", "alice"); res.Class != domain.ClassOK {
		t.Fatalf("expected profile unaffected by timeline cooldown, got %v", res.Class)
	}
	res := svc.Posts(context.Background(), "c1", "alice", DefaultPostsLimit)
	if res.Class != domain.ClassLimitedUpstream {
		t.Fatalf("expected posts blocked by timeline cooldown, got %v", res.Class)
	}
}

func TestService_PostsClampsRequestedLimit(t *testing.T) {
	social := &fakeSocial{profile: testProfile(), posts: testPosts()}
	svc, _, _ := newTestService(social)
	ctx := context.Background()

	for _, tc := range []struct {
		max  int
		want int
	}{
		{max: DefaultPostsLimit, want: 25},
		{max: 3, want: 5},
		{max: 1000, want: 100},
		{max: 42, want: 42},
	} {
		res := svc.Posts(ctx, "c1", "alice", tc.max)
		if res.Class != domain.ClassOK {
			t.Fatalf("max %d: expected ok, got %v", tc.max, res.Class)
		}
		social.mu.Lock()
		got := social.lastTimelineLimit
		social.mu.Unlock()
		if got != tc.want {
			t.Fatalf("max %d: expected upstream limit %d, got %d", tc.max, tc.want, got)
		}
	}
}

func TestService_PostsEmptyTimelineIsOKWithEmptyList(t *testing.T) {
	social := &fakeSocial{profile: testProfile()}
	svc, _, _ := newTestService(social)

	res := svc.Posts(context.Background(), "c1", "alice", DefaultPostsLimit)
	if res.Class != domain.ClassOK {
		t.Fatalf("expected ok for quiet profile, got %v (%s)", res.Class, res.Message)
	}
	if !strings.Contains(string(res.Body), `"posts":[]`) {
		t.Fatalf("expected empty array, got %s", res.Body)
	}
}

func TestService_SearchStrategyCachesEmbeddedAuthor(t *testing.T) {
	social := &fakeSocial{
		search: &domain.SearchResult{Posts: testPosts(), Author: testProfile()},
	}
	svc, _, _ := newTestService(social)
	svc.Strategy = StrategySearch
	ctx := context.Background()

	if res := svc.Posts(ctx, "c1", "alice", DefaultPostsLimit); res.Class != domain.ClassOK {
		t.Fatalf("expected posts ok, got %v", res.Class)
	}

	res := svc.Profile(ctx, "c1", "alice")
	if res.Class != domain.ClassOK || !res.Cached {
		t.Fatalf("expected profile served from embedded author, got %+v", res)
	}
	if lookup, search, _ := social.calls(); lookup != 0 || search != 1 {
		t.Fatalf("expected one search and no lookup, got lookup=%d search=%d", lookup, search)
	}
}

func TestService_SearchStrategyProfileFallsBackToLookup(t *testing.T) {
	social := &fakeSocial{profile: testProfile()}
	svc, _, _ := newTestService(social)
	svc.Strategy = StrategySearch

	res := svc.Profile(context.Background(), "c1", "alice")
	if res.Class != domain.ClassOK {
		t.Fatalf("expected ok via fallback, got %v (%s)", res.Class, res.Message)
	}
	if lookup, search, _ := social.calls(); lookup != 1 || search != 1 {
		t.Fatalf("expected search then lookup, got lookup=%d search=%d", lookup, search)
	}
}

func TestService_SearchStrategyEmptyForUnknownHandleIsNotFound(t *testing.T) {
	social := &fakeSocial{}
	svc, _, _ := newTestService(social)
	svc.Strategy = StrategySearch

	res := svc.Posts(context.Background(), "c1", "ghost", DefaultPostsLimit)
	if res.Class != domain.ClassNotFound {
		t.Fatalf("expected not_found for unknown handle, got %v", res.Class)
	}
}

func TestService_ScoreHappyPathCachesBothKeys(t *testing.T) {
	social := &fakeSocial{profile: testProfile(), posts: testPosts()}
	svc, cache, _ := newTestService(social)
	scorer := &fakeScorer{reply: `{"score": 120, "explanation": "dense"}`}
	svc.Scorer = scorer
	ctx := context.Background()

	res := svc.Score(ctx, "c1", "alice")
	if res.Class != domain.ClassOK {
		t.Fatalf("expected ok, got %v (%s)", res.Class, res.Message)
	}

	var payload struct {
		Handle      string `json:"handle"`
		PostID      string `json:"post_id"`
		Score       int    `json:"score"`
		Explanation string `json:"explanation"`
	}
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if payload.Score != 120 || payload.PostID != "t9" || payload.Handle != "alice" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	if _, ok := cache.get("score:alice"); !ok {
		t.Fatalf("expected handle-level score cached")
	}
	if _, ok := cache.get("score:alice:t9"); !ok {
		t.Fatalf("expected per-post score cached")
	}

	scorer.mu.Lock()
	lastText := scorer.lastText
	scorer.mu.Unlock()
	if lastText != "newest text" {
		t.Fatalf("expected newest post text scored, got %q", lastText)
	}

	second := svc.Score(ctx, "c1", "alice")
	if !second.Cached {
		t.Fatalf("expected second score served from cache")
	}
	if scorer.callCount() != 1 {
		t.Fatalf("expected one model call, got %d", scorer.callCount())
	}
}

func TestService_ScoreReusesPerPostVerdict(t *testing.T) {
	social := &fakeSocial{profile: testProfile(), posts: testPosts()}
	svc, cache, _ := newTestService(social)
	scorer := &fakeScorer{reply: `{"score": 99}`}
	svc.Scorer = scorer
	ctx := context.Background()

	seeded := []byte(`{"handle":"alice","post_id":"t9","score":108}`)
	cache.Store(ctx, domain.Key{Op: domain.OpScore, Handle: "alice", Param: "t9"}, seeded, 6*time.Hour)

	res := svc.Score(ctx, "c1", "alice")
	if res.Class != domain.ClassOK {
		t.Fatalf("expected ok, got %v", res.Class)
	}
	if string(res.Body) != string(seeded) {
		t.Fatalf("expected seeded verdict reused, got %s", res.Body)
	}
	if scorer.callCount() != 0 {
		t.Fatalf("expected no model call, got %d", scorer.callCount())
	}
	if _, ok := cache.get("score:alice"); !ok {
		t.Fatalf("expected handle-level entry refreshed from per-post verdict")
	}
}

func TestService_ScoreNoPostsIsNotFound(t *testing.T) {
	social := &fakeSocial{profile: testProfile()}
	svc, _, _ := newTestService(social)
	svc.Scorer = &fakeScorer{reply: `{"score": 100}`}

	res := svc.Score(context.Background(), "c1", "alice")
	if res.Class != domain.ClassNotFound {
		t.Fatalf("expected not_found without scorable content, got %v", res.Class)
	}
}

func TestService_ScoreSkipsEmptyTextPosts(t *testing.T) {
	social := &fakeSocial{profile: testProfile(), posts: []domain.Post{
		{ID: "t9", Text: "   "},
		{ID: "t8", Text: "older text"},
	}}
	svc, _, _ := newTestService(social)
	scorer := &fakeScorer{reply: `{"score": 90}`}
	svc.Scorer = scorer

	res := svc.Score(context.Background(), "c1", "alice")
	if res.Class != domain.ClassOK {
		t.Fatalf("expected ok, got %v (%s)", res.Class, res.Message)
	}
	scorer.mu.Lock()
	lastText := scorer.lastText
	scorer.mu.Unlock()
	if lastText != "older text" {
		t.Fatalf("expected blank newest post skipped, scored %q", lastText)
	}
	if !strings.Contains(string(res.Body), `"post_id":"t8"`) {
		t.Fatalf("expected verdict bound to t8, got %s", res.Body)
	}
}

func TestService_ScoreOnlyBlankPostsIsNotFound(t *testing.T) {
	social := &fakeSocial{profile: testProfile(), posts: []domain.Post{
		{ID: "t9", Text: " "},
	}}
	svc, _, _ := newTestService(social)
	svc.Scorer = &fakeScorer{reply: `{"score": 100}`}

	res := svc.Score(context.Background(), "c1", "alice")
	if res.Class != domain.ClassNotFound {
		t.Fatalf("expected not_found with only blank content, got %v", res.Class)
	}
}

func TestService_ScoreUnusableModelOutputNotCached(t *testing.T) {
	social := &fakeSocial{profile: testProfile(), posts: testPosts()}
	svc, cache, _ := newTestService(social)
	scorer := &fakeScorer{reply: "I would rather not say."}
	svc.Scorer = scorer
	ctx := context.Background()

	res := svc.Score(ctx, "c1", "alice")
	if res.Class != domain.ClassDerivationFailed {
		t.Fatalf("expected derivation_failed, got %v", res.Class)
	}
	if _, ok := cache.get("score:alice"); ok {
		t.Fatalf("expected failed derivation never cached")
	}
	if _, ok := cache.get("score:alice:t9"); ok {
		t.Fatalf("expected failed derivation never cached per post")
	}

	svc.Score(ctx, "c1", "alice")
	if scorer.callCount() != 2 {
		t.Fatalf("expected retry to reach the model again, got %d calls", scorer.callCount())
	}
}

func TestService_ScoreModelErrorIsDerivationFailed(t *testing.T) {
	social := &fakeSocial{profile: testProfile(), posts: testPosts()}
	svc, _, _ := newTestService(social)
	svc.Scorer = &fakeScorer{err: errors.New("model timeout")}

	res := svc.Score(context.Background(), "c1", "alice")
	if res.Class != domain.ClassDerivationFailed {
		t.Fatalf("expected derivation_failed, got %v", res.Class)
	}
}

func TestService_ScoreWithoutScorerIsUnavailable(t *testing.T) {
	social := &fakeSocial{profile: testProfile(), posts: testPosts()}
	svc, _, _ := newTestService(social)

	res := svc.Score(context.Background(), "c1", "alice")
	if res.Class != domain.ClassUnavailable {
		t.Fatalf("expected unavailable without scorer, got %v", res.Class)
	}
}

func TestService_ConcurrentMissesCollapse(t *testing.T) {
	social := &fakeSocial{profile: testProfile(), block: make(chan struct{})}
	svc, _, _ := newTestService(social)
	ctx := context.Background()

	const n = 4
	results := make(chan domain.Result, n)
	for i := 0; i < n; i++ {
		go func() { results <- svc.Profile(ctx, "c1", "alice") }()
	}

	waitFor(t, func() bool {
		lookup, _, _ := social.calls()
		return lookup >= 1
	})
	close(social.block)

	for i := 0; i < n; i++ {
		res := <-results
		if res.Class != domain.ClassOK {
			t.Fatalf("expected ok, got %v (%s)", res.Class, res.Message)
		}
	}
	if lookup, _, _ := social.calls(); lookup != 1 {
		t.Fatalf("expected concurrent misses collapsed to one lookup, got %d", lookup)
	}
}

func TestService_FetchOutlivesCallerCancel(t *testing.T) {
	social := &fakeSocial{profile: testProfile(), block: make(chan struct{})}
	svc, cache, _ := newTestService(social)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan domain.Result, 1)
	go func() { done <- svc.Profile(ctx, "c1", "alice") }()

	waitFor(t, func() bool {
		lookup, _, _ := social.calls()
		return lookup == 1
	})
	cancel()
	close(social.block)

	res := <-done
	if res.Class != domain.ClassOK {
		t.Fatalf("expected completed fetch despite cancel, got %v (%s)", res.Class, res.Message)
	}

	social.mu.Lock()
	ctxErr := social.lookupCtxErr
	social.mu.Unlock()
	if ctxErr != nil {
		t.Fatalf("expected detached fetch context, got %v", ctxErr)
	}
	if _, ok := cache.get("profile:alice"); !ok {
		t.Fatalf("expected result cached for the next caller")
	}
}

func TestService_RecordsOutcomeStats(t *testing.T) {
	social := &fakeSocial{profile: testProfile()}
	svc, _, _ := newTestService(social)
	stats := &fakeStats{}
	svc.Stats = stats
	svc.Limits.Client = &fakeLimiter{allow: true}
	ctx := context.Background()

	svc.Profile(ctx, "c1", "alice")
	svc.Profile(ctx, "c1", "alice")
	svc.Limits.Client = &fakeLimiter{allow: false, retryAfter: time.Minute}
	svc.Profile(ctx, "c2", "bob")

	evs := stats.all()
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evs))
	}
	if evs[0].Class != domain.ClassOK || evs[0].Cached {
		t.Fatalf("expected fresh ok first, got %+v", evs[0])
	}
	if evs[1].Class != domain.ClassOK || !evs[1].Cached {
		t.Fatalf("expected cached ok second, got %+v", evs[1])
	}
	if evs[2].Class != domain.ClassLimitedLocal || evs[2].Limiter != domain.LimitClient {
		t.Fatalf("expected limited event with budget recorded, got %+v", evs[2])
	}
	if evs[0].Op != domain.OpProfile {
		t.Fatalf("expected profile op recorded, got %q", evs[0].Op)
	}
}
