package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
)

// upstream-sim fakes the content API and the scoring model locally, so a
// gateway can be exercised end to end without real credentials. Set
// OVERLOAD_EVERY=5 to have every 5th content request answer 429 with a
// Retry-After, which is how the real upstream behaves under pressure.

type simProfile struct {
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

type simPost struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Metrics   struct {
		Likes   int64 `json:"likes"`
		Reposts int64 `json:"reposts"`
		Replies int64 `json:"replies"`
	} `json:"metrics"`
}

func seedProfiles() map[string]*simProfile {
	alice := &simProfile{ID: "p1", Handle: "alice", DisplayName: "Alice Vance", Verified: true}
	alice.Metrics.Followers = 12840
	alice.Metrics.Following = 311
	alice.Metrics.Posts = 3

	bob := &simProfile{ID: "p2", Handle: "bob", DisplayName: "Bob Ferreira"}
	bob.Metrics.Followers = 97
	bob.Metrics.Following = 204
	bob.Metrics.Posts = 1

	return map[string]*simProfile{"alice": alice, "bob": bob}
}

func seedPosts() map[string][]simPost {
	at := func(day, hour int) time.Time {
		return time.Date(2026, 2, day, hour, 0, 0, 0, time.UTC)
	}
	p1 := []simPost{
		{ID: "t9", Text: "Wrote up our migration to sliding window limiters today. The edge cases around clock skew were the fun part.", CreatedAt: at(12, 9)},
		{ID: "t8", Text: "Nothing teaches you a protocol like implementing it badly twice first.", CreatedAt: at(11, 18)},
		{ID: "t7", Text: "Coffee, then consensus.", CreatedAt: at(10, 7)},
	}
	p1[0].Metrics.Likes = 230
	p1[1].Metrics.Likes = 88
	p2 := []simPost{
		{ID: "t3", Text: "hello world", CreatedAt: at(9, 12)},
	}
	return map[string][]simPost{"p1": p1, "p2": p2}
}

type sim struct {
	profiles map[string]*simProfile
	posts    map[string][]simPost

	overloadEvery int64
	retryAfter    int
	modelReply    string

	reqs atomic.Int64
}

func main() {
	s := &sim{
		profiles:      seedProfiles(),
		posts:         seedPosts(),
		overloadEvery: int64(getenvIntDefault("OVERLOAD_EVERY", 0)),
		retryAfter:    getenvIntDefault("RETRY_AFTER_SECONDS", 45),
		modelReply:    getenvDefault("MODEL_REPLY", `{"score": 112, "explanation": "steady, structured prose"}`),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/profiles/", s.overloaded(s.profilesRoute))
	mux.HandleFunc("/v1/posts/search", s.overloaded(s.search))
	mux.HandleFunc("/v1/chat/completions", s.completions)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	addr := getenvDefault("LISTEN_ADDR", ":9090")
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("upstream-sim listening on %s (overloadEvery=%d retryAfter=%ds)", addr, s.overloadEvery, s.retryAfter)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// overloaded answers 429 on every Nth content request when configured.
func (s *sim) overloaded(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.overloadEvery > 0 {
			if n := s.reqs.Add(1); n%s.overloadEvery == 0 {
				w.Header().Set("Retry-After", strconv.Itoa(s.retryAfter))
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
				return
			}
		}
		next(w, r)
	}
}

func (s *sim) profilesRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/profiles/")
	if id, ok := strings.CutSuffix(rest, "/posts"); ok {
		s.timeline(w, r, id)
		return
	}
	s.profile(w, rest)
}

func (s *sim) profile(w http.ResponseWriter, handle string) {
	p, ok := s.profiles[strings.ToLower(handle)]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "profile not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": p})
}

func (s *sim) timeline(w http.ResponseWriter, r *http.Request, profileID string) {
	posts, ok := s.posts[profileID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "profile not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"posts": capPosts(posts, limitParam(r))},
	})
}

func (s *sim) search(w http.ResponseWriter, r *http.Request) {
	author := strings.ToLower(r.URL.Query().Get("author"))
	data := map[string]any{"posts": []simPost{}}
	if p, ok := s.profiles[author]; ok {
		data["posts"] = capPosts(s.posts[p.ID], limitParam(r))
		data["author"] = p
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (s *sim) completions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": s.modelReply}},
		},
	})
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 25
	}
	return n
}

func capPosts(posts []simPost, limit int) []simPost {
	if posts == nil {
		return []simPost{}
	}
	if len(posts) > limit {
		return posts[:limit]
	}
	return posts
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
