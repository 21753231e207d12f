package facts

import (
	"net/http"
	"strconv"
	"strings"

	"profile-gateway/service/facts/application"
	"profile-gateway/service/facts/domain"
)

// Options configures the HTTP surface.
type Options struct {
	// KeyFn overrides client identity extraction. When nil, the default
	// chain built from the remaining fields applies.
	KeyFn KeyFunc

	// JWTSecret enables billing verified bearer tokens to their subject.
	JWTSecret []byte

	// KeyHeader names a trusted client-id header (for example X-Api-Key).
	KeyHeader string

	// TrustXForwardedFor keys anonymous clients by the first
	// X-Forwarded-For hop instead of the peer address.
	TrustXForwardedFor bool
}

// NewHandler mounts the API onto a fresh mux:
//
//	GET /api/profile?handle=H
//	GET /api/posts?handle=H&max=N
//	GET /api/score?handle=H
//	GET /health
func NewHandler(svc *application.Service, opts Options) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.JWTSecret, opts.KeyHeader, opts.TrustXForwardedFor)
	}
	h := &handler{svc: svc, keyFn: opts.KeyFn}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/profile", h.profile)
	mux.HandleFunc("/api/posts", h.posts)
	mux.HandleFunc("/api/score", h.score)
	mux.HandleFunc("/health", health)
	return mux
}

type handler struct {
	svc   *application.Service
	keyFn KeyFunc
}

func (h *handler) profile(w http.ResponseWriter, r *http.Request) {
	if !methodIsGet(w, r) {
		return
	}
	res := h.svc.Profile(r.Context(), h.keyFn(r), r.URL.Query().Get("handle"))
	writeResult(w, res)
}

func (h *handler) posts(w http.ResponseWriter, r *http.Request) {
	if !methodIsGet(w, r) {
		return
	}

	max := application.DefaultPostsLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("max")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeResult(w, domain.Result{
				Class:   domain.ClassBadInput,
				Message: "max must be an integer",
			})
			return
		}
		max = n
	}

	res := h.svc.Posts(r.Context(), h.keyFn(r), r.URL.Query().Get("handle"), max)
	writeResult(w, res)
}

func (h *handler) score(w http.ResponseWriter, r *http.Request) {
	if !methodIsGet(w, r) {
		return
	}
	res := h.svc.Score(r.Context(), h.keyFn(r), r.URL.Query().Get("handle"))
	writeResult(w, res)
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func methodIsGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	writeError(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	return false
}
