package facts

import (
	"net/http"
	"time"

	"profile-gateway/service/facts/application"
	"profile-gateway/service/facts/domain"
	"profile-gateway/service/facts/infra"
)

type ConcurrencyOptions struct {
	Max            int
	AcquireTimeout time.Duration
}

// ConcurrencyMiddleware caps in-flight requests. Max <= 0 disables it.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	svc := application.ConcurrencyService{
		Pool:           infra.NewInflightPool(opts.Max),
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := svc.Acquire(r.Context())
			if !ok {
				writeResult(w, domain.Result{
					Class:   domain.ClassUnavailable,
					Message: "server is at capacity",
				})
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
