package facts

import (
	"encoding/json"
	"net/http"
	"time"

	"profile-gateway/service/facts/domain"
)

type errorBody struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	Upstream          bool   `json:"upstream,omitempty"`
}

// writeResult translates a pipeline outcome to the wire. Success bodies go
// out byte-for-byte as the pipeline produced them; which local budget
// blocked a request is deliberately not disclosed.
func writeResult(w http.ResponseWriter, res domain.Result) {
	switch res.Class {
	case domain.ClassOK:
		w.Header().Set("Content-Type", "application/json")
		if res.Cached {
			w.Header().Set("X-Cache", "HIT")
		} else {
			w.Header().Set("X-Cache", "MISS")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Body)

	case domain.ClassBadInput:
		writeError(w, http.StatusBadRequest, errorBody{Error: res.Message})

	case domain.ClassNotFound:
		writeError(w, http.StatusNotFound, errorBody{Error: res.Message})

	case domain.ClassLimitedLocal:
		if secs := retryAfterSeconds(res.RetryAfter); secs > 0 {
			w.Header().Set("Retry-After", formatInt(secs))
		}
		writeError(w, http.StatusTooManyRequests, errorBody{Error: res.Message})

	case domain.ClassLimitedUpstream:
		secs := retryAfterSeconds(res.RetryAfter)
		if secs > 0 {
			w.Header().Set("Retry-After", formatInt(secs))
		}
		writeError(w, http.StatusTooManyRequests, errorBody{
			Error:             res.Message,
			RetryAfterSeconds: secs,
			Upstream:          true,
		})

	case domain.ClassDerivationFailed:
		writeError(w, http.StatusBadGateway, errorBody{Error: res.Message})

	case domain.ClassUnavailable:
		writeError(w, http.StatusServiceUnavailable, errorBody{Error: res.Message})

	default:
		writeError(w, http.StatusInternalServerError, errorBody{Error: res.Message})
	}
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// retryAfterSeconds rounds up so a positive wait never reads as zero.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
