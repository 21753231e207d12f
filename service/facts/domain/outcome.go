package domain

import "time"

// Class buckets every pipeline outcome. Transport bindings map classes to
// wire statuses; stats stores aggregate by class.
type Class int

const (
	ClassOK Class = iota
	ClassBadInput
	ClassNotFound
	ClassLimitedLocal
	ClassLimitedUpstream
	ClassDerivationFailed
	ClassUnavailable
	ClassInternal
)

func (c Class) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassBadInput:
		return "bad_input"
	case ClassNotFound:
		return "not_found"
	case ClassLimitedLocal:
		return "limited_local"
	case ClassLimitedUpstream:
		return "limited_upstream"
	case ClassDerivationFailed:
		return "derivation_failed"
	case ClassUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Result is what one pipeline run produces. Body is the opaque serialized
// success payload and is byte-identical to what the cache stores.
type Result struct {
	Class  Class
	Body   []byte
	Cached bool

	// Message is the human-readable failure text. Empty on success.
	Message string

	// RetryAfter is set on limited outcomes.
	RetryAfter time.Duration

	// Upstream marks overloads signaled by the upstream itself rather
	// than a local budget.
	Upstream bool

	// Limiter records which local budget tripped. Internal only:
	// transport bindings must not expose it to callers.
	Limiter LimiterClass
}
