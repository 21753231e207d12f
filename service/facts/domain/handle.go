package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Handle is the normalized identifier of the profile being queried.
// Only NormalizeHandle produces values of this type.
type Handle string

// handlePattern accepts the usual social handle alphabet after
// normalization. Kept permissive on purpose: the upstream is the authority
// on existence, this only rejects garbage early.
var handlePattern = regexp.MustCompile(`^[a-z0-9_][a-z0-9_.-]{0,63}$`)

// NormalizeHandle canonicalizes raw user input: trim space, strip one
// leading "@", lowercase. "@Jack" and "jack " normalize to the same handle
// so they share cache, limiter and cooldown-unrelated keys.
func NormalizeHandle(raw string) (Handle, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "@")
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || !handlePattern.MatchString(s) {
		return "", ErrBadHandle
	}
	return Handle(s), nil
}

// Op identifies one logical operation of the service.
type Op string

const (
	OpProfile Op = "profile"
	OpPosts   Op = "posts"
	OpScore   Op = "score"
)

// Key identifies one cacheable result: operation, normalized handle and an
// optional parameter (a result bound or a content item id). String is the
// single canonical serialization; no other code renders store keys.
type Key struct {
	Op     Op
	Handle Handle
	Param  string
}

func (k Key) String() string {
	if k.Param == "" {
		return fmt.Sprintf("%s:%s", k.Op, k.Handle)
	}
	return fmt.Sprintf("%s:%s:%s", k.Op, k.Handle, k.Param)
}
