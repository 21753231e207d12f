package application

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"profile-gateway/service/facts/domain"
)

// Score bounds. Model output is clamped into this range, never rejected
// for being out of it.
const (
	MinScore = 55
	MaxScore = 145
)

// scorePattern recovers a bare 2-3 digit integer from free-form model
// text. Longer digit runs are deliberately not matched: they are ids or
// years, not scores.
var scorePattern = regexp.MustCompile(`\b\d{2,3}\b`)

// ParseScore extracts the score and optional explanation from a model
// reply. The strict path expects the reply to be exactly the JSON object
// the prompt asks for; models drift, so a bare-number scan of the raw text
// is the fallback. No recoverable integer at all is ErrNoScore.
func ParseScore(reply string) (int, string, error) {
	var out struct {
		Score       *int   `json:"score"`
		Explanation string `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply)), &out); err == nil && out.Score != nil {
		return clampScore(*out.Score), out.Explanation, nil
	}

	if m := scorePattern.FindString(reply); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return clampScore(n), "", nil
		}
	}
	return 0, "", domain.ErrNoScore
}

func clampScore(n int) int {
	if n < MinScore {
		return MinScore
	}
	if n > MaxScore {
		return MaxScore
	}
	return n
}
