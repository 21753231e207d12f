package domain

import "context"

// Scorer is the generative model collaborator. It returns the raw model
// output; parsing, bounds and fallbacks are pipeline concerns.
type Scorer interface {
	ScoreText(ctx context.Context, text string) (string, error)
}
