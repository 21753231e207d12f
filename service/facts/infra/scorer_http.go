package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"profile-gateway/service/facts/domain"
)

const scorerSystemPrompt = `You estimate a plausibility score for the author of a social media post.
Read the post text and answer with a JSON object of the form
{"score": <integer between 55 and 145>, "explanation": "<one short sentence>"}
and nothing else.`

// ModelScorer asks a chat-completion style endpoint to rate a text. It
// returns the model's raw reply; turning that into a number is pipeline
// logic, not transport.
type ModelScorer struct {
	base   string
	apiKey string
	model  string
	httpc  *http.Client
}

var _ domain.Scorer = (*ModelScorer)(nil)

type ScorerOption func(*ModelScorer)

func WithScorerHTTPClient(c *http.Client) ScorerOption {
	return func(s *ModelScorer) { s.httpc = c }
}

func NewModelScorer(baseURL, apiKey, model string, opts ...ScorerOption) *ModelScorer {
	s := &ModelScorer{
		base:   strings.TrimRight(baseURL, "/"),
		apiKey: apiKey,
		model:  model,
		httpc:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (s *ModelScorer) ScoreText(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: scorerSystemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("scorer: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("scorer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("scorer: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, socialMaxBody))
	if err != nil {
		return "", fmt.Errorf("scorer: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("scorer: status %d: %s", resp.StatusCode, truncate(data, 120))
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("scorer: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("scorer: model returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}
