// Package llm asks an OpenAI-compatible model for essay score
// suggestions. Suggestions are advisory and never stored by this package.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/proctor/internal/llm/prompts"
	"github.com/pavelanni/proctor/internal/model"
)

// Suggestion is the model's proposed grade for one essay.
type Suggestion struct {
	QuestionIndex int     `json:"question_index"`
	Score         float64 `json:"score"`
	Feedback      string  `json:"feedback"`
}

type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     chatAPI
	model   string
	variant prompts.Variant
}

// New creates a client. An empty baseURL uses the OpenAI endpoint.
func New(baseURL, apiKey, modelName string, variant prompts.Variant) (*Client, error) {
	if err := prompts.Load(nil); err != nil {
		return nil, err
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if variant == "" {
		variant = prompts.Standard
	}
	if !prompts.IsValidVariant(string(variant)) {
		return nil, fmt.Errorf("unknown prompt variant %q", variant)
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: variant,
	}, nil
}

// SuggestGrade proposes a score for the essay answer to q. The score is
// clamped to 0..points and rounded to the nearest half point.
func (c *Client) SuggestGrade(ctx context.Context, index int, q model.Question, answer string) (Suggestion, error) {
	system, err := prompts.BuildGradePrompt(c.variant, q, answer)
	if err != nil {
		return Suggestion{}, err
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return Suggestion{}, fmt.Errorf("LLM grading API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Suggestion{}, fmt.Errorf("LLM returned no choices for grading")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "question", index, "raw", raw)

	var out struct {
		Score    float64 `json:"score"`
		Feedback string  `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Suggestion{}, fmt.Errorf("parse grading response: %w (raw: %s)", err, raw)
	}
	return Suggestion{
		QuestionIndex: index,
		Score:         clampHalfStep(out.Score, q.Points),
		Feedback:      out.Feedback,
	}, nil
}

func clampHalfStep(score, points float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	score = math.Round(score*2) / 2
	return math.Max(0, math.Min(score, math.Floor(points*2)/2))
}
