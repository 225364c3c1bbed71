package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/proctor/internal/llm/prompts"
	"github.com/pavelanni/proctor/internal/model"
)

type fakeAPI struct {
	reply string
	err   error
	req   openai.ChatCompletionRequest
}

func (f *fakeAPI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.reply}}},
	}, nil
}

func newTestClient(t *testing.T, api chatAPI) *Client {
	t.Helper()
	if err := prompts.Load(nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return &Client{api: api, model: "test", variant: prompts.Standard}
}

func TestClampHalfStep(t *testing.T) {
	tests := []struct {
		score, points, want float64
	}{
		{2.5, 3, 2.5},
		{2.3, 3, 2.5},
		{2.2, 3, 2},
		{7, 3, 3},
		{-1, 3, 0},
		{3, 2.5, 2.5},
	}
	for _, tt := range tests {
		if got := clampHalfStep(tt.score, tt.points); got != tt.want {
			t.Errorf("clampHalfStep(%g, %g) = %g, want %g", tt.score, tt.points, got, tt.want)
		}
	}
}

func TestSuggestGrade(t *testing.T) {
	q := model.Question{Type: model.QuestionEssay, Prompt: "Explain evaporation.", Points: 3}

	t.Run("parses reply", func(t *testing.T) {
		api := &fakeAPI{reply: `{"score": 2.4, "feedback": "Mostly right."}`}
		got, err := newTestClient(t, api).SuggestGrade(context.Background(), 2, q, "Water turns to vapour.")
		if err != nil {
			t.Fatalf("SuggestGrade: %v", err)
		}
		if got.QuestionIndex != 2 || got.Score != 2.5 || got.Feedback != "Mostly right." {
			t.Errorf("suggestion = %+v", got)
		}
		if !strings.Contains(api.req.Messages[0].Content, "Water turns to vapour.") {
			t.Error("essay text missing from prompt")
		}
	})

	t.Run("bad json", func(t *testing.T) {
		api := &fakeAPI{reply: "three points"}
		if _, err := newTestClient(t, api).SuggestGrade(context.Background(), 0, q, "x"); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("api error", func(t *testing.T) {
		boom := errors.New("boom")
		api := &fakeAPI{err: boom}
		if _, err := newTestClient(t, api).SuggestGrade(context.Background(), 0, q, "x"); !errors.Is(err, boom) {
			t.Errorf("err = %v, want wrapped boom", err)
		}
	})
}

func TestNewRejectsUnknownVariant(t *testing.T) {
	if _, err := New("", "key", "gpt", "harsh"); err == nil {
		t.Error("unknown variant accepted")
	}
	c, err := New("http://localhost:11434/v1", "key", "llama", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.variant != prompts.Standard {
		t.Errorf("default variant = %s", c.variant)
	}
}
