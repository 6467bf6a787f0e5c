package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
)

// Summarizer condenses a batch of raw fragments into one summary suitable for
// a golden record. Backends are LLM endpoints or deterministic heuristics.
type Summarizer interface {
	Summarize(ctx context.Context, frags []model.MemoryFragment) (string, error)
}

// HeuristicSummarizer produces deterministic summaries suitable for tests and
// offline operation.
type HeuristicSummarizer struct{}

func (HeuristicSummarizer) Summarize(_ context.Context, frags []model.MemoryFragment) (string, error) {
	if len(frags) == 0 {
		return "", nil
	}
	var sentences []string
	for _, frag := range frags {
		sentences = append(sentences, strings.TrimSpace(frag.Text))
	}
	summary := strings.Join(sentences, " ")
	if len(summary) > 280 {
		summary = summary[:280]
	}
	return summary, nil
}

const summaryPrompt = "Condense the following conversation excerpts into a short factual summary. Keep names, places and stated preferences; drop filler.\n\n"

func joinFragments(frags []model.MemoryFragment) string {
	var b strings.Builder
	for _, frag := range frags {
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(frag.Text))
		b.WriteByte('\n')
	}
	return b.String()
}

// AnthropicSummarizer calls the Anthropic Messages API.
type AnthropicSummarizer struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicSummarizer reads ANTHROPIC_API_KEY from the env.
func NewAnthropicSummarizer(model string) *AnthropicSummarizer {
	key := os.Getenv("ANTHROPIC_API_KEY")
	cl := anthropic.NewClient(
		anthropicopt.WithAPIKey(key),
	)
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &AnthropicSummarizer{client: &cl, model: model, maxTokens: 512}
}

func (a *AnthropicSummarizer) Summarize(ctx context.Context, frags []model.MemoryFragment) (string, error) {
	if len(frags) == 0 {
		return "", nil
	}
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(a.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(summaryPrompt + joinFragments(frags))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic summarize: %w", err)
	}
	var b strings.Builder
	for _, cb := range msg.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// OpenAISummarizer calls the OpenAI chat completions API.
type OpenAISummarizer struct {
	client *openai.Client
	model  string
}

// NewOpenAISummarizer reads OPENAI_API_KEY (or OPENAI_KEY) from the env.
func NewOpenAISummarizer(model string) *OpenAISummarizer {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_KEY")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAISummarizer{client: openai.NewClient(apiKey), model: model}
}

func (o *OpenAISummarizer) Summarize(ctx context.Context, frags []model.MemoryFragment) (string, error) {
	if len(frags) == 0 {
		return "", nil
	}
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: summaryPrompt + joinFragments(frags),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("openai summarize: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai summarize: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
