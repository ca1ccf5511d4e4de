// Summary alert_message composition: an LLM-authored one-line summary of
// the execution log's detection -> condition -> trigger chain. Only
// exercised when AlertConfig.MessageFormat == FormatSummary and an API
// key is configured; the detailed/simple formats never call out.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Summarizer composes a one-line alert_message from an execution log.
type Summarizer interface {
	Summarize(ctx context.Context, sourceName string, entries []LogEntry) (string, error)
}

// OpenAISummarizer is the default Summarizer, backed by the OpenAI chat
// completions API.
type OpenAISummarizer struct {
	client *openai.Client
	model  string
}

// NewOpenAISummarizer constructs a summarizer from an API key. Returns nil
// if apiKey is empty, meaning format "summary" should fall back to
// detailed (no API key configured).
func NewOpenAISummarizer(apiKey string) *OpenAISummarizer {
	if apiKey == "" {
		return nil
	}
	return &OpenAISummarizer{client: openai.NewClient(apiKey), model: openai.GPT4oMini}
}

// Summarize asks the model for a single-sentence incident summary of the
// collected log entries.
func (s *OpenAISummarizer) Summarize(ctx context.Context, sourceName string, entries []LogEntry) (string, error) {
	var lines []string
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", e.Level, e.NodeID, e.Content))
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "Summarize a video analytics alert's execution log in one short sentence for an operator dashboard.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Source: %s\nLog:\n%s", sourceName, strings.Join(lines, "\n")),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("workflow: summarize alert message: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("workflow: summarize alert message: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
