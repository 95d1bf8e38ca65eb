// SPDX-License-Identifier: MIT

package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/submaker/submaker/internal/log"
	"github.com/submaker/submaker/internal/providers"
	"github.com/submaker/submaker/internal/subtitle"
)

// Translator turns one batch of cues into the target language.
type Translator interface {
	TranslateBatch(ctx context.Context, cues []subtitle.Cue, targetLang string) ([]subtitle.Cue, error)
}

const (
	// batchSeparator delimits cues inside one prompt so the model cannot
	// merge adjacent lines.
	batchSeparator = "\n===SUBTITLE===\n"

	// maxBatchAttempts covers models that occasionally drop a marker.
	maxBatchAttempts = 3
)

const systemPrompt = "You are a professional subtitle translator. Translate each numbered segment " +
	"into the requested language. Preserve line breaks within segments, keep markers " +
	"and separators exactly as given, and return nothing but the translated segments."

// OpenAITranslator speaks any OpenAI-compatible chat completion API.
type OpenAITranslator struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

// NewOpenAITranslator builds the client. baseURL may point at any
// compatible endpoint; empty selects the official API.
func NewOpenAITranslator(apiKey, baseURL, model string) *OpenAITranslator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAITranslator{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: log.WithComponent("translate.openai"),
	}
}

func (t *OpenAITranslator) TranslateBatch(ctx context.Context, cues []subtitle.Cue, targetLang string) ([]subtitle.Cue, error) {
	if len(cues) == 0 {
		return nil, nil
	}

	prompt := buildPrompt(cues, targetLang)

	var lastErr error
	for attempt := 0; attempt < maxBatchAttempts; attempt++ {
		resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: t.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			return nil, classifyBackendError(err)
		}
		if len(resp.Choices) == 0 {
			lastErr = &providers.OpError{Provider: "translate", Op: "translate", Code: providers.CodeServerError,
				Err: errors.New("empty completion")}
			continue
		}

		choice := resp.Choices[0]
		switch choice.FinishReason {
		case openai.FinishReasonLength:
			return nil, &providers.OpError{Provider: "translate", Op: "translate", Code: providers.CodeMaxTokens}
		case openai.FinishReasonContentFilter:
			return nil, &providers.OpError{Provider: "translate", Op: "translate", Code: providers.CodeProhibitedContent}
		}

		texts := parseBatchResponse(choice.Message.Content, len(cues))
		if texts == nil {
			lastErr = fmt.Errorf("segment count mismatch on attempt %d", attempt+1)
			t.logger.Warn().
				Str("event", "translate.batch_mismatch").
				Int("attempt", attempt+1).
				Int("expected", len(cues)).
				Msg("model returned wrong segment count, retrying")
			continue
		}

		out := make([]subtitle.Cue, len(cues))
		copy(out, cues)
		for i := range out {
			out[i].Text = texts[i]
		}
		return out, nil
	}
	return nil, &providers.OpError{Provider: "translate", Op: "translate", Code: providers.CodeServerError, Err: lastErr}
}

func buildPrompt(cues []subtitle.Cue, targetLang string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate the following %d subtitle segments into %s.\n\n", len(cues), targetLang)
	for i, cue := range cues {
		if i > 0 {
			b.WriteString(batchSeparator)
		}
		fmt.Fprintf(&b, "[%d]\n%s", i+1, cue.Text)
	}
	return b.String()
}

// parseBatchResponse splits the completion back into per-cue texts; nil
// means the segment count did not line up.
func parseBatchResponse(content string, want int) []string {
	parts := strings.Split(content, strings.TrimSpace(batchSeparator))
	if len(parts) != want {
		return nil
	}
	out := make([]string, want)
	for i, part := range parts {
		text := strings.TrimSpace(part)
		// Strip the "[n]" marker when the model echoed it back.
		if strings.HasPrefix(text, "[") {
			if idx := strings.Index(text, "]"); idx > 0 && idx < 6 {
				text = strings.TrimSpace(text[idx+1:])
			}
		}
		if text == "" {
			return nil
		}
		out[i] = text
	}
	return out
}

// classifyBackendError maps client errors onto the shared taxonomy.
func classifyBackendError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		oe := &providers.OpError{Provider: "translate", Op: "translate", Status: apiErr.HTTPStatusCode, Err: err}
		switch {
		case apiErr.HTTPStatusCode == 429:
			oe.Code = providers.CodeRateLimit
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			oe.Code = providers.CodeAuthentication
		case apiErr.HTTPStatusCode >= 500:
			oe.Code = providers.CodeServerError
		default:
			oe.Code = providers.CodeClientError
		}
		return oe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &providers.OpError{Provider: "translate", Op: "translate", Code: providers.CodeTimeout, Err: err}
	}
	return &providers.OpError{Provider: "translate", Op: "translate", Code: providers.CodeNetwork, Err: err}
}
