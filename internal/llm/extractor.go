package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"
)

// Extractor pulls structured entity mentions out of an assistant turn so
// they can be stored with the message. Extraction is best-effort; a failure
// never blocks the chat flow.
type Extractor struct {
	client *AnthropicClient
	logger *zap.Logger
}

// NewExtractor creates an extractor sharing the answer client's connection.
func NewExtractor(client *AnthropicClient, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{client: client, logger: logger.Named("extractor")}
}

const extractSystemPrompt = `Extract the concrete places, activities,
restaurants, services, and events mentioned in the text. Respond with a
single JSON object whose keys are from {"places","activities","restaurants",
"services","events"} and whose values are arrays of names. Omit empty keys.
Respond with JSON only.`

// Extract returns the entities mentioned in text, or nil when extraction
// fails or finds nothing.
func (e *Extractor) Extract(ctx context.Context, text string) map[string]any {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	message, err := e.client.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.client.config.Model),
		MaxTokens: 512,
		System: []anthropic.TextBlockParam{
			{Text: extractSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		e.logger.Debug("entity extraction failed", zap.Error(err))
		return nil
	}

	var raw strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			raw.WriteString(block.Text)
		}
	}

	entities := parseEntities(raw.String())
	if len(entities) == 0 {
		return nil
	}
	return entities
}

// parseEntities decodes the model's JSON, tolerating fenced code blocks and
// leading prose.
func parseEntities(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	var entities map[string]any
	if err := json.Unmarshal([]byte(raw), &entities); err != nil {
		return nil
	}
	return entities
}
