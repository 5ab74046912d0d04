// Package llm wraps the language-model collaborator that turns retrieved
// chunks into a guest-facing answer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/toneill57/muva-chat-sub006/internal/vectorstore"
)

// ErrEmptyAnswer indicates the model returned no usable text.
var ErrEmptyAnswer = errors.New("empty answer from model")

// Client produces an answer to a guest question grounded in retrieved
// chunks.
type Client interface {
	Answer(ctx context.Context, question string, chunks []vectorstore.SearchResult) (string, error)
}

// Config holds Anthropic client settings.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = "claude-haiku-4-5"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
}

// AnthropicClient is the production Client over the Anthropic API.
type AnthropicClient struct {
	client anthropic.Client
	config Config
}

// NewAnthropicClient creates an Anthropic-backed client.
func NewAnthropicClient(config Config) (*AnthropicClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	config.applyDefaults()
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(config.APIKey)),
		config: config,
	}, nil
}

const answerSystemPrompt = `You are a concierge assistant for a hotel guest.
Answer using only the provided context. If the context does not contain the
answer, say so briefly and suggest asking reception. Reply in the language
of the question. Be concise and warm.`

// Answer implements Client.
func (c *AnthropicClient) Answer(ctx context.Context, question string, chunks []vectorstore.SearchResult) (string, error) {
	prompt := buildPrompt(question, chunks)

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		MaxTokens: int64(c.config.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: answerSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic request: %w", err)
	}

	var answer strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			answer.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(answer.String()) == "" {
		return "", ErrEmptyAnswer
	}
	return answer.String(), nil
}

// buildPrompt lays out the retrieved chunks above the question, most
// relevant first, with their source documents named so the model can cite.
func buildPrompt(question string, chunks []vectorstore.SearchResult) string {
	var b strings.Builder
	if len(chunks) == 0 {
		b.WriteString("Context: (nothing relevant found)\n\n")
	} else {
		b.WriteString("Context:\n")
		for i, chunk := range chunks {
			fmt.Fprintf(&b, "[%d] (%s, %s)\n%s\n\n", i+1, chunk.ContentType, chunk.SourceDocument, chunk.Text)
		}
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}
