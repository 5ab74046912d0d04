package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/toneill57/muva-chat-sub006/internal/vectorstore"
)

func TestBuildPrompt(t *testing.T) {
	chunks := []vectorstore.SearchResult{
		{Chunk: vectorstore.Chunk{ContentType: vectorstore.ContentManual, SourceDocument: "wifi.md", Text: "Network: Guest, password: sunset2026"}},
		{Chunk: vectorstore.Chunk{ContentType: vectorstore.ContentTourism, SourceDocument: "beaches.md", Text: "Spratt Bight is a short walk north."}},
	}

	prompt := buildPrompt("what is the wifi password?", chunks)

	assert.Contains(t, prompt, "[1] (manual, wifi.md)")
	assert.Contains(t, prompt, "[2] (tourism, beaches.md)")
	assert.Contains(t, prompt, "Question: what is the wifi password?")
	assert.Less(t, strings.Index(prompt, "sunset2026"), strings.Index(prompt, "Question:"))
}

func TestBuildPromptNoChunks(t *testing.T) {
	prompt := buildPrompt("anything open late?", nil)
	assert.Contains(t, prompt, "(nothing relevant found)")
	assert.Contains(t, prompt, "Question: anything open late?")
}

func TestParseEntities(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{
			"plain json",
			`{"places":["Johnny Cay"]}`,
			map[string]any{"places": []any{"Johnny Cay"}},
		},
		{
			"fenced json",
			"```json\n{\"restaurants\":[\"El Totumasso\"]}\n```",
			map[string]any{"restaurants": []any{"El Totumasso"}},
		},
		{
			"leading prose",
			`Here you go: {"activities":["snorkeling"]}`,
			map[string]any{"activities": []any{"snorkeling"}},
		},
		{"garbage", "no json here", nil},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseEntities(tt.raw))
		})
	}
}
