package analysis

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/market-research-crawler/internal/crawler"
)

func samplePages() []crawler.PageRecord {
	return []crawler.PageRecord{
		{
			URL:             "https://x.com",
			Title:           "X Bakery",
			MetaDescription: "Fresh bread daily",
			Headings:        []string{"Welcome home", "Our ovens"},
			Paragraphs:      []string{"Great service and the best sourdough in town, every single day."},
			Reviews:         []string{"Lovely staff and warm croissants."},
			Products:        []string{"Sourdough loaf $6"},
		},
		{
			URL:        "https://x.com/about",
			Headings:   []string{},
			Paragraphs: []string{},
			Reviews:    []string{},
			Products:   []string{},
		},
	}
}

func TestBuildPromptRendersPages(t *testing.T) {
	t.Parallel()

	prompt := BuildPrompt(samplePages(), "x.com")

	assert.Contains(t, prompt, `analyze the scraped content from "x.com"`)
	assert.Contains(t, prompt, "=== PAGE: https://x.com ===\nTitle: X Bakery\nMeta: Fresh bread daily\n")
	assert.Contains(t, prompt, "Headings: Welcome home | Our ovens")
	assert.Contains(t, prompt, "Great service and the best sourdough in town, every single day.")
	assert.Contains(t, prompt, "Reviews: Lovely staff and warm croissants.")
	assert.Contains(t, prompt, "Products: Sourdough loaf $6\n\n=== PAGE: https://x.com/about ===")
	assert.Contains(t, prompt, "KEYWORDS: Provide EXACTLY 10-15 ranked items.")
	assert.Contains(t, prompt, "Provide EXACTLY 5-8 descriptive entries each")
	assert.True(t, strings.HasSuffix(prompt, "SCHEMA TO FOLLOW:\n"+Schema()))
}

func TestBuildPromptIsDeterministic(t *testing.T) {
	t.Parallel()

	assert.Equal(t, BuildPrompt(samplePages(), "x.com"), BuildPrompt(samplePages(), "x.com"))
}

func TestBuildPromptWithoutPages(t *testing.T) {
	t.Parallel()

	prompt := BuildPrompt(nil, "x.com")
	assert.Contains(t, prompt, "CONTENT:\n\n\nSCHEMA TO FOLLOW:")
}

func TestSchemaListsEveryField(t *testing.T) {
	t.Parallel()

	schema := Schema()
	assert.True(t, strings.HasPrefix(schema, "{\n  \"summary\": "))

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(schema), &doc))
	for _, name := range ScalarFields {
		assert.Contains(t, doc, name)
	}
	for _, af := range ArrayFields {
		assert.IsType(t, []any{}, doc[af.Name], af.Name)
	}
	geo, ok := doc["geographicInsights"].(map[string]any)
	require.True(t, ok)
	for _, list := range GeographicLists {
		assert.Equal(t, []any{}, geo[list])
	}
}
