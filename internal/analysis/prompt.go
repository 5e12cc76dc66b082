package analysis

import (
	"strings"

	"github.com/JakeFAU/market-research-crawler/internal/crawler"
)

// BuildPrompt renders pages and the schema into the instruction sent to every
// provider. The output depends only on its inputs.
func BuildPrompt(pages []crawler.PageRecord, domain string) string {
	sections := make([]string, 0, len(pages))
	for _, p := range pages {
		sections = append(sections, strings.Join([]string{
			"=== PAGE: " + p.URL + " ===",
			"Title: " + p.Title,
			"Meta: " + p.MetaDescription,
			"Headings: " + strings.Join(p.Headings, " | "),
			"Content: " + strings.Join(p.Paragraphs, " "),
			"Reviews: " + strings.Join(p.Reviews, " "),
			"Products: " + strings.Join(p.Products, " "),
		}, "\n"))
	}

	var b strings.Builder
	b.WriteString(`You are a world-class market research analyst. Extensively analyze the scraped content from "`)
	b.WriteString(domain)
	b.WriteString(`".

STRICT QUANTITY RULES:
1. KEYWORDS: Provide EXACTLY ` + keywordBand.String() + ` ranked items.
2. ALL OTHER ARRAY FIELDS: Provide EXACTLY ` + entryBand.String() + ` descriptive entries each (Needs, Problems, Solutions, Issues, Topics, Interests, Signals, Trends, Products).

JSON RULES:
- Return ONLY the JSON object.
- NO conversational text before or after the JSON.
- NO commentary or apology.
- Ensure all quotes inside JSON are properly escaped.

CONTENT:
`)
	b.WriteString(strings.Join(sections, "\n\n"))
	b.WriteString("\n\nSCHEMA TO FOLLOW:\n")
	b.WriteString(Schema())
	return b.String()
}
