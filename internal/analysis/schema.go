// Package analysis turns crawled pages into a structured market research
// report. It builds a schema-constrained prompt, walks an ordered chain of
// language model attempts, recovers the JSON object from the model's reply,
// and checks the result against the schema's cardinality rules.
package analysis

import (
	"encoding/json"
	"fmt"
)

// SchemaVersion identifies the shape described by Schema.
const SchemaVersion = "2024.1"

// Band is an inclusive range of acceptable array lengths.
type Band struct {
	Min int
	Max int
}

// Contains reports whether n lies inside the band.
func (b Band) Contains(n int) bool {
	return n >= b.Min && n <= b.Max
}

// String renders the band the way the prompt states it.
func (b Band) String() string {
	return fmt.Sprintf("%d-%d", b.Min, b.Max)
}

var (
	keywordBand = Band{Min: 10, Max: 15}
	entryBand   = Band{Min: 5, Max: 8}
)

// ScalarFields are the top-level string fields of the report.
var ScalarFields = []string{"summary", "targetAudience", "sentiment", "sentimentReason"}

// ArrayField names a top-level array and its required cardinality.
type ArrayField struct {
	Name string
	Band Band
}

// ArrayFields lists every top-level array in schema order.
var ArrayFields = []ArrayField{
	{Name: "customerNeeds", Band: entryBand},
	{Name: "customerProblems", Band: entryBand},
	{Name: "businessSolutions", Band: entryBand},
	{Name: "customerIssues", Band: entryBand},
	{Name: "keywords", Band: keywordBand},
	{Name: "mostSearchedTopics", Band: entryBand},
	{Name: "areasOfInterest", Band: entryBand},
	{Name: "demandSignals", Band: entryBand},
	{Name: "trendChanges", Band: entryBand},
	{Name: "topProducts", Band: entryBand},
}

// GeographicLists are the arrays nested under geographicInsights.
var GeographicLists = []string{"countries", "states", "cities"}

// Sentiments are the accepted values of the sentiment field.
var Sentiments = []string{"positive", "neutral", "negative"}

type schemaDoc struct {
	Summary            string             `json:"summary"`
	TargetAudience     string             `json:"targetAudience"`
	Sentiment          string             `json:"sentiment"`
	SentimentReason    string             `json:"sentimentReason"`
	CustomerNeeds      []needEntry        `json:"customerNeeds"`
	CustomerProblems   []problemEntry     `json:"customerProblems"`
	BusinessSolutions  []solutionEntry    `json:"businessSolutions"`
	CustomerIssues     []issueEntry       `json:"customerIssues"`
	Keywords           []keywordEntry     `json:"keywords"`
	MostSearchedTopics []searchTopicEntry `json:"mostSearchedTopics"`
	AreasOfInterest    []interestEntry    `json:"areasOfInterest"`
	GeographicInsights geoInsights        `json:"geographicInsights"`
	DemandSignals      []signalEntry      `json:"demandSignals"`
	TrendChanges       []trendEntry       `json:"trendChanges"`
	TopProducts        []productEntry     `json:"topProducts"`
}

type needEntry struct {
	Need     string `json:"need"`
	Evidence string `json:"evidence"`
	Priority string `json:"priority"`
}

type problemEntry struct {
	Problem  string `json:"problem"`
	Severity string `json:"severity"`
	Context  string `json:"context"`
}

type solutionEntry struct {
	Solution       string `json:"solution"`
	TargetsProblem string `json:"targetsProblem"`
	Effectiveness  string `json:"effectiveness"`
}

type issueEntry struct {
	Issue     string `json:"issue"`
	Frequency string `json:"frequency"`
	Category  string `json:"category"`
}

type keywordEntry struct {
	Keyword   string `json:"keyword"`
	Rank      int    `json:"rank"`
	Frequency string `json:"frequency"`
	Category  string `json:"category"`
}

type searchTopicEntry struct {
	Topic    string `json:"topic"`
	Rank     int    `json:"rank"`
	Evidence string `json:"evidence"`
}

type interestEntry struct {
	Topic     string `json:"topic"`
	Frequency string `json:"frequency"`
}

type geoInsights struct {
	Countries []string `json:"countries"`
	States    []string `json:"states"`
	Cities    []string `json:"cities"`
}

type signalEntry struct {
	Signal      string `json:"signal"`
	Description string `json:"description"`
}

type trendEntry struct {
	Trend       string `json:"trend"`
	Direction   string `json:"direction"`
	Description string `json:"description"`
}

type productEntry struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

var schemaExample = schemaDoc{
	Summary:         "3-4 sentence comprehensive overview",
	TargetAudience:  "customer persona details",
	Sentiment:       "positive|neutral|negative",
	SentimentReason: "evidence",
	CustomerNeeds:   []needEntry{{Need: "need", Evidence: "ref", Priority: "high|medium|low"}},
	CustomerProblems: []problemEntry{
		{Problem: "pain point", Severity: "critical|high|medium|low", Context: "where"},
	},
	BusinessSolutions: []solutionEntry{
		{Solution: "how they solve it", TargetsProblem: "problem", Effectiveness: "rating"},
	},
	CustomerIssues: []issueEntry{
		{Issue: "complaint", Frequency: "high|medium|low", Category: "pricing|support|product|delivery|other"},
	},
	Keywords: []keywordEntry{
		{Keyword: "key term", Rank: 1, Frequency: "high|medium|low", Category: "product|feature|pain-point|location|brand"},
	},
	MostSearchedTopics: []searchTopicEntry{{Topic: "search topic", Rank: 1, Evidence: "why"}},
	AreasOfInterest:    []interestEntry{{Topic: "topic", Frequency: "high|medium|low"}},
	GeographicInsights: geoInsights{Countries: []string{}, States: []string{}, Cities: []string{}},
	DemandSignals:      []signalEntry{{Signal: "demand", Description: "context"}},
	TrendChanges:       []trendEntry{{Trend: "shift", Direction: "rising|falling|stable", Description: "details"}},
	TopProducts:        []productEntry{{Name: "item", Category: "cat", Description: "desc"}},
}

var schemaJSON = mustIndent(schemaExample)

// Schema returns the example object embedded in every prompt, indented with
// two spaces.
func Schema() string {
	return schemaJSON
}

func mustIndent(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(fmt.Sprintf("marshal schema: %v", err))
	}
	return string(b)
}
