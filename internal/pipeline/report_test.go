package pipeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/market-research-crawler/internal/analysis"
)

func TestReportMarshalMergesMetadata(t *testing.T) {
	t.Parallel()

	report := Report{
		RunID:         "run-1",
		Domain:        "x.com",
		PagesAnalyzed: 3,
		ScrapedAt:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Fields: map[string]any{
			"summary": "bakery",
			"domain":  "model-invented.com",
		},
		Violations: []analysis.Violation{{Field: "keywords", Problem: "missing"}},
	}

	b, err := json.Marshal(report)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"summary":"bakery","domain":"x.com","pagesAnalyzed":3,"scrapedAt":"2024-01-02T03:04:05.000Z"}`,
		string(b))
	assert.Equal(t, "model-invented.com", report.Fields["domain"])
}

func TestReportMarshalConvertsToUTC(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+2", 2*60*60)
	report := Report{ScrapedAt: time.Date(2024, 1, 2, 5, 0, 0, 123456789, loc)}

	b, err := json.Marshal(report)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"scrapedAt":"2024-01-02T03:00:00.123Z"`)
}

func TestReportUnmarshalSplitsMetadata(t *testing.T) {
	t.Parallel()

	var report Report
	err := json.Unmarshal([]byte(
		`{"summary":"bakery","keywords":[],"domain":"x.com","pagesAnalyzed":2,"scrapedAt":"2024-01-02T03:04:05.678Z"}`,
	), &report)
	require.NoError(t, err)

	assert.Equal(t, "x.com", report.Domain)
	assert.Equal(t, 2, report.PagesAnalyzed)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 678*int(time.Millisecond), time.UTC), report.ScrapedAt)
	assert.Equal(t, map[string]any{"summary": "bakery", "keywords": []any{}}, report.Fields)
}

func TestReportUnmarshalRejectsBadTimestamp(t *testing.T) {
	t.Parallel()

	var report Report
	err := json.Unmarshal([]byte(`{"scrapedAt":"yesterday"}`), &report)
	require.Error(t, err)
}

func TestArchivePath(t *testing.T) {
	t.Parallel()

	report := &Report{RunID: "abc", ScrapedAt: time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)}
	assert.Equal(t, "x.com/2024/12/31/abc.json", ArchivePath("", "x.com", report))
	assert.Equal(t, "reports/x.com/2024/12/31/abc.json", ArchivePath("reports", "x.com", report))
}
