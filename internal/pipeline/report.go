package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/market-research-crawler/internal/analysis"
)

// TimestampLayout renders scrapedAt as ISO-8601 with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Report is the result of one pipeline run.
type Report struct {
	RunID         string
	Domain        string
	Profile       string
	PagesAnalyzed int
	ScrapedAt     time.Time
	Provider      string
	Model         string
	// Fields is the object recovered from the model reply.
	Fields map[string]any
	// Violations are kept server-side and never serialized.
	Violations []analysis.Violation
}

// MarshalJSON renders the recovered fields merged with domain, pagesAnalyzed
// and scrapedAt. The metadata keys replace any same-named model keys.
func (r Report) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["domain"] = r.Domain
	out["pagesAnalyzed"] = r.PagesAnalyzed
	out["scrapedAt"] = r.ScrapedAt.UTC().Format(TimestampLayout)
	return json.Marshal(out)
}

// UnmarshalJSON splits a merged report back into metadata and fields. Run
// metadata that is not part of the wire form is left zero.
func (r *Report) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode report: %w", err)
	}

	var decoded Report
	if v, ok := raw["domain"].(string); ok {
		decoded.Domain = v
	}
	if v, ok := raw["pagesAnalyzed"].(json.Number); ok {
		n, err := v.Int64()
		if err != nil {
			return fmt.Errorf("decode pagesAnalyzed: %w", err)
		}
		decoded.PagesAnalyzed = int(n)
	}
	if v, ok := raw["scrapedAt"].(string); ok {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return fmt.Errorf("decode scrapedAt: %w", err)
		}
		decoded.ScrapedAt = ts.UTC()
	}
	delete(raw, "domain")
	delete(raw, "pagesAnalyzed")
	delete(raw, "scrapedAt")
	decoded.Fields = raw

	*r = decoded
	return nil
}

// RunRecord summarizes a completed run for the run index and completion
// events.
type RunRecord struct {
	RunID         string    `json:"runId"`
	Domain        string    `json:"domain"`
	Profile       string    `json:"profile"`
	PagesAnalyzed int       `json:"pagesAnalyzed"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	Violations    int       `json:"violations"`
	ScrapedAt     time.Time `json:"scrapedAt"`
	ArchiveURI    string    `json:"archiveUri,omitempty"`
}

func (r *Report) record(archiveURI string) RunRecord {
	return RunRecord{
		RunID:         r.RunID,
		Domain:        r.Domain,
		Profile:       r.Profile,
		PagesAnalyzed: r.PagesAnalyzed,
		Provider:      r.Provider,
		Model:         r.Model,
		Violations:    len(r.Violations),
		ScrapedAt:     r.ScrapedAt,
		ArchiveURI:    archiveURI,
	}
}
