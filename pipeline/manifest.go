package pipeline

import (
	"time"

	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/redact"
	"github.com/wudi/pdfredact/search"
	"github.com/wudi/pdfredact/verify"
)

// Manifest records what a run did. It never contains the redacted text.
type Manifest struct {
	RunID        string        `json:"runId"`
	Source       string        `json:"source,omitempty"`
	Destination  string        `json:"destination,omitempty"`
	SourceSHA256 string        `json:"sourceSha256"`
	OutputSHA256 string        `json:"outputSha256"`
	StartedAt    time.Time     `json:"startedAt"`
	Duration     time.Duration `json:"durationNs"`
	Pages        int           `json:"pages"`

	Specs    []SpecReport   `json:"specs"`
	Regions  []RegionReport `json:"regions"`
	Removed  Removed        `json:"removed"`
	Warnings []string       `json:"warnings,omitempty"`

	Verification *verify.Report `json:"verification,omitempty"`
}

// SpecReport is the outcome of one search spec.
type SpecReport struct {
	Name    string      `json:"name"`
	Kind    search.Kind `json:"kind"`
	Matches int         `json:"matches"`
	Regions int         `json:"regions"`
	// Truncated is set when the spec reached its result bound.
	Truncated bool   `json:"truncated,omitempty"`
	TimedOut  bool   `json:"timedOut,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RegionReport describes one planned region.
type RegionReport struct {
	Page     int         `json:"page"`
	Rect     coords.Rect `json:"rect"`
	Sources  []string    `json:"sources"`
	Negative bool        `json:"negative,omitempty"`
	Applied  bool        `json:"applied"`
	Skipped  string      `json:"skipped,omitempty"`
}

// Removed totals the content taken out of the document.
type Removed struct {
	Glyphs      int `json:"glyphs"`
	Paths       int `json:"paths"`
	Images      int `json:"images"`
	Shadings    int `json:"shadings"`
	Forms       int `json:"forms"`
	Annotations int `json:"annotations"`
}

// Applied counts the regions that were applied.
func (m *Manifest) Applied() int {
	n := 0
	for _, r := range m.Regions {
		if r.Applied && !r.Negative {
			n++
		}
	}
	return n
}

func regionReports(res *redact.Result) []RegionReport {
	out := make([]RegionReport, 0, len(res.Regions))
	for _, rr := range res.Regions {
		out = append(out, RegionReport{
			Page:     rr.Region.PageIndex,
			Rect:     rr.Region.Rect,
			Sources:  rr.Region.Sources,
			Negative: rr.Region.Negative,
			Applied:  rr.Applied,
			Skipped:  rr.Skipped,
		})
	}
	return out
}
