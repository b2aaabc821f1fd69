// Package pipeline runs a redaction job end to end: open, search every
// page, plan, apply, serialize, verify and write.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wudi/pdfredact/document"
	"github.com/wudi/pdfredact/extractor"
	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/redact"
	"github.com/wudi/pdfredact/search"
	"github.com/wudi/pdfredact/verify"
)

// ErrNoSpecs is returned for a job without search specs.
var ErrNoSpecs = errors.New("no search specs")

type Options struct {
	// Workers bounds the pages searched at once; zero uses GOMAXPROCS.
	Workers int
	// MaxResults is the default per-spec bound.
	MaxResults int
	// SpecTimeout is the time budget of each spec over the whole document.
	SpecTimeout time.Duration
	// MatchTimeout bounds one regular expression match.
	MatchTimeout time.Duration
	// MaxDepth bounds form XObject nesting.
	MaxDepth int
	Logger   observability.Logger
	Tracer   observability.Tracer
}

// Job is one redaction request.
type Job struct {
	Source      string
	Destination string
	Specs       []search.Spec
	OverlayText string
	// Style defaults to redact.DefaultStyle.
	Style        *redact.AppearanceStyle
	Save         document.SaveOptions
	Verify       bool
	StrictVerify bool
}

// Redactor runs jobs. It holds no per-job state and may run jobs
// concurrently.
type Redactor struct {
	opts   Options
	logger observability.Logger
	spans  observability.Tracer
}

func New(opts Options) *Redactor {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Redactor{opts: opts, logger: observability.OrNop(opts.Logger), spans: observability.TracerOrNop(opts.Tracer)}
}

// Run reads job.Source and writes the redacted file to job.Destination.
// Nothing is written unless every stage succeeded; the destination is
// replaced atomically.
func (r *Redactor) Run(ctx context.Context, job Job) (*Manifest, error) {
	data, err := os.ReadFile(job.Source)
	if err != nil {
		return nil, &document.OpenError{Path: job.Source, Err: err}
	}
	out, m, err := r.RunBytes(ctx, data, job)
	if err != nil {
		var oe *document.OpenError
		if errors.As(err, &oe) && oe.Path == "" {
			oe.Path = job.Source
		}
		return nil, err
	}
	if job.Destination == "" {
		return m, nil
	}
	_, span := r.spans.StartSpan(ctx, observability.SpanSave)
	defer span.Finish()
	if err := document.WriteFileAtomic(job.Destination, out); err != nil {
		span.SetError(err)
		return nil, &document.SaveError{Path: job.Destination, Err: err}
	}
	r.logger.Info("saved document",
		observability.String("run_id", m.RunID),
		observability.String("path", job.Destination),
		observability.Int("bytes", len(out)))
	return m, nil
}

// pageResult is what one page contributed to one spec.
type pageResult struct {
	matches int
	// regions holds the mapped regions of each match, in match order.
	regions [][]redact.Region
	err     error
}

// RunBytes redacts an in-memory file and returns the output bytes.
func (r *Redactor) RunBytes(ctx context.Context, data []byte, job Job) ([]byte, *Manifest, error) {
	if len(job.Specs) == 0 {
		return nil, nil, ErrNoSpecs
	}
	style := redact.DefaultStyle()
	if job.Style != nil {
		style = *job.Style
	}
	if err := style.Validate(); err != nil {
		return nil, nil, &redact.ApplyError{Page: -1, Err: err}
	}

	m := &Manifest{
		RunID:        uuid.NewString(),
		Source:       job.Source,
		Destination:  job.Destination,
		SourceSHA256: digest(data),
		StartedAt:    time.Now().UTC(),
	}
	logger := r.logger.With(observability.String("run_id", m.RunID))
	logger.Info("redaction started", observability.Int("specs", len(job.Specs)), observability.Int("bytes", len(data)))

	doc, err := document.Load(ctx, data, document.Options{Logger: logger, Tracer: r.opts.Tracer})
	if err != nil {
		return nil, nil, err
	}
	defer doc.Close()
	m.Pages = doc.PageCount()

	eng := search.NewEngine(search.Options{
		MaxResults:   r.opts.MaxResults,
		MatchTimeout: r.opts.MatchTimeout,
		Logger:       logger,
		Tracer:       r.opts.Tracer,
	})
	matchers := make([]*search.Matcher, len(job.Specs))
	m.Specs = make([]SpecReport, len(job.Specs))
	for i, spec := range job.Specs {
		m.Specs[i] = SpecReport{Name: spec.Label(), Kind: spec.Kind}
		mt, err := eng.Compile(spec)
		if err != nil {
			m.Specs[i].Error = err.Error()
			m.Warnings = append(m.Warnings, err.Error())
			logger.Warn("search spec rejected", observability.String("spec", spec.Label()), observability.Err(err))
			continue
		}
		matchers[i] = mt
	}

	results, err := r.searchPages(ctx, doc, job, matchers, m, logger)
	if err != nil {
		return nil, nil, err
	}
	regions := r.assemble(matchers, results, m, logger)

	_, planSpan := r.spans.StartSpan(ctx, observability.SpanPlan)
	planned := redact.Plan(regions)
	planSpan.SetTag(observability.MetricRegionCount, len(planned))
	planSpan.Finish()

	applier := redact.NewApplier(redact.Options{MaxDepth: r.opts.MaxDepth, Logger: logger, Tracer: r.opts.Tracer})
	res, err := applier.Apply(ctx, doc, planned, style)
	if err != nil {
		return nil, nil, err
	}
	m.Regions = regionReports(res)
	m.Removed = Removed{
		Glyphs:      res.Glyphs,
		Paths:       res.Paths,
		Images:      res.Images,
		Shadings:    res.Shadings,
		Forms:       res.Forms,
		Annotations: res.Annotations,
	}

	out, err := doc.Bytes(ctx, job.Save)
	if err != nil {
		return nil, nil, &document.SaveError{Path: job.Destination, Err: err}
	}

	if job.Verify || job.StrictVerify {
		var applied []redact.Region
		for _, rr := range res.Regions {
			if rr.Applied {
				applied = append(applied, rr.Region)
			}
		}
		report, err := verify.Check(ctx, out, applied, verify.Options{MaxDepth: r.opts.MaxDepth, Logger: logger, Tracer: r.opts.Tracer})
		switch {
		case err != nil && job.StrictVerify:
			return nil, nil, fmt.Errorf("verify output: %w", err)
		case err != nil:
			m.Warnings = append(m.Warnings, fmt.Sprintf("verify output: %v", err))
		default:
			m.Verification = report
			m.Warnings = append(m.Warnings, report.Warnings...)
			if job.StrictVerify && !report.OK() {
				logger.Error("redacted text survived", observability.Int("findings", len(report.Findings)))
				return nil, nil, report.Err()
			}
		}
	}

	m.OutputSHA256 = digest(out)
	m.Duration = time.Since(m.StartedAt)
	logger.Info("redaction finished",
		observability.Int(observability.MetricRegionCount, m.Applied()),
		observability.Int("warnings", len(m.Warnings)),
		observability.Duration("elapsed", m.Duration))
	return out, m, nil
}

// searchPages extracts each page once and runs every matcher over it.
// Pages run in parallel; each spec has its own deadline.
func (r *Redactor) searchPages(ctx context.Context, doc *document.Document, job Job, matchers []*search.Matcher, m *Manifest, logger observability.Logger) ([][]pageResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	specCtx := make([]context.Context, len(matchers))
	for i := range matchers {
		specCtx[i] = ctx
		if r.opts.SpecTimeout > 0 {
			var stop context.CancelFunc
			specCtx[i], stop = context.WithTimeout(ctx, r.opts.SpecTimeout)
			defer stop()
		}
	}

	ex := extractor.New(doc, extractor.Options{MaxDepth: r.opts.MaxDepth, Logger: logger, Tracer: r.opts.Tracer})
	results := make([][]pageResult, doc.PageCount())
	pageErrs := make([]error, doc.PageCount())
	sem := make(chan struct{}, r.opts.Workers)
	var wg sync.WaitGroup
	for pi := 0; pi < doc.PageCount(); pi++ {
		wg.Add(1)
		go func(pi int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			page, err := doc.Page(pi)
			if err != nil {
				pageErrs[pi] = err
				return
			}
			pt, err := ex.Extract(ctx, page)
			if err != nil {
				pageErrs[pi] = err
				return
			}
			row := make([]pageResult, len(matchers))
			for si, mt := range matchers {
				if mt == nil {
					continue
				}
				spans, err := mt.FindPage(specCtx[si], pt)
				pr := pageResult{matches: len(spans), err: err}
				for _, s := range spans {
					pr.regions = append(pr.regions, redact.MapToRegions(pt, s, job.OverlayText))
				}
				row[si] = pr
			}
			results[pi] = row
		}(pi)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for pi, err := range pageErrs {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		msg := fmt.Sprintf("page %d skipped: %v", pi, err)
		m.Warnings = append(m.Warnings, msg)
		logger.Warn("page text unreadable", observability.Int("page", pi), observability.Err(err))
	}
	return results, nil
}

// assemble orders regions spec by spec and page by page and applies each
// spec's bound across the document.
func (r *Redactor) assemble(matchers []*search.Matcher, results [][]pageResult, m *Manifest, logger observability.Logger) []redact.Region {
	var out []redact.Region
	for si, mt := range matchers {
		if mt == nil {
			continue
		}
		rep := &m.Specs[si]
		warned := false
		for pi, row := range results {
			if row == nil {
				continue
			}
			pr := row[si]
			for _, regions := range pr.regions {
				if rep.Matches >= mt.Limit() {
					rep.Truncated = true
					break
				}
				rep.Matches++
				rep.Regions += len(regions)
				out = append(out, regions...)
			}
			var limit *search.MatchLimitExceeded
			switch {
			case pr.err == nil:
			case errors.As(pr.err, &limit):
				rep.Truncated = true
			case errors.Is(pr.err, search.ErrSpecTimeout):
				rep.TimedOut = true
				if !warned {
					m.Warnings = append(m.Warnings, fmt.Sprintf("%s: %v", mt.Spec().Label(), pr.err))
					warned = true
				}
			default:
				m.Warnings = append(m.Warnings, fmt.Sprintf("%s on page %d: %v", mt.Spec().Label(), pi, pr.err))
			}
		}
		if rep.Truncated {
			w := (&search.MatchLimitExceeded{Spec: mt.Spec(), Limit: mt.Limit()}).Error()
			m.Warnings = append(m.Warnings, w)
			logger.Warn("match limit reached", observability.String("spec", rep.Name), observability.Int("limit", mt.Limit()))
		}
		if rep.TimedOut {
			logger.Warn("search spec timed out", observability.String("spec", rep.Name))
		}
	}
	return out
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
