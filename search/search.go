// Package search finds literal phrases and regular expressions in
// extracted page text.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/wudi/pdfredact/extractor"
	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/scripting"
)

// DefaultMaxResults bounds the matches of one spec across a document.
const DefaultMaxResults = 1000

// Kind selects how a Spec's pattern is interpreted.
type Kind int

const (
	Literal Kind = iota
	Regex
)

func (k Kind) String() string {
	switch k {
	case Literal:
		return "literal"
	case Regex:
		return "regex"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "literal", "text":
		*k = Literal
	case "regex", "regexp":
		*k = Regex
	default:
		return fmt.Errorf("unknown search kind %q", b)
	}
	return nil
}

// Spec is one thing to search for.
type Spec struct {
	Name    string `json:"name,omitempty"`
	Kind    Kind   `json:"kind"`
	Pattern string `json:"pattern"`
	// IgnoreCase folds case; matching is case-sensitive otherwise.
	IgnoreCase bool `json:"ignoreCase,omitempty"`
	WholeWord  bool `json:"wholeWord,omitempty"`
	// Validate is a JavaScript expression; a match is kept only when it
	// evaluates truthy.
	Validate string `json:"validate,omitempty"`
	// Exclude marks matches as protected areas that are never redacted.
	Exclude bool `json:"exclude,omitempty"`
	// MaxResults overrides the engine bound when positive.
	MaxResults int `json:"maxResults,omitempty"`
}

// Label names the spec in logs and manifests.
func (s Spec) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Kind.String() + ":" + s.Pattern
}

// MatchSpan is one match. Start and End are byte offsets into the page's
// flattened text.
type MatchSpan struct {
	PageIndex int
	Start     int
	End       int
	Text      string
	Spec      Spec
}

// InvalidPatternError reports a spec that cannot be compiled.
type InvalidPatternError struct {
	Spec Spec
	Err  error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid pattern for %s: %v", e.Spec.Label(), e.Err)
}

func (e *InvalidPatternError) Unwrap() error { return e.Err }

// MatchLimitExceeded is returned with the partial results of a spec that
// reached its bound.
type MatchLimitExceeded struct {
	Spec  Spec
	Limit int
}

func (e *MatchLimitExceeded) Error() string {
	return fmt.Sprintf("%s: stopped after %d matches", e.Spec.Label(), e.Limit)
}

// ErrSpecTimeout is wrapped by errors of a spec that ran out of time.
var ErrSpecTimeout = errors.New("search spec timed out")

// Options configure an Engine.
type Options struct {
	// MaxResults is the per-spec bound; zero means DefaultMaxResults.
	MaxResults int
	// MatchTimeout bounds a single regular expression match.
	MatchTimeout time.Duration
	Logger       observability.Logger
	Tracer       observability.Tracer
}

// Engine compiles specs into matchers.
type Engine struct {
	opts   Options
	logger observability.Logger
	spans  observability.Tracer
}

func NewEngine(opts Options) *Engine {
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	return &Engine{opts: opts, logger: observability.OrNop(opts.Logger), spans: observability.TracerOrNop(opts.Tracer)}
}

// finder reports candidate matches in text as byte ranges, in order,
// until emit returns false.
type finder func(ctx context.Context, text string, emit func(start, end int) bool) error

// Matcher runs one compiled spec. Its result budget is shared by every
// FindAll call.
type Matcher struct {
	spec     Spec
	limit    int
	find     finder
	validate *scripting.Validator
	spans    observability.Tracer

	mu    sync.Mutex
	found int
}

// Compile prepares spec for matching.
func (e *Engine) Compile(spec Spec) (*Matcher, error) {
	if spec.Pattern == "" {
		return nil, &InvalidPatternError{Spec: spec, Err: errors.New("empty pattern")}
	}
	m := &Matcher{spec: spec, limit: e.opts.MaxResults, spans: e.spans}
	if spec.MaxResults > 0 {
		m.limit = spec.MaxResults
	}
	switch spec.Kind {
	case Literal:
		m.find = literalFinder(spec.Pattern, spec.IgnoreCase)
	case Regex:
		f, err := regexFinder(spec.Pattern, spec.IgnoreCase, e.opts.MatchTimeout)
		if err != nil {
			return nil, &InvalidPatternError{Spec: spec, Err: err}
		}
		m.find = f
	default:
		return nil, &InvalidPatternError{Spec: spec, Err: fmt.Errorf("unknown kind %v", spec.Kind)}
	}
	if spec.Validate != "" {
		v, err := scripting.CompileValidator(spec.Validate)
		if err != nil {
			return nil, &InvalidPatternError{Spec: spec, Err: err}
		}
		m.validate = v
	}
	return m, nil
}

// FindAll compiles spec and matches it against one page.
func (e *Engine) FindAll(ctx context.Context, pt *extractor.PageText, spec Spec) ([]MatchSpan, error) {
	m, err := e.Compile(spec)
	if err != nil {
		return nil, err
	}
	return m.FindAll(ctx, pt)
}

func (m *Matcher) Spec() Spec { return m.spec }

// Limit is the number of matches the spec may produce in a document.
func (m *Matcher) Limit() int { return m.limit }

// FindAll matches the page and charges the results to the shared budget.
// When the budget runs out the partial results come with a
// *MatchLimitExceeded.
func (m *Matcher) FindAll(ctx context.Context, pt *extractor.PageText) ([]MatchSpan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.found >= m.limit {
		return nil, &MatchLimitExceeded{Spec: m.spec, Limit: m.limit}
	}
	spans, err := m.match(ctx, pt, m.limit-m.found)
	m.found += len(spans)
	return spans, err
}

// FindPage matches one page against the spec bound without touching the
// shared budget, so pages can be matched concurrently and trimmed later.
func (m *Matcher) FindPage(ctx context.Context, pt *extractor.PageText) ([]MatchSpan, error) {
	return m.match(ctx, pt, m.limit)
}

func (m *Matcher) match(ctx context.Context, pt *extractor.PageText, budget int) (_ []MatchSpan, err error) {
	ctx, span := m.spans.StartSpan(ctx, observability.SpanMatchSpec)
	span.SetTag("spec", m.spec.Label())
	span.SetTag("page", pt.PageIndex)
	defer func() {
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
	}()

	text := pt.Flattened
	var out []MatchSpan
	var stop error
	ferr := m.find(ctx, text, func(start, end int) bool {
		if start >= end {
			return true
		}
		if m.spec.WholeWord && !wordBounded(text, start, end) {
			return true
		}
		if m.validate != nil {
			ok, verr := m.validate.Accept(ctx, scripting.Match{Text: text[start:end], Page: pt.PageIndex, Start: start, End: end})
			if verr != nil {
				stop = verr
				return false
			}
			if !ok {
				return true
			}
		}
		if len(out) >= budget {
			stop = &MatchLimitExceeded{Spec: m.spec, Limit: m.limit}
			return false
		}
		out = append(out, MatchSpan{PageIndex: pt.PageIndex, Start: start, End: end, Text: text[start:end], Spec: m.spec})
		return true
	})
	span.SetTag(observability.MetricMatchCount, len(out))
	if ferr != nil {
		return out, timeoutError(ctx, ferr)
	}
	if stop != nil {
		return out, timeoutError(ctx, stop)
	}
	return out, nil
}

// timeoutError folds deadline errors into ErrSpecTimeout.
func timeoutError(ctx context.Context, err error) error {
	var limit *MatchLimitExceeded
	if errors.As(err, &limit) || errors.Is(err, ErrSpecTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrSpecTimeout, err)
	}
	return err
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// wordBounded reports whether text[start:end] is preceded and followed by
// a non-word character or an end of the text.
func wordBounded(text string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		if r, _ := utf8.DecodeRuneInString(text[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}
