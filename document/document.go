// Package document is the store that opens a PDF, exposes its pages and
// content streams, and saves a rewritten copy atomically.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wudi/pdfredact/filters"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/parser"
	"github.com/wudi/pdfredact/recovery"
	"github.com/wudi/pdfredact/writer"
)

// ErrClosed is returned by operations on a closed document.
var ErrClosed = errors.New("document closed")

// Options configures Open.
type Options struct {
	// Recovery decides what happens with broken xref tables and objects.
	// Nil repairs the xref and skips unreadable objects.
	Recovery recovery.Strategy
	Limits   filters.Limits
	Logger   observability.Logger
	Tracer   observability.Tracer
}

// SaveOptions controls how Save lays out the output file.
type SaveOptions struct {
	Linearize   bool
	Compress    bool
	Deduplicate bool
}

// Document is an opened PDF. It is safe for concurrent readers; edits must
// go through a staged Clone while no reader is active.
type Document struct {
	path    string
	raw     *raw.Document
	pages   []pageEntry
	filters *filters.Pipeline
	opts    Options
	logger  observability.Logger

	mu     sync.RWMutex
	closed bool
}

// Open reads and parses the file at path.
func Open(ctx context.Context, path string, opts Options) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	doc, err := Load(ctx, data, opts)
	if err != nil {
		var oe *OpenError
		if errors.As(err, &oe) {
			oe.Path = path
		}
		return nil, err
	}
	doc.path = path
	return doc, nil
}

// Load parses an in-memory PDF.
func Load(ctx context.Context, data []byte, opts Options) (*Document, error) {
	ctx, span := observability.TracerOrNop(opts.Tracer).StartSpan(ctx, observability.SpanOpen)
	defer span.Finish()
	start := time.Now()

	logger := observability.OrNop(opts.Logger)
	if opts.Recovery == nil {
		opts.Recovery = recovery.NewLenientStrategy(logger)
	}
	pipe := filters.Standard(opts.Limits)
	p := parser.NewDocumentParser(parser.Config{Recovery: opts.Recovery, Filters: pipe, Logger: logger})
	rd, err := p.Parse(ctx, data)
	if err != nil {
		span.SetError(err)
		return nil, &OpenError{Err: err}
	}
	doc, err := newDocument(rd, pipe, opts)
	if err != nil {
		span.SetError(err)
		return nil, &OpenError{Err: err}
	}
	span.SetTag(observability.MetricPageCount, len(doc.pages))
	logger.Debug("opened document",
		observability.Int(observability.MetricPageCount, len(doc.pages)),
		observability.Int(observability.MetricObjectCount, len(rd.Objects)),
		observability.Duration(observability.MetricParseTime, time.Since(start)),
	)
	return doc, nil
}

// FromRaw wraps an object graph built in memory.
func FromRaw(rd *raw.Document, opts Options) (*Document, error) {
	return newDocument(rd, filters.Standard(opts.Limits), opts)
}

func newDocument(rd *raw.Document, pipe *filters.Pipeline, opts Options) (*Document, error) {
	pages, err := walkPages(rd)
	if err != nil {
		return nil, err
	}
	return &Document{
		raw:     rd,
		pages:   pages,
		filters: pipe,
		opts:    opts,
		logger:  observability.OrNop(opts.Logger),
	}, nil
}

// Path is the file the document was opened from, if any.
func (d *Document) Path() string { return d.path }

// Raw exposes the underlying object graph.
func (d *Document) Raw() *raw.Document { return d.raw }

// Filters returns the decoder pipeline used for this document.
func (d *Document) Filters() *filters.Pipeline { return d.filters }

func (d *Document) PageCount() int { return len(d.pages) }

// Page returns the 0-based page i.
func (d *Document) Page(i int) (*Page, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}
	if i < 0 || i >= len(d.pages) {
		return nil, fmt.Errorf("page %d out of range [0,%d)", i, len(d.pages))
	}
	return d.buildPage(i, d.pages[i])
}

// Close releases the object graph. It is safe to call more than once.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.raw = nil
	d.pages = nil
	return nil
}

// Clone returns an independent copy for staged edits.
func (d *Document) Clone() (*Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}
	out, err := newDocument(d.raw.Clone(), d.filters, d.opts)
	if err != nil {
		return nil, err
	}
	out.path = d.path
	return out, nil
}

// Commit replaces the document's objects with those of a staged clone.
func (d *Document) Commit(staged *Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	pages, err := walkPages(staged.raw)
	if err != nil {
		return err
	}
	d.raw = staged.raw
	d.pages = pages
	return nil
}

// DecodeStream returns the decoded data of s.
func (d *Document) DecodeStream(ctx context.Context, s *raw.StreamObj) ([]byte, error) {
	return d.filters.DecodeStream(ctx, d.raw, s)
}

// Bytes serializes the document as a complete file.
func (d *Document) Bytes(ctx context.Context, opts SaveOptions) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}
	var buf bytes.Buffer
	err := writer.Write(ctx, d.raw, &buf, writer.Config{
		Compress:    opts.Compress,
		Linearize:   opts.Linearize,
		Deduplicate: opts.Deduplicate,
		Logger:      d.logger,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the document to path through a temporary file in the same
// directory that is synced and renamed into place. On error the temporary
// file is removed and path is left untouched.
func (d *Document) Save(ctx context.Context, path string, opts SaveOptions) (err error) {
	ctx, span := observability.TracerOrNop(d.opts.Tracer).StartSpan(ctx, observability.SpanSave)
	defer func() {
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
	}()

	data, err := d.Bytes(ctx, opts)
	if err != nil {
		return &SaveError{Path: path, Err: err}
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return &SaveError{Path: path, Err: err}
	}
	d.logger.Info("saved document",
		observability.String("path", path),
		observability.Int("bytes", len(data)),
		observability.Bool("linearized", opts.Linearize),
	)
	return nil
}

// WriteFileAtomic replaces path with data or leaves it untouched.
func WriteFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpPath, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
