package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/wudi/pdfredact/config"
	"github.com/wudi/pdfredact/document"
	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/pipeline"
	"github.com/wudi/pdfredact/redact"
	"github.com/wudi/pdfredact/search"
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

type options struct {
	cfg          config.Config
	source, dest string
	specs        []search.Spec
	style        *redact.AppearanceStyle
	manifest     string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "redact: %v\n", err)
		os.Exit(2)
	}
	opts, err := parseFlags(os.Args[1:], cfg, os.Stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "redact: %v\n", err)
		}
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, opts, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "redact: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, cfg config.Config, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("redact", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: redact [flags] <source.pdf> <dest.pdf>\n")
		fs.PrintDefaults()
	}
	var texts, regexes, presets listFlag
	fs.Var(&texts, "text", "Literal text to redact (repeatable)")
	fs.Var(&regexes, "regex", "Regular expression to redact (repeatable)")
	fs.Var(&presets, "preset", "Named pattern to redact: "+strings.Join(search.Presets(), ", ")+" (repeatable)")
	specsFile := fs.String("specs", "", "JSON file with an array of search specs")
	ignoreCase := fs.Bool("ignore-case", false, "Match -text and -regex ignoring case")
	wholeWord := fs.Bool("whole-word", false, "Only match -text and -regex on word boundaries")
	overlay := fs.String("overlay", cfg.OverlayText, "Label drawn over each redacted area")
	styleFile := fs.String("style", cfg.StyleFile, "JSON file with the appearance style")
	linearize := fs.Bool("linearize", cfg.Linearize, "Write a linearized file")
	compress := fs.Bool("compress", cfg.Compress, "Flate-compress uncompressed streams")
	dedupe := fs.Bool("dedupe", cfg.Deduplicate, "Merge identical objects in the output")
	manifest := fs.String("manifest", "", "Write the run manifest to this path, or - for stdout")
	verifyOut := fs.Bool("verify", cfg.Verify, "Re-read the output and report surviving text")
	strict := fs.Bool("strict-verify", cfg.StrictVerify, "Fail and write nothing when text survives")
	workers := fs.Int("workers", cfg.Workers, "Pages searched in parallel")
	maxResults := fs.Int("max-results", cfg.MaxResults, "Per-spec match bound")
	specTimeout := fs.Duration("spec-timeout", cfg.SpecTimeout, "Time budget of each spec")
	logLevel := fs.String("log-level", cfg.LogLevel, "debug, info, warn or error")
	logFormat := fs.String("log-format", cfg.LogFormat, "text or json")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return options{}, errors.New("expected source and destination paths")
	}

	cfg.OverlayText = *overlay
	cfg.Linearize = *linearize
	cfg.Compress = *compress
	cfg.Deduplicate = *dedupe
	cfg.Verify = *verifyOut
	cfg.StrictVerify = *strict
	cfg.Workers = *workers
	cfg.MaxResults = *maxResults
	cfg.SpecTimeout = *specTimeout
	cfg.LogLevel = *logLevel
	cfg.LogFormat = *logFormat
	if err := cfg.Validate(); err != nil {
		return options{}, err
	}

	opts := options{cfg: cfg, source: fs.Arg(0), dest: fs.Arg(1), manifest: *manifest}
	for _, t := range texts {
		opts.specs = append(opts.specs, search.Spec{Kind: search.Literal, Pattern: t, IgnoreCase: *ignoreCase, WholeWord: *wholeWord})
	}
	for _, p := range regexes {
		opts.specs = append(opts.specs, search.Spec{Kind: search.Regex, Pattern: p, IgnoreCase: *ignoreCase, WholeWord: *wholeWord})
	}
	for _, name := range presets {
		s, err := search.Preset(name)
		if err != nil {
			return options{}, err
		}
		opts.specs = append(opts.specs, s)
	}
	if *specsFile != "" {
		data, err := os.ReadFile(*specsFile)
		if err != nil {
			return options{}, err
		}
		specs, err := search.ParseSpecs(data)
		if err != nil {
			return options{}, fmt.Errorf("%s: %w", *specsFile, err)
		}
		opts.specs = append(opts.specs, specs...)
	}
	if len(opts.specs) == 0 {
		return options{}, errors.New("nothing to redact: give -text, -regex, -preset or -specs")
	}
	if *styleFile != "" {
		data, err := os.ReadFile(*styleFile)
		if err != nil {
			return options{}, err
		}
		style, err := redact.ParseStyle(data)
		if err != nil {
			return options{}, fmt.Errorf("%s: %w", *styleFile, err)
		}
		opts.style = &style
	}
	return opts, nil
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) error {
	cfg := opts.cfg
	logger := observability.NewHandlerLogger(stderr, cfg.LogFormat, cfg.LogLevel)
	var tracer observability.Tracer
	if cfg.Tracing {
		tracer = observability.NewOTelTracer("redact")
	}
	r := pipeline.New(pipeline.Options{
		Workers:      cfg.Workers,
		MaxResults:   cfg.MaxResults,
		SpecTimeout:  cfg.SpecTimeout,
		MatchTimeout: cfg.MatchTimeout,
		MaxDepth:     cfg.MaxFormDepth,
		Logger:       logger,
		Tracer:       tracer,
	})
	m, err := r.Run(ctx, pipeline.Job{
		Source:       opts.source,
		Destination:  opts.dest,
		Specs:        opts.specs,
		OverlayText:  cfg.OverlayText,
		Style:        opts.style,
		Save:         document.SaveOptions{Linearize: cfg.Linearize, Compress: cfg.Compress, Deduplicate: cfg.Deduplicate},
		Verify:       cfg.Verify,
		StrictVerify: cfg.StrictVerify,
	})
	if err != nil {
		return err
	}
	for _, w := range m.Warnings {
		logger.Warn(w)
	}
	switch opts.manifest {
	case "":
		fmt.Fprintf(stdout, "%s: %d regions redacted on %d pages\n", opts.dest, m.Applied(), m.Pages)
	case "-":
		return writeManifest(stdout, m)
	default:
		f, err := os.Create(opts.manifest)
		if err != nil {
			return err
		}
		if err := writeManifest(f, m); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return nil
}

func writeManifest(w io.Writer, m *pipeline.Manifest) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
