package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wudi/pdfredact/builder"
	"github.com/wudi/pdfredact/config"
	"github.com/wudi/pdfredact/pipeline"
	"github.com/wudi/pdfredact/search"
)

func baseConfig() config.Config {
	return config.Config{
		Workers: 1, MaxResults: 1000, MaxFormDepth: 16, MaxUploadBytes: 1,
		Compress: true, LogLevel: "error", LogFormat: "text",
	}
}

func TestParseFlags(t *testing.T) {
	dir := t.TempDir()
	specs := filepath.Join(dir, "specs.json")
	os.WriteFile(specs, []byte(`[{"preset":"email"},{"kind":"regex","pattern":"\\d+"}]`), 0o644)

	opts, err := parseFlags([]string{
		"-text", "Jane", "-text", "Doe", "-ignore-case",
		"-preset", "us-phone", "-specs", specs,
		"-overlay", "FOIA", "-max-results", "5",
		"in.pdf", "out.pdf",
	}, baseConfig(), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.source != "in.pdf" || opts.dest != "out.pdf" || opts.cfg.OverlayText != "FOIA" || opts.cfg.MaxResults != 5 {
		t.Fatalf("options = %+v", opts)
	}
	if len(opts.specs) != 5 {
		t.Fatalf("specs = %+v", opts.specs)
	}
	if !opts.specs[0].IgnoreCase || opts.specs[2].IgnoreCase || opts.specs[2].Name != "us-phone" || opts.specs[4].Kind != search.Regex {
		t.Fatalf("specs = %+v", opts.specs)
	}
}

func TestParseFlagsUsageErrors(t *testing.T) {
	cases := map[string][]string{
		"no paths":       {"-text", "x"},
		"no specs":       {"a.pdf", "b.pdf"},
		"unknown preset": {"-preset", "ssn", "a.pdf", "b.pdf"},
		"bad workers":    {"-text", "x", "-workers", "0", "a.pdf", "b.pdf"},
		"unknown flag":   {"-bogus", "a.pdf", "b.pdf"},
	}
	for name, args := range cases {
		if _, err := parseFlags(args, baseConfig(), &bytes.Buffer{}); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestRunWritesManifest(t *testing.T) {
	dir := t.TempDir()
	b := builder.NewBuilder()
	b.NewPage(612, 792).DrawText("Call 555-123-4567 today", 72, 720, builder.TextOptions{})
	data, err := b.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	src, dst := filepath.Join(dir, "in.pdf"), filepath.Join(dir, "out.pdf")
	os.WriteFile(src, data, 0o644)

	opts, err := parseFlags([]string{"-preset", "us-phone", "-manifest", "-", "-verify", src, dst}, baseConfig(), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), opts, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v (%s)", err, stderr.String())
	}
	var m pipeline.Manifest
	if err := json.Unmarshal(stdout.Bytes(), &m); err != nil {
		t.Fatalf("manifest: %v\n%s", err, stdout.String())
	}
	if m.Applied() != 1 || m.Destination != dst {
		t.Fatalf("manifest = %+v", m)
	}
	if strings.Contains(stdout.String(), "4567") {
		t.Fatalf("manifest leaks matched text")
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("output missing: %v", err)
	}
}
