package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wudi/pdfredact/builder"
	"github.com/wudi/pdfredact/document"
	"github.com/wudi/pdfredact/extractor"
	"github.com/wudi/pdfredact/pipeline"
)

func samplePDF(t *testing.T, text string) []byte {
	t.Helper()
	b := builder.NewBuilder()
	b.NewPage(612, 792).DrawText(text, 72, 720, builder.TextOptions{})
	data, err := b.Bytes()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return data
}

// redactRequest builds a multipart POST /v1/redact request.
func redactRequest(t *testing.T, file []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if file != nil {
		fw, err := mw.CreateFormFile("file", "letter.pdf")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(file)
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/v1/redact", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newTestServer(opts Options) *Server {
	return NewServer(pipeline.New(pipeline.Options{Workers: 2}), opts)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(Options{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("health = %d %s", rec.Code, rec.Body)
	}
}

func TestRedactAndFetchRun(t *testing.T) {
	srv := newTestServer(Options{RunTTL: time.Hour})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, redactRequest(t, samplePDF(t, "Secret plan"), map[string]string{
		"specs":   `[{"pattern":"secret","ignoreCase":true}]`,
		"overlay": "FOIA",
		"style":   `{"boxFillColor":"#000000","textColor":"#ffffff","minFontSize":4,"maxFontSize":12,"drawOverlayBox":true}`,
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("redact = %d %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type %q", ct)
	}
	runID := rec.Header().Get(RunIDHeader)
	if runID == "" {
		t.Fatalf("missing %s header", RunIDHeader)
	}

	doc, err := document.Load(context.Background(), rec.Body.Bytes(), document.Options{})
	if err != nil {
		t.Fatalf("load response: %v", err)
	}
	page, _ := doc.Page(0)
	pt, err := extractor.New(doc, extractor.Options{}).Extract(context.Background(), page)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if strings.Contains(pt.Flattened, "Secret") || !strings.Contains(pt.Flattened, "plan") {
		t.Fatalf("response text = %q", pt.Flattened)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("run = %d %s", rec.Code, rec.Body)
	}
	var m pipeline.Manifest
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if m.RunID != runID || m.Applied() != 1 || m.Source != "letter.pdf" {
		t.Fatalf("manifest = %+v", m)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown run = %d", rec.Code)
	}
}

func TestRedactBadRequests(t *testing.T) {
	srv := newTestServer(Options{MaxUploadBytes: 4096})
	pdf := samplePDF(t, "Secret")
	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"no file", redactRequest(t, nil, map[string]string{"specs": `[{"pattern":"x"}]`}), http.StatusBadRequest},
		{"no specs", redactRequest(t, pdf, nil), http.StatusBadRequest},
		{"bad specs", redactRequest(t, pdf, map[string]string{"specs": `{`}), http.StatusBadRequest},
		{"bad style", redactRequest(t, pdf, map[string]string{"specs": `[{"pattern":"x"}]`, "style": `{"minFontSize":-1}`}), http.StatusBadRequest},
		{"bad flag", redactRequest(t, pdf, map[string]string{"specs": `[{"pattern":"x"}]`, "linearize": "maybe"}), http.StatusBadRequest},
		{"too large", redactRequest(t, bytes.Repeat([]byte("x"), 5000), map[string]string{"specs": `[{"pattern":"x"}]`}), http.StatusRequestEntityTooLarge},
		{"not a pdf", redactRequest(t, []byte("hello"), map[string]string{"specs": `[{"pattern":"x"}]`}), http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, tc.req)
		if rec.Code != tc.status {
			t.Errorf("%s: status %d, want %d (%s)", tc.name, rec.Code, tc.status, rec.Body)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s: content type %q", tc.name, ct)
		}
	}
}

func TestAuthAndRateLimit(t *testing.T) {
	srv := newTestServer(Options{APIKey: "k3y", RateLimit: 0.001, RateBurst: 2})

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/x", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no key = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/runs/x", nil)
	req.Header.Set("Authorization", "Bearer k3y")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("with key = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/x", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over the burst = %d", rec.Code)
	}

	// health is outside the limited group
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
}

func TestRunStoreTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	store := NewRunStore(time.Minute)
	store.now = func() time.Time { return now }
	store.Put(&pipeline.Manifest{RunID: "a"})
	if store.Get("a") == nil {
		t.Fatalf("fresh run missing")
	}
	now = now.Add(2 * time.Minute)
	if store.Get("a") != nil {
		t.Fatalf("expired run returned")
	}
	store.Cleanup()
	if store.Len() != 0 {
		t.Fatalf("cleanup left %d runs", store.Len())
	}
}
