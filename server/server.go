// Package server exposes the redaction pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/wudi/pdfredact/document"
	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/pipeline"
	"github.com/wudi/pdfredact/redact"
	"github.com/wudi/pdfredact/search"
	"github.com/wudi/pdfredact/verify"
)

// RunIDHeader carries the run id of a redaction response.
const RunIDHeader = "X-Redaction-Run-ID"

type Options struct {
	// APIKey, when set, is required as a Bearer token on /v1 routes.
	APIKey         string
	MaxUploadBytes int64
	// RateLimit is requests per second on /v1 routes; zero disables it.
	RateLimit float64
	RateBurst int
	RunTTL    time.Duration
	// Tracing enables otelhttp server spans named ServiceName.
	Tracing     bool
	ServiceName string

	// Defaults for requests that do not set them.
	OverlayText  string
	Style        redact.AppearanceStyle
	Save         document.SaveOptions
	Verify       bool
	StrictVerify bool

	Logger observability.Logger
}

// Server is the HTTP API of redactd.
type Server struct {
	router   chi.Router
	redactor *pipeline.Redactor
	runs     *RunStore
	log      observability.Logger
	opts     Options
}

func NewServer(redactor *pipeline.Redactor, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 50 << 20
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "redactd"
	}
	if opts.Style == (redact.AppearanceStyle{}) {
		opts.Style = redact.DefaultStyle()
	}
	s := &Server{
		redactor: redactor,
		runs:     NewRunStore(opts.RunTTL),
		log:      observability.OrNop(opts.Logger),
		opts:     opts,
	}
	s.setupRoutes()
	return s
}

// Runs is the store of finished run manifests.
func (s *Server) Runs() *RunStore { return s.runs }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))
	if s.opts.Tracing {
		r.Use(Tracing(s.opts.ServiceName))
	}

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		if s.opts.RateLimit > 0 {
			burst := s.opts.RateBurst
			if burst <= 0 {
				burst = 1
			}
			r.Use(RateLimit(rate.NewLimiter(rate.Limit(s.opts.RateLimit), burst)))
		}
		if s.opts.APIKey != "" {
			r.Use(AuthMiddleware(s.opts.APIKey))
		}
		r.Post("/redact", s.handleRedact)
		r.Get("/runs/{runID}", s.handleRun)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	// room for the other form fields
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.opts.MaxUploadBytes), http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, s.opts.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.opts.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.opts.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	job, err := s.jobFromForm(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	job.Source = filepath.Base(header.Filename)

	out, m, err := s.redactor.RunBytes(r.Context(), data, job)
	if err != nil {
		status := statusFor(err)
		s.log.Warn("redaction failed",
			observability.String("request_id", middleware.GetReqID(r.Context())),
			observability.Int("status", status),
			observability.Err(err))
		jsonError(w, err.Error(), status)
		return
	}
	s.runs.Put(m)

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "redacted-"+job.Source))
	w.Header().Set(RunIDHeader, m.RunID)
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// jobFromForm reads the job fields of a redact request.
func (s *Server) jobFromForm(r *http.Request) (pipeline.Job, error) {
	job := pipeline.Job{
		OverlayText:  s.opts.OverlayText,
		Save:         s.opts.Save,
		Verify:       s.opts.Verify,
		StrictVerify: s.opts.StrictVerify,
	}
	raw := r.FormValue("specs")
	if raw == "" {
		return job, errors.New("specs is required")
	}
	specs, err := search.ParseSpecs([]byte(raw))
	if err != nil {
		return job, err
	}
	if len(specs) == 0 {
		return job, errors.New("specs is empty")
	}
	job.Specs = specs

	if _, ok := r.MultipartForm.Value["overlay"]; ok {
		job.OverlayText = r.FormValue("overlay")
	}
	style := s.opts.Style
	if v := r.FormValue("style"); v != "" {
		if style, err = redact.ParseStyle([]byte(v)); err != nil {
			return job, err
		}
	}
	job.Style = &style
	for key, dst := range map[string]*bool{
		"linearize": &job.Save.Linearize,
		"compress":  &job.Save.Compress,
		"dedupe":    &job.Save.Deduplicate,
		"verify":    &job.Verify,
	} {
		if v := r.FormValue(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return job, fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}
	return job, nil
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	m := s.runs.Get(chi.URLParam(r, "runID"))
	if m == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

// statusFor maps a pipeline error to an HTTP status.
func statusFor(err error) int {
	var (
		oe   *document.OpenError
		ae   *redact.ApplyError
		leak *verify.LeakError
	)
	switch {
	case errors.Is(err, pipeline.ErrNoSpecs):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.As(err, &oe), errors.As(err, &ae), errors.As(err, &leak):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
