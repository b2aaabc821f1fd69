package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wudi/pdfredact/config"
	"github.com/wudi/pdfredact/document"
	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/pipeline"
	"github.com/wudi/pdfredact/redact"
	"github.com/wudi/pdfredact/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.NewHandlerLogger(os.Stderr, "json", "info").Error("load configuration", observability.Err(err))
		os.Exit(1)
	}
	log := observability.NewHandlerLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", observability.Err(err))
		os.Exit(1)
	}

	style := redact.DefaultStyle()
	if cfg.StyleFile != "" {
		data, err := os.ReadFile(cfg.StyleFile)
		if err == nil {
			style, err = redact.ParseStyle(data)
		}
		if err != nil {
			log.Error("load style", observability.String("path", cfg.StyleFile), observability.Err(err))
			os.Exit(1)
		}
	}

	var tracer observability.Tracer
	if cfg.Tracing {
		tracer = observability.NewOTelTracer("redactd")
	}
	redactor := pipeline.New(pipeline.Options{
		Workers:      cfg.Workers,
		MaxResults:   cfg.MaxResults,
		SpecTimeout:  cfg.SpecTimeout,
		MatchTimeout: cfg.MatchTimeout,
		MaxDepth:     cfg.MaxFormDepth,
		Logger:       log,
		Tracer:       tracer,
	})
	srv := server.NewServer(redactor, server.Options{
		APIKey:         cfg.APIKey,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
		RunTTL:         cfg.RunTTL,
		Tracing:        cfg.Tracing,
		OverlayText:    cfg.OverlayText,
		Style:          style,
		Save:           document.SaveOptions{Linearize: cfg.Linearize, Compress: cfg.Compress, Deduplicate: cfg.Deduplicate},
		Verify:         cfg.Verify,
		StrictVerify:   cfg.StrictVerify,
		Logger:         log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Runs().StartCleanup(ctx, time.Minute)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	idle := make(chan struct{})
	go func() {
		defer close(idle)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown", observability.Err(err))
		}
	}()

	log.Info("starting redactd", observability.String("addr", cfg.Addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", observability.Err(err))
		os.Exit(1)
	}
	<-idle
}
