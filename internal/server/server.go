// Package server exposes comparisons over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thiagokokada/refdiff/internal/buildinfo"
	"github.com/thiagokokada/refdiff/internal/gitdiff"
)

const DefaultAddr = "127.0.0.1:8787"

// Service is what the HTTP layer needs from gitdiff.Differ.
type Service interface {
	Compare(ctx context.Context, args gitdiff.CompareArgs) (*gitdiff.Result, error)
	Contents(ctx context.Context, src gitdiff.Source, q gitdiff.ContentQuery) ([]gitdiff.FileContent, error)
	Branches(ctx context.Context, src gitdiff.Source) ([]gitdiff.Branch, error)
}

type Options struct {
	Addr string
	// RequestTimeout bounds each request. Zero means no limit.
	RequestTimeout time.Duration
	// EngineName is reported by /healthz.
	EngineName string
	Logger     *slog.Logger
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

type server struct {
	opts    Options
	service Service
	log     *slog.Logger
}

func newServer(service Service, opts Options) *server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &server{opts: opts, service: service, log: opts.Logger}
}

// Handler builds the router without starting a listener.
func Handler(service Service, opts Options) http.Handler {
	return newServer(service, opts).router()
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, service Service, opts Options) error {
	s := newServer(service, opts)
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", slog.String("addr", s.opts.Addr))
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())
	if s.opts.RequestTimeout > 0 {
		r.Use(timeout(s.opts.RequestTimeout))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": buildinfo.Version(), "engine": s.opts.EngineName})
	})

	api := r.Group("/api/v1")
	s.initCompare(api)
	s.initContents(api)
	s.initBranches(api)
	return r
}

func (s *server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}

func timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
