// Package server exposes explorer sessions as a small JSON API that a
// browser canvas can drive.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thiagokokada/gitodyssey/internal/explorer"
	"github.com/thiagokokada/gitodyssey/internal/metrics"
	"github.com/thiagokokada/gitodyssey/internal/prefs"
	"github.com/thiagokokada/gitodyssey/internal/repo"
)

const shutdownTimeout = 5 * time.Second

// SessionFactory creates the session for a repository the first time it is
// requested.
type SessionFactory func(owner, name string) *explorer.Session

// Summarizer generates commit summaries. *api.Client implements it.
type Summarizer interface {
	SummarizeCommit(ctx context.Context, sha string) (string, error)
}

type Server struct {
	mu         sync.Mutex
	sessions   map[string]*explorer.Session
	newSession SessionFactory

	prefs      *prefs.Store
	chatter    prefs.Chatter
	summarizer Summarizer

	engine *gin.Engine
}

type Option func(*Server)

func WithPrefs(p *prefs.Store) Option {
	return func(s *Server) { s.prefs = p }
}

func WithChatter(c prefs.Chatter) Option {
	return func(s *Server) { s.chatter = c }
}

func WithSummarizer(sum Summarizer) Option {
	return func(s *Server) { s.summarizer = sum }
}

func New(newSession SessionFactory, opts ...Option) *Server {
	s := &Server{
		sessions:   make(map[string]*explorer.Session),
		newSession: newSession,
	}
	for _, o := range opts {
		o(s)
	}
	if s.prefs == nil {
		s.prefs = prefs.New(nil)
	}
	s.engine = s.routes()
	return s
}

// Register serves sess for owner/name instead of creating one on demand.
func (s *Server) Register(owner, name string, sess *explorer.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[repo.Key(owner, name)] = sess
}

// Session returns the session for owner/name, creating it when missing.
// It returns nil when the server has no factory and nothing is registered.
func (s *Server) Session(owner, name string) *explorer.Session {
	key := repo.Key(owner, name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok {
		return sess
	}
	if s.newSession == nil {
		return nil
	}
	sess := s.newSession(owner, name)
	s.sessions[key] = sess
	return sess
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("serving", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), observe())

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	prefsGroup := r.Group("/api/prefs")
	prefsGroup.GET("/sidebar-tab", s.getSidebarTab)
	prefsGroup.PUT("/sidebar-tab", s.putSidebarTab)
	prefsGroup.GET("/citations-expanded", s.getCitationsExpanded)
	prefsGroup.PUT("/citations-expanded", s.putCitationsExpanded)

	repos := r.Group("/api/repos/:owner/:repo", s.requireSession)
	repos.GET("/graph", s.getGraph)
	repos.POST("/refresh", s.refresh)
	repos.POST("/filters", s.postFilters)
	repos.POST("/search", s.postSearch)
	repos.POST("/clear", s.postClear)
	repos.POST("/direction", s.postDirection)
	repos.POST("/nodes", s.postNodes)
	repos.POST("/focus", s.postFocus)
	repos.GET("/commits/:sha", s.getCommit)
	repos.POST("/commits/:sha/summary", s.postSummary)
	repos.GET("/chat", s.getChat)
	repos.POST("/chat", s.postChat)
	repos.DELETE("/chat", s.deleteChat)
	return r
}

// observe logs each request at debug level and records it in the HTTP
// metrics, labelled by route template.
func observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		metrics.HTTPRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(code)).Inc()
		metrics.ObserveSince(metrics.HTTPDuration.WithLabelValues(route, c.Request.Method), start)
		slog.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", code),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}
