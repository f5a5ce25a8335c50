// Package simserver is an in-memory stand-in for the generation backend.
// It speaks the same REST API as the real service and advances image jobs
// with wall-clock time, which makes it useful for local runs and tests.
package simserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/picturebook/internal/logging"
	"github.com/dusk-indust/picturebook/internal/orchestrator"
	"github.com/dusk-indust/picturebook/internal/remote"
)

const defaultPageDuration = 2 * time.Second

// Option configures a Server.
type Option func(*Server)

// WithPageDuration sets how long each page takes to draw.
func WithPageDuration(d time.Duration) Option {
	return func(s *Server) { s.pageDuration = d }
}

// WithFailPage makes every job fail when it reaches page n. Zero disables.
func WithFailPage(n int) Option {
	return func(s *Server) { s.failPage = n }
}

// WithToken requires "Authorization: Bearer <token>" on every API call.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithLogger sets the request logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithPreviewBase sets the URL prefix of page previews.
func WithPreviewBase(base string) Option {
	return func(s *Server) { s.previewBase = strings.TrimRight(base, "/") }
}

// Server serves the simulated API.
type Server struct {
	store        *Store
	pageDuration time.Duration
	failPage     int
	token        string
	previewBase  string
	logger       logrus.FieldLogger
	now          func() time.Time
	engine       *gin.Engine
}

// New creates a Server with an empty store.
func New(opts ...Option) *Server {
	s := &Server{
		store:        NewStore(),
		pageDuration: defaultPageDuration,
		previewBase:  "https://sim.picturebook.invalid",
		logger:       logging.Discard(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.accessLog())
	s.RegisterRoutes(r)
	s.engine = r
	return s
}

// Store exposes the backing store.
func (s *Server) Store() *Store { return s.store }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// RegisterRoutes registers routes
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1", s.auth())
	{
		v1.POST("/stories", s.createStory)
		v1.DELETE("/stories/:id", s.deleteStory)
		v1.POST("/storybooks", s.createStorybook)
		v1.DELETE("/storybooks/:id", s.deleteStorybook)
		v1.POST("/storybooks/:id/images", s.kickImages)
		v1.GET("/storybooks/:id/progress", s.progress)
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
// ready, if non-nil, receives the bound address once listening.
func (s *Server) Run(ctx context.Context, addr string, ready chan<- string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	if ready != nil {
		ready <- ln.Addr().String()
	}
	s.logger.WithField("addr", ln.Addr().String()).Info("simulated backend listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) createStory(c *gin.Context) {
	var req remote.StoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, err.Error())
		return
	}
	switch {
	case req.SettingID <= 0:
		abortError(c, http.StatusBadRequest, "setting_id must be positive")
		return
	case strings.TrimSpace(req.Theme) == "":
		abortError(c, http.StatusBadRequest, "theme is required")
		return
	case req.PageCount < 1 || req.PageCount > orchestrator.MaxPageCount:
		abortError(c, http.StatusUnprocessableEntity, "page_count must be between 1 and "+strconv.Itoa(orchestrator.MaxPageCount))
		return
	}

	p := s.store.CreatePlot(Plot{
		SettingID: req.SettingID,
		Theme:     req.Theme,
		PageCount: req.PageCount,
		CreatedAt: s.now(),
	})
	c.JSON(http.StatusCreated, remote.StoryResult{StoryPlotID: p.ID})
}

func (s *Server) createStorybook(c *gin.Context) {
	var req remote.StorybookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.PageCount < 1 || req.PageCount > orchestrator.MaxPageCount {
		abortError(c, http.StatusUnprocessableEntity, "page_count must be between 1 and "+strconv.Itoa(orchestrator.MaxPageCount))
		return
	}
	b, err := s.store.CreateBook(Book{
		PlotID:    req.StoryPlotID,
		Theme:     req.Theme,
		ChildID:   req.ChildID,
		PageCount: req.PageCount,
		CreatedAt: s.now(),
	})
	if err != nil {
		abortError(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusCreated, remote.StorybookResult{StorybookID: b.ID})
}

func (s *Server) kickImages(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if _, err := s.store.Kick(id, s.now()); err != nil {
		abortError(c, http.StatusNotFound, err.Error())
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) progress(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := s.store.GetBook(id)
	if err != nil {
		abortError(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusOK, Progress(b, s.now(), s.pageDuration, s.failPage, s.previewBase))
}

func (s *Server) deleteStory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.store.DeletePlot(id); err != nil {
		status := http.StatusNotFound
		if strings.Contains(err.Error(), "used by") {
			status = http.StatusConflict
		}
		abortError(c, status, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteStorybook(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.store.DeleteBook(id); err != nil {
		abortError(c, http.StatusNotFound, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		abortError(c, http.StatusBadRequest, "invalid id "+strconv.Quote(c.Param("id")))
		return 0, false
	}
	return id, true
}

// abortError writes the API error envelope.
func abortError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": status, "message": message}})
}

func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.token == "" {
			c.Next()
			return
		}
		if c.GetHeader("Authorization") != "Bearer "+s.token {
			abortError(c, http.StatusUnauthorized, "authentication required")
			return
		}
		c.Next()
	}
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(remote.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(remote.RequestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"duration":   time.Since(start),
			"request_id": c.GetString("request_id"),
		}).Debug("request served")
	}
}
