// Package web serves the preference pages reached from digest links.
package web

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ibeckermayer/newsdigest/internal/logging"
	"github.com/ibeckermayer/newsdigest/internal/store"
	"github.com/ibeckermayer/newsdigest/internal/types"
)

// PreferenceStore reads and writes recipient preferences.
type PreferenceStore interface {
	EnsurePreference(ctx context.Context, identity string) (types.Preference, error)
	UpsertPreference(ctx context.Context, identity string, update store.PreferenceUpdate) (types.Preference, error)
}

// SlotSource lists the slots a recipient may choose, in display order.
type SlotSource interface {
	Slots() []types.Slot
}

// StaticSlots is a fixed SlotSource.
type StaticSlots []types.Slot

// Slots returns the slots.
func (s StaticSlots) Slots() []types.Slot {
	return s
}

// Authorizer checks a link's (identity, token) pair.
type Authorizer interface {
	Authorize(identity, token string) error
}

// Server holds the preference site routes.
type Server struct {
	tokens Authorizer
	prefs  PreferenceStore
	slots  SlotSource
	logger *slog.Logger
	router *gin.Engine
}

// New builds the server and its routes. slots is consulted on every
// request so the choices follow config reloads.
func New(tokens Authorizer, prefs PreferenceStore, slots SlotSource, logger *slog.Logger) *Server {
	s := &Server{
		tokens: tokens,
		prefs:  prefs,
		slots:  slots,
		logger: logging.Component(logger, "web"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.SetHTMLTemplate(template.Must(template.New("web").Parse(pageTemplates)))

	r.GET("/health", handleHealth)
	r.GET("/preferences", s.handleGetPreferences)
	r.POST("/preferences", s.handlePostPreferences)
	r.GET("/unsubscribe", s.handleGetUnsubscribe)
	r.POST("/unsubscribe", s.handlePostUnsubscribe)

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("preference site listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		s.logger.Info("preference site shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// Query strings carry tokens and are never logged.
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Microsecond))
	}
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
