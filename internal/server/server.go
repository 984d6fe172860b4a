// Package server exposes the section pipeline over HTTP and WebSocket.
//
// Every WebSocket client receives a "sections" frame followed by a
// "completed" (or "failed") frame for each generation, in the order the
// dispatcher published them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/zjrosen/reshuffle/internal/cachemanager"
	"github.com/zjrosen/reshuffle/internal/config"
	"github.com/zjrosen/reshuffle/internal/dispatch"
	"github.com/zjrosen/reshuffle/internal/log"
	"github.com/zjrosen/reshuffle/internal/pubsub"
	"github.com/zjrosen/reshuffle/internal/sections"
)

const shutdownTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server hosts one dispatcher behind an echo router.
type Server struct {
	cfg         config.ServeConfig
	dispatcher  *dispatch.Dispatcher
	source      *dispatch.Source
	hub         *Hub
	generations cachemanager.CacheManager[string, dispatch.Update]
	echo        *echo.Echo
	unsubscribe []pubsub.Unsubscribe
}

// New wires d to a hub and a generation cache and registers the routes.
func New(d *dispatch.Dispatcher, cfg config.ServeConfig, generations cachemanager.CacheManager[string, dispatch.Update]) *Server {
	s := &Server{
		cfg:         cfg,
		dispatcher:  d,
		source:      dispatch.NewSource(d),
		hub:         NewHub(),
		generations: generations,
	}

	s.unsubscribe = []pubsub.Unsubscribe{
		d.SubscribeSections(func(u dispatch.Update) {
			s.generations.Set(context.Background(), u.ID, u, cfg.CacheTTL)
			s.hub.Broadcast(sectionsMessage(u))
		}),
		d.SubscribeCompletion(func(c dispatch.Completion) {
			s.hub.Broadcast(completionMessage(c))
		}),
	}

	s.echo = s.routes()
	return s
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug(log.CatServe, "request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))

	e.GET("/ws", s.handleWebsocket)
	e.POST("/api/refresh", s.handleRefresh)
	e.GET("/api/sections", s.handleSections)
	e.GET("/api/generations/:id", s.handleGeneration)
	e.GET("/healthz", s.handleHealth)
	return e
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Prime emits ViewReady. A failure is logged and leaves the server running
// in the halted state.
func (s *Server) Prime(ctx context.Context) {
	g, err := s.source.ViewReady(ctx)
	if err != nil {
		log.ErrorErr(log.CatServe, "initial generation failed", err)
		return
	}
	log.Info(log.CatServe, "initial generation published", "seq", g.Seq, "id", g.ID)
}

// Run primes the pipeline, then serves on cfg.Addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.Prime(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info(log.CatServe, "listening", "addr", s.cfg.Addr)
		errCh <- s.echo.Start(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving on %s: %w", s.cfg.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.Close()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// Close releases the dispatcher subscriptions and disconnects all clients.
// An async refresh still generating is cancelled.
func (s *Server) Close() {
	s.dispatcher.Cancel()
	for _, unsub := range s.unsubscribe {
		unsub()
	}
	s.hub.CloseAll()
}

func (s *Server) handleWebsocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warn(log.CatServe, "websocket upgrade failed", "error", err)
		return nil
	}

	client := NewClient(s.hub, conn, max(s.cfg.SendBuffer, replayFrames), s.handleCommand)
	if !s.hub.attach(client, s.replay) {
		return nil
	}

	go client.WritePump()
	client.ReadPump()
	return nil
}

// replayFrames is the most frames replay returns.
const replayFrames = 3

// replay is what a new client sees first: the current list with its
// completion, then the failure if the pipeline has halted.
func (s *Server) replay() []Message {
	var msgs []Message
	if u, ok := s.dispatcher.Latest(); ok {
		msgs = append(msgs, sectionsMessage(u), completionMessage(dispatch.Completion{Generation: u.Generation}))
	}
	if f, ok := s.dispatcher.Failure(); ok {
		msgs = append(msgs, completionMessage(f))
	}
	return msgs
}

func (s *Server) handleCommand(c *Client, cmd Command) {
	switch cmd.Type {
	case CommandRefresh:
		// A newer refresh from any client supersedes one still generating.
		res := s.dispatcher.DispatchAsync(context.Background(), dispatch.RefreshRequested)
		go func() {
			if r := <-res; errors.Is(r.Err, dispatch.ErrHalted) {
				c.enqueue(Message{Type: TypeError, Error: r.Err.Error()})
			}
		}()
	case CommandPing:
		c.enqueue(Message{Type: TypePong})
	default:
		c.enqueue(Message{Type: TypeError, Error: fmt.Sprintf("unknown command %q", cmd.Type)})
	}
}

func (s *Server) handleRefresh(c echo.Context) error {
	g, err := s.source.RefreshRequested(c.Request().Context())
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, viewOf(g))
	case errors.Is(err, dispatch.ErrHalted):
		return c.JSON(http.StatusConflict, ErrorView{Error: err.Error()})
	case errors.Is(err, sections.ErrGeneration):
		return c.JSON(http.StatusInternalServerError, ErrorView{Error: err.Error(), Generation: viewOf(g)})
	default:
		return c.JSON(http.StatusServiceUnavailable, ErrorView{Error: err.Error()})
	}
}

func (s *Server) handleSections(c echo.Context) error {
	u, ok := s.dispatcher.Latest()
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorView{Error: "no sections generated yet"})
	}
	return c.JSON(http.StatusOK, UpdateView{Generation: viewOf(u.Generation), Sections: u.Sections})
}

func (s *Server) handleGeneration(c echo.Context) error {
	id := c.Param("id")
	u, ok := s.generations.Get(c.Request().Context(), id)
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorView{Error: fmt.Sprintf("generation %q not found", id)})
	}
	return c.JSON(http.StatusOK, UpdateView{Generation: viewOf(u.Generation), Sections: u.Sections})
}

// HealthView is the body of GET /healthz.
type HealthView struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.dispatcher.Halted(); err != nil {
		return c.JSON(http.StatusServiceUnavailable, HealthView{Status: "halted", Clients: s.hub.Len(), Error: err.Error()})
	}
	return c.JSON(http.StatusOK, HealthView{Status: "ok", Clients: s.hub.Len()})
}
