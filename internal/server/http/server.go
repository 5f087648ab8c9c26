// Package http exposes the orchestration engine over HTTP: an SSE stream for
// requests, a websocket fan-out for status watchers, plus health and metrics
// endpoints.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"foreman/internal/agent/app/coordinator"
	"foreman/internal/agent/ports"
	"foreman/internal/logging"
)

// Orchestrator is the slice of the coordinator the server needs.
type Orchestrator interface {
	Handle(ctx context.Context, req coordinator.Request) (<-chan ports.Event, error)
}

// Options configures the server.
type Options struct {
	Coordinator    Orchestrator
	Broadcaster    *Broadcaster
	Gatherer       prometheus.Gatherer
	Logger         logging.Logger
	AllowedOrigins []string
}

// Server is the HTTP boundary.
type Server struct {
	router      *gin.Engine
	coordinator Orchestrator
	broadcaster *Broadcaster
	logger      logging.Logger
}

// New builds the router and handlers.
func New(opts Options) *Server {
	logger := logging.OrNop(opts.Logger)
	broadcaster := opts.Broadcaster
	if broadcaster == nil {
		broadcaster = NewBroadcaster(logger)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(opts.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = opts.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	router.Use(cors.New(corsCfg))

	s := &Server{
		router:      router,
		coordinator: opts.Coordinator,
		broadcaster: broadcaster,
		logger:      logger,
	}

	router.POST("/api/orchestrate", s.handleOrchestrate)
	router.GET("/api/events", s.handleEvents)
	router.GET("/healthz", s.handleHealth)
	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// Broadcaster returns the status fan-out, for wiring as an event listener.
func (s *Server) Broadcaster() *Broadcaster { return s.broadcaster }

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.broadcaster.ClientCount()})
}

// handleOrchestrate runs one request and streams its events as SSE. The
// stream always terminates with a done or error event.
func (s *Server) handleOrchestrate(c *gin.Context) {
	var req coordinator.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	events, err := s.coordinator.Handle(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSE(c.Writer, ev); err != nil {
				s.logger.Debug("SSE client gone: %v", err)
				return
			}
			c.Writer.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev ports.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType(), data)
	return err
}
