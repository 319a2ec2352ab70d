// Package webui serves the read-only health/observability surface: a
// dashboard page plus a JSON/WebSocket API over the daemon's
// HealthSnapshot, adapted from the teacher's webserver.go. It never
// issues transport commands and only ever reads Daemon.Snapshot(), so it
// cannot contend with the RouterTransport's internal mutex.
package webui

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/galpt/cake-bufferbloatd/internal/daemon"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

//go:embed web/templates/*
var templateFS embed.FS

// diskTemplateCandidates mirrors the teacher's distro/OpenWrt search
// order for an on-disk template override.
var diskTemplateCandidates = []string{
	"web/templates/index.html",
	"/usr/share/cake-bufferbloatd/web/templates/index.html",
	"/etc/cake-bufferbloatd/web/templates/index.html",
}

// broadcastInterval is how often the WebSocket stream pushes the rich
// status payload in steady state, independent of any state transition
// push (§4.10).
const broadcastInterval = 2 * time.Second

// Snapshotter is the read-only view this server pulls from; Daemon
// satisfies it.
type Snapshotter interface {
	Snapshot() daemon.HealthSnapshot
}

// Server is the gin+gorilla/websocket health surface.
type Server struct {
	Port    int
	Daemon  Snapshotter
	Logs    *LogBuffer
	Ticks   *TickBuffer
	Logger  zerolog.Logger

	clients  map[*websocket.Conn]bool
	clientMu sync.RWMutex
	upgrader websocket.Upgrader

	transitions chan daemon.SteeringHealth
}

// New builds a Server. logs/ticks may be nil, in which case the
// corresponding endpoints return empty arrays.
func New(port int, d Snapshotter, logs *LogBuffer, ticks *TickBuffer, logger zerolog.Logger) *Server {
	return &Server{
		Port:    port,
		Daemon:  d,
		Logs:    logs,
		Ticks:   ticks,
		Logger:  logger,
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		transitions: make(chan daemon.SteeringHealth, 8),
	}
}

// NotifyTransition pushes an immediate WebSocket update on a steering
// state change, bypassing the broadcastInterval ticker. Non-blocking: a
// full channel drops the notification, since the next periodic
// broadcast will carry the same up-to-date snapshot anyway.
func (s *Server) NotifyTransition(h daemon.SteeringHealth) {
	select {
	case s.transitions <- h:
	default:
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled or
// ListenAndServe returns an error.
func (s *Server) Run(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	tmpl, err := s.loadTemplates()
	if err != nil {
		return fmt.Errorf("webui: loading templates: %w", err)
	}
	r.SetHTMLTemplate(tmpl)

	r.GET("/", s.handleIndex)
	r.GET("/cake-bufferbloatd", s.handleIndex)

	api := r.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/logs", s.handleLogs)
		api.GET("/ticks", s.handleTicks)
	}
	r.GET("/ws", s.handleWebSocket)

	go s.broadcastLoop(ctx)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", s.Port), Handler: r}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	s.Logger.Info().Int("port", s.Port).Msg("webui listening")
	err = srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// loadTemplates prefers an on-disk override, falling back to the
// embedded templates, exactly as the teacher's webserver.go does.
func (s *Server) loadTemplates() (*template.Template, error) {
	for _, cand := range diskTemplateCandidates {
		if _, err := os.Stat(cand); err != nil {
			continue
		}
		pattern := filepath.ToSlash(filepath.Join(filepath.Dir(cand), "*"))
		t, err := template.ParseGlob(pattern)
		if err != nil {
			s.Logger.Warn().Err(err).Str("path", pattern).Msg("failed to parse on-disk webui templates, falling back to embedded")
			continue
		}
		s.Logger.Info().Str("path", pattern).Msg("using on-disk webui templates")
		return t, nil
	}
	return template.ParseFS(templateFS, "web/templates/*")
}

func (s *Server) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{"title": "CAKE Bufferbloat Controller"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Daemon.Snapshot())
}

func (s *Server) handleLogs(c *gin.Context) {
	if s.Logs == nil {
		c.JSON(http.StatusOK, []LogLine{})
		return
	}
	c.JSON(http.StatusOK, s.Logs.Recent())
}

func (s *Server) handleTicks(c *gin.Context) {
	if s.Ticks == nil {
		c.JSON(http.StatusOK, []daemon.TickRecord{})
		return
	}
	c.JSON(http.StatusOK, s.Ticks.Recent())
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	s.clientMu.Lock()
	s.clients[conn] = true
	s.clientMu.Unlock()
	defer func() {
		s.clientMu.Lock()
		delete(s.clients, conn)
		s.clientMu.Unlock()
	}()

	if err := conn.WriteJSON(s.statusPayload()); err != nil {
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// broadcastLoop pushes the rich status payload every broadcastInterval,
// plus immediately whenever NotifyTransition fires.
func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast(s.statusPayload())
		case h := <-s.transitions:
			payload := s.statusPayload()
			payload["transition"] = h
			s.broadcast(payload)
		}
	}
}

func (s *Server) statusPayload() map[string]interface{} {
	return map[string]interface{}{
		"type":      "status",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"snapshot":  s.Daemon.Snapshot(),
	}
}

func (s *Server) broadcast(data interface{}) {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	for client := range s.clients {
		if err := client.WriteJSON(data); err != nil {
			client.Close()
			delete(s.clients, client)
		}
	}
}
