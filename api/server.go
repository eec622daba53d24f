// Package api exposes the scanner over HTTP and streams its events to
// websocket viewers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"SpatialScanner/coordinator"
	iface "SpatialScanner/interface"
	"SpatialScanner/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Scanner interface {
	Scan() error
	Pause(immediate bool) error
	Status() iface.CameraStatus
	Tracked() []iface.DetectedObject
	SelectObject(id int, pose iface.Pose) error
	Subscribe(fn func(coordinator.Event)) func()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Server struct {
	scanner     Scanner
	router      *gin.Engine
	hub         *hub
	unsubscribe func()
	closeOnce   sync.Once
	log         *zap.Logger
}

func NewServer(scanner Scanner) *Server {
	s := &Server{
		scanner: scanner,
		router:  gin.New(),
		log:     logger.Named("api"),
	}
	s.hub = newHub(s.log)
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	s.unsubscribe = scanner.Subscribe(s.onEvent)
	return s
}

func (s *Server) routes() {
	r := s.router
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.POST("/api/scan", func(c *gin.Context) {
		if err := s.scanner.Scan(); err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": s.scanner.Status().String()})
	})
	r.POST("/api/pause", func(c *gin.Context) {
		immediate := false
		if v := c.Query("immediate"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "immediate must be a boolean"})
				return
			}
			immediate = b
		}
		if err := s.scanner.Pause(immediate); err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": s.scanner.Status().String()})
	})
	r.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": s.scanner.Status().String()})
	})
	r.GET("/api/objects", func(c *gin.Context) {
		objects := s.scanner.Tracked()
		if objects == nil {
			objects = []iface.DetectedObject{}
		}
		c.JSON(http.StatusOK, gin.H{"data": objects})
	})
	r.POST("/api/objects/:id/select", func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
			return
		}
		pose := iface.IdentityPose()
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&pose); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if err := s.scanner.SelectObject(id, pose); err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": id})
	})
	r.GET("/ws/events", s.serveEvents)
}

func (s *Server) serveEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 升级失败，不要再写 JSON
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	cl := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	s.hub.add(cl)
	go cl.writePump()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.hub.remove(cl)
}

func (s *Server) onEvent(e coordinator.Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		s.log.Error("encode event failed", zap.Error(err))
		return
	}
	s.hub.broadcast(msg)
}

func (s *Server) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, coordinator.ErrCameraNotRunning):
		code = http.StatusConflict
	case errors.Is(err, coordinator.ErrUnknownObject):
		code = http.StatusNotFound
	case errors.Is(err, coordinator.ErrDisposed), errors.Is(err, coordinator.ErrNotStarted):
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr in the background.
func (s *Server) Start(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		s.log.Info("HTTP server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	return srv
}

// Close detaches from the scanner and disconnects all viewers.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		s.hub.closeAll()
	})
}

// Shutdown stops srv and closes the event stream.
func (s *Server) Shutdown(ctx context.Context, srv *http.Server) error {
	s.Close()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
