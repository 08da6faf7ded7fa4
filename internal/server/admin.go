package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/atrpc/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type adminServer struct {
	http *http.Server
	done chan error
}

// AdminHandler builds the HTTP admin router: health, readiness, metrics,
// connection listing and registered function names.
func (s *Server) AdminHandler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminAccessLog(s.logger, s.cfg.Name))
	r.Use(observability.AdminMetrics(s.cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"server":  s.cfg.Name,
			"uptime":  s.uptime().String(),
			"version": Version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		state := s.State()
		status := http.StatusOK
		if state != StateRunning {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":  state == StateRunning,
			"state":  state.String(),
			"server": s.cfg.Name,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/connections", func(c *gin.Context) {
		conns := s.Connections()
		c.JSON(http.StatusOK, gin.H{
			"count":       len(conns),
			"connections": conns,
		})
	})

	r.GET("/functions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"functions": s.registry.Names(),
		})
	})
	return r
}

// AdminAddr is the bound admin address, or nil when the admin surface is off.
func (s *Server) AdminAddr() net.Addr {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()
	return s.adminAddr
}

func (s *Server) startAdmin(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: admin listen %s: %w", addr, err)
	}
	a := &adminServer{
		http: &http.Server{
			Handler:           s.AdminHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		done: make(chan error, 1),
	}
	go func() {
		err := a.http.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		a.done <- err
	}()

	s.adminMu.Lock()
	s.admin = a
	s.adminAddr = ln.Addr()
	s.adminMu.Unlock()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("admin listening")
	return nil
}

func (s *Server) stopAdmin() error {
	s.adminMu.Lock()
	a := s.admin
	s.admin = nil
	s.adminMu.Unlock()
	if a == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: admin shutdown: %w", err)
	}
	if err := <-a.done; err != nil {
		return fmt.Errorf("server: admin serve: %w", err)
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
