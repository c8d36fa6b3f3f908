package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/choraleia/shellfs/pkg/config"
	"github.com/choraleia/shellfs/pkg/event"
	"github.com/choraleia/shellfs/pkg/handler"
	"github.com/choraleia/shellfs/pkg/models"
	"github.com/choraleia/shellfs/pkg/service"
	"github.com/choraleia/shellfs/pkg/utils"
)

// Services bundles everything the HTTP layer talks to.
type Services struct {
	Runtime  *service.Runtime
	Registry *service.FSRegistry
	FS       *service.FSService
	Tasks    *service.TaskService
	Browsers *service.BrowserService
}

// NewServices builds the service graph on top of rt.
func NewServices(rt *service.Runtime) (*Services, error) {
	reg, err := service.NewFSRegistry(rt)
	if err != nil {
		return nil, err
	}
	fsSvc := service.NewFSService(reg, rt.Events, rt.Logger)
	return &Services{
		Runtime:  rt,
		Registry: reg,
		FS:       fsSvc,
		Tasks:    service.NewTaskService(fsSvc, 2, rt.Events, rt.Logger),
		Browsers: service.NewBrowserService(rt, reg),
	}, nil
}

// Close stops sessions before batches, then the runtime they run on.
func (s *Services) Close() error {
	s.Browsers.Close()
	s.Tasks.Close()
	return s.Runtime.Close()
}

type Server struct {
	ginEngine *gin.Engine
	cfg       *config.AppConfig
	svc       *Services
	logger    *slog.Logger
	port      int
}

func NewServer(cfg *config.AppConfig, svc *Services, logger *slog.Logger) *Server {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())
	ginEngine.Use(utils.RequestLogger(logger))
	ginEngine.Use(corsMiddleware())

	server := &Server{
		ginEngine: ginEngine,
		cfg:       cfg,
		svc:       svc,
		logger:    logger,
	}
	server.SetupRoutes()
	return server
}

// corsMiddleware admits localhost browser origins only.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// No Origin header means this is not a browser CORS request.
		if origin != "" {
			if !isLocalOrigin(origin) {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func isLocalOrigin(origin string) bool {
	for _, prefix := range []string{
		"http://localhost", "http://127.0.0.1",
		"https://localhost", "https://127.0.0.1",
	} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// Start binds the listener and serves until ctx is done. A bind failure is
// returned immediately.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host(), fmt.Sprintf("%d", s.cfg.Port()))
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	} else {
		s.port = s.cfg.Port()
	}
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}
	return nil
}

func (s *Server) SetupRoutes() {
	fsHandler := handler.NewFSHandler(s.svc.FS, s.logger)
	taskHandler := handler.NewTaskHandler(s.svc.Tasks, s.logger)
	browserHandler := handler.NewBrowserHandler(s.svc.Browsers, s.logger)
	wsHandler := event.NewWSHandler(s.svc.Runtime.Events, s.logger)

	// /api
	apiGroup := s.ginEngine.Group("/api")

	apiGroup.GET("/runtime", s.runtimeInfo)

	// /api/events/ws
	apiGroup.GET("/events/ws", wsHandler.Handle)

	// /api/fs
	fsGroup := apiGroup.Group("/fs")
	{
		fsGroup.GET("/list", fsHandler.List)
		fsGroup.GET("/stat", fsHandler.Stat)
		fsGroup.GET("/fstype", fsHandler.FSType)
		fsGroup.POST("/mkdir", fsHandler.Mkdir)
		fsGroup.POST("/touch", fsHandler.Touch)
		fsGroup.POST("/remove", fsHandler.Remove)
		fsGroup.POST("/move", fsHandler.Move)
		fsGroup.POST("/copy", fsHandler.Copy)
		fsGroup.POST("/chmod", fsHandler.Chmod)
	}

	// /api/tasks
	tasksGroup := apiGroup.Group("/tasks")
	{
		tasksGroup.POST("/batch", taskHandler.Enqueue)
		tasksGroup.GET("/active", taskHandler.ListActive)
		tasksGroup.GET("/history", taskHandler.ListHistory)
		tasksGroup.GET("/:id", taskHandler.Get)
		tasksGroup.POST("/:id/cancel", taskHandler.Cancel)
	}

	// /api/browser
	browserHandler.RegisterRoutes(apiGroup)
}

// runtimeInfo lets clients discover base URLs and the active backend.
func (s *Server) runtimeInfo(c *gin.Context) {
	host := s.cfg.Host()
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	port := s.port
	if port == 0 {
		port = s.cfg.Port()
	}
	hostPort := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: models.RuntimeInfo{
		HTTPBaseURL: "http://" + hostPort,
		WSBaseURL:   "ws://" + hostPort,
		Port:        port,
		Backend:     string(s.svc.Registry.Default()),
		Remote:      s.cfg.IsRemote(),
		Watching:    s.svc.Runtime.Watches != nil,
	}})
}
