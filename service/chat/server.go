// Package chat is the WebSocket and HTTP transport in front of the
// dispatcher.
package chat

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"LobbyHub/global/config"
	"LobbyHub/logger"
	"LobbyHub/middleware"
	midsec "LobbyHub/middleware/security"
	"LobbyHub/module/chat/model"
	"LobbyHub/service/audit"
	"LobbyHub/service/dispatch"
	"LobbyHub/service/presence"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ClusterPresence answers presence for users connected to other nodes.
type ClusterPresence interface {
	Lookup(ctx context.Context, userID string) (model.Status, string, error)
}

type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Registry   *presence.Registry
	Auditor    *audit.Auditor
	Auth       midsec.Authenticator
	Cluster    ClusterPresence // optional
}

type Server struct {
	conf     config.ServerConfig
	internal string
	deps     Deps
	upgrader websocket.Upgrader
	engine   *gin.Engine
	httpSrv  *http.Server

	stop     chan struct{}
	stopOnce sync.Once
}

func NewServer(conf config.ServerConfig, internalToken string, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		conf:     conf,
		internal: internalToken,
		deps:     deps,
		stop:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// origin is enforced by middleware.Origin before the upgrade
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), middleware.RequestID(), middleware.AccessLog())
	s.routes()
	s.httpSrv = &http.Server{
		Addr:              conf.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Shutdown is called. It returns nil on a clean stop.
func (s *Server) Start() error {
	logger.Info("chat: listening", zap.String("addr", s.conf.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes every live socket.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	return s.httpSrv.Shutdown(ctx)
}
