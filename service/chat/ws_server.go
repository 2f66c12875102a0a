package chat

import (
	"context"

	"LobbyHub/logger"
	midsec "LobbyHub/middleware/security"
	"LobbyHub/tools/safe"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HandleWS upgrades an authenticated request and runs the connection until
// either side ends it.
func (s *Server) HandleWS(c *gin.Context) {
	uid := midsec.UserID(c)
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败，Upgrade 已写回错误响应
		logger.Info("ws: upgrade failed", zap.String("user", uid), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess, err := s.deps.Dispatcher.Connect(ctx, uid)
	if err != nil {
		logger.Warn("ws: connect rejected", zap.String("user", uid), zap.Error(err))
		closeWith(ws, s.conf.WriteWait, err)
		_ = ws.Close()
		return
	}

	cl := newClient(ws, sess, s.conf, s.deps.Dispatcher)
	done := make(chan struct{})
	safe.Go("ws-write-"+sess.ConnID, func() {
		defer close(done)
		cl.writePump(s.stop)
	})
	cl.readPump(ctx)

	// reader is gone: make sure the writer stops, then tear down
	sess.Close(nil)
	<-done
	s.deps.Dispatcher.Disconnect(sess.ConnID)
}
