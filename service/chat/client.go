package chat

import (
	"context"
	"net"
	"time"

	"LobbyHub/global/config"
	"LobbyHub/logger"
	"LobbyHub/service/dispatch"
	"LobbyHub/service/event"
	"LobbyHub/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// client pumps frames between one socket and its hub session. The read
// pump runs on the handler goroutine; the write pump owns every write.
type client struct {
	ws      *websocket.Conn
	sess    *dispatch.Session
	conf    config.ServerConfig
	disp    *dispatch.Dispatcher
	limiter *rate.Limiter
}

func newClient(ws *websocket.Conn, sess *dispatch.Session, conf config.ServerConfig, disp *dispatch.Dispatcher) *client {
	return &client{
		ws:      ws,
		sess:    sess,
		conf:    conf,
		disp:    disp,
		limiter: rate.NewLimiter(rate.Every(conf.RateLimit.RefillInterval), conf.RateLimit.Burst),
	}
}

func (c *client) readPump(ctx context.Context) {
	c.ws.SetReadLimit(c.conf.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.conf.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.conf.PongWait))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadErr(err)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if !c.limiter.Allow() {
			c.disp.Hub.SendTo(c.sess, event.NewError("", errs.ErrTooManyRequests))
			continue
		}
		if err := c.disp.Handle(ctx, c.sess, data); err != nil {
			c.sess.Close(err)
			return
		}
	}
}

func (c *client) logReadErr(err error) {
	fields := []zap.Field{zap.String("user", c.sess.UserID), zap.String("conn", c.sess.ConnID)}
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		logger.Debug("ws: peer closed", fields...)
	case isTimeout(err):
		logger.Info("ws: read timeout", append(fields, zap.Error(err))...)
	default:
		// also the normal path when the write pump closed the socket
		logger.Debug("ws: read ended", append(fields, zap.Error(err))...)
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// writePump writes queued frames, pings on a ticker and closes the socket
// once the session dies or the server stops.
func (c *client) writePump(stop <-chan struct{}) {
	ticker := time.NewTicker(c.conf.PingEvery)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case b := <-c.sess.Send():
			if err := c.writeBatch(b); err != nil {
				logger.Info("ws: write failed", zap.String("conn", c.sess.ConnID), zap.Error(err))
				c.sess.Close(nil)
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.conf.WriteWait)); err != nil {
				logger.Info("ws: ping failed", zap.String("conn", c.sess.ConnID), zap.Error(err))
				c.sess.Close(nil)
				return
			}

		case <-c.sess.Done():
			err := c.sess.Err()
			if !errs.ErrSlowConsumer.Is(err) {
				// flush what is already queued, e.g. the error ack of a malformed frame
				_ = c.writeBatch(nil)
			}
			closeWith(c.ws, c.conf.WriteWait, err)
			return

		case <-stop:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(c.conf.WriteWait))
			c.sess.Close(nil)
			return
		}
	}
}

// writeBatch writes first (when non-nil) and every frame queued behind it
// under one write deadline.
func (c *client) writeBatch(first []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.conf.WriteWait))
	if first != nil {
		if err := c.ws.WriteMessage(websocket.TextMessage, first); err != nil {
			return err
		}
	}
	for n := len(c.sess.Send()); n > 0; n-- {
		if err := c.ws.WriteMessage(websocket.TextMessage, <-c.sess.Send()); err != nil {
			return err
		}
	}
	return nil
}

// closeWith sends a close frame whose code reflects why the session ended.
func closeWith(ws *websocket.Conn, wait time.Duration, err error) {
	code, reason := websocket.CloseNormalClosure, ""
	if err != nil {
		ce := errs.Public(err)
		reason = ce.Msg
		switch ce.Code {
		case errs.MalformedEventError, errs.UnauthorizedError, errs.UserNotFoundError:
			code = websocket.ClosePolicyViolation
		case errs.SlowConsumerError:
			code = websocket.CloseTryAgainLater
		default:
			code = websocket.CloseInternalServerErr
		}
	}
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wait))
}
