package natsx

import (
	"context"
	"strings"
	"sync"
	"time"

	"LobbyHub/logger"
	"LobbyHub/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	defaultReconnectWait = 500 * time.Millisecond
	defaultDialTimeout   = 3 * time.Second

	pendingMsgs  = 1 << 16
	pendingBytes = 64 << 20
)

type Config struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

func (cfg Config) options() []nats.Option {
	wait := cfg.ReconnectWait
	if wait <= 0 {
		wait = defaultReconnectWait
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	return []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(timeout),
		// lifecycle events must keep flowing across broker restarts
		nats.MaxReconnects(-1),
		nats.ReconnectWait(wait),
		nats.ReconnectJitter(wait/5, wait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats: disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats: reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Warn("nats: async error", zap.String("subject", subject), zap.Error(err))
		}),
	}
}

// Client wraps one NATS connection and the core subscriptions made on it.
// Every handler runs behind the client's middlewares.
type Client struct {
	nc  *nats.Conn
	mws []Middleware

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewClient(cfg Config, mws ...Middleware) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errs.ErrArgs.WrapMsg("nats: no servers configured")
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), cfg.options()...)
	if err != nil {
		return nil, errs.WrapMsg(err, "nats: connect", "servers", cfg.Servers)
	}
	return &Client{nc: nc, mws: mws}, nil
}

// Subscribe registers h on subject. A non-empty queue makes the nodes of a
// cluster share the subject, each message reaching one of them.
func (c *Client) Subscribe(subject, queue string, h Handler) error {
	cb := c.deliver(Chain(h, c.mws...))
	var (
		sub *nats.Subscription
		err error
	)
	if queue != "" {
		sub, err = c.nc.QueueSubscribe(subject, queue, cb)
	} else {
		sub, err = c.nc.Subscribe(subject, cb)
	}
	if err != nil {
		return errs.WrapMsg(err, "nats: subscribe", "subject", subject, "queue", queue)
	}
	if err := sub.SetPendingLimits(pendingMsgs, pendingBytes); err != nil {
		logger.Warn("nats: pending limits", zap.String("subject", subject), zap.Error(err))
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	logger.Info("nats: subscribed", zap.String("subject", subject), zap.String("queue", queue))
	return nil
}

func (c *Client) deliver(h Handler) nats.MsgHandler {
	return func(m *nats.Msg) {
		msg := Message{
			Subject: m.Subject,
			Data:    append([]byte(nil), m.Data...),
			Header:  firstValues(m.Header),
		}
		if err := h(context.Background(), msg); err != nil {
			logger.Warn("nats: handler failed", zap.String("subject", m.Subject), zap.Error(err))
		}
	}
}

// Close drains every subscription, then the connection. In-flight handlers
// finish first.
func (c *Client) Close() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			logger.Warn("nats: drain subscription", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	if c.nc == nil {
		return nil
	}
	return c.nc.Drain()
}

func firstValues(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
