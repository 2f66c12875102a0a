package natsx

import (
	"context"
	"time"

	"LobbyHub/tools/errs"
)

// Message is a transport-neutral view of one delivery.
type Message struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

type Handler func(ctx context.Context, msg Message) error

type Middleware func(Handler) Handler

// Chain wraps h so that mws[0] runs first.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Recover converts a handler panic into an error so one bad event cannot
// take the subscription down.
func Recover() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errs.WrapMsg(errs.ErrPanic(r), "natsx: handler panic", "subject", msg.Subject)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// Timeout bounds each delivery. d <= 0 disables it.
func Timeout(d time.Duration) Middleware {
	return func(next Handler) Handler {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, msg Message) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, msg)
		}
	}
}
