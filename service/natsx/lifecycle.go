package natsx

import (
	"context"
	"encoding/json"

	"LobbyHub/logger"
	"LobbyHub/tools/errs"

	"go.uber.org/zap"
)

// Lifecycle is the set of external signals the lobby engine accepts.
// *dispatch.Dispatcher implements it.
type Lifecycle interface {
	LobbyOpened(roomID string) error
	LobbyClosed(roomID string) error
	UserDeleted(ctx context.Context, userID string) error
}

// Subjects names the subjects carrying each signal.
type Subjects struct {
	LobbyOpened string
	LobbyClosed string
	UserDeleted string
}

type lobbySignal struct {
	RoomID string `json:"roomID"`
}

type userSignal struct {
	UserID string `json:"userID"`
}

// Route binds one subject to its handler.
type Route struct {
	Subject string
	Handler Handler
}

// LifecycleRoutes builds one route per configured subject. Empty subjects
// are skipped.
func LifecycleRoutes(s Subjects, lc Lifecycle) []Route {
	var out []Route
	add := func(subject string, h Handler) {
		if subject != "" {
			out = append(out, Route{Subject: subject, Handler: h})
		}
	}
	add(s.LobbyOpened, func(_ context.Context, m Message) error {
		var sig lobbySignal
		if err := decodeSignal(m, &sig); err != nil {
			return err
		}
		return lc.LobbyOpened(sig.RoomID)
	})
	add(s.LobbyClosed, func(_ context.Context, m Message) error {
		var sig lobbySignal
		if err := decodeSignal(m, &sig); err != nil {
			return err
		}
		return lc.LobbyClosed(sig.RoomID)
	})
	add(s.UserDeleted, func(ctx context.Context, m Message) error {
		var sig userSignal
		if err := decodeSignal(m, &sig); err != nil {
			return err
		}
		return lc.UserDeleted(ctx, sig.UserID)
	})
	return out
}

func decodeSignal(m Message, v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return errs.ErrMalformedEvent.WrapMsg("decode lifecycle signal", "subject", m.Subject, "err", err.Error())
	}
	return nil
}

// SubscribeLifecycle subscribes every lifecycle route on c under queue.
func SubscribeLifecycle(c *Client, queue string, s Subjects, lc Lifecycle) error {
	for _, r := range LifecycleRoutes(s, lc) {
		if err := c.Subscribe(r.Subject, queue, r.Handler); err != nil {
			return err
		}
		logger.Info("nats: lifecycle subscribed", zap.String("subject", r.Subject), zap.String("queue", queue))
	}
	return nil
}
