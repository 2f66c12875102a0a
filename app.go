package main

import (
	"context"
	"errors"
	"strconv"
	"time"

	"LobbyHub/global/config"
	"LobbyHub/logger"
	midsec "LobbyHub/middleware/security"
	"LobbyHub/module/chat/model"
	"LobbyHub/service/audit"
	"LobbyHub/service/chat"
	"LobbyHub/service/direct"
	"LobbyHub/service/dispatch"
	"LobbyHub/service/kafka"
	"LobbyHub/service/natsx"
	"LobbyHub/service/presence"
	"LobbyHub/service/relation"
	"LobbyHub/service/room"
	"LobbyHub/service/storage"
	rdsx "LobbyHub/service/storage/redis"
	"LobbyHub/tools"
	"LobbyHub/tools/safe"
	jwtsec "LobbyHub/tools/security"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// app holds every long-lived component of one node.
type app struct {
	cfg config.AppConfig

	store    storage.Store
	rdb      *redis.Client
	mirror   *storage.RedisPresence
	pg       *pgxpool.Pool
	history  *storage.PGHistory
	archiver *kafka.Archiver
	nats     *natsx.Client
	idem     *natsx.MemIdem

	registry *presence.Registry
	rooms    *room.Coordinator
	direct   *direct.Router
	auditor  *audit.Auditor
	disp     *dispatch.Dispatcher
	server   *chat.Server

	loops errgroup.Group
}

func build(ctx context.Context, cfg config.AppConfig) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.wire(ctx); err != nil {
		_ = a.closeAdapters(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	if err := a.openStore(ctx); err != nil {
		return err
	}
	if err := a.openAdapters(ctx); err != nil {
		return err
	}

	hub := dispatch.NewHub(cfg.Server.SendQueue)
	pconf := presence.Conf{MaxPerUser: cfg.Server.MaxConnsPerUser}
	if a.mirror != nil {
		pconf.Mirror = a.mirror
	}
	a.registry = presence.NewRegistry(pconf)

	rconf := room.Conf{
		TypingWindow: cfg.Room.TypingWindow,
		SweepEvery:   cfg.Room.SweepEvery,
		GraceWindow:  cfg.Room.GraceWindow,
		MaxTextLen:   cfg.Room.MaxTextLen,
	}
	dconf := direct.Conf{
		TypingWindow: cfg.Room.TypingWindow,
		SweepEvery:   cfg.Room.SweepEvery,
		MaxTextLen:   cfg.Room.MaxTextLen,
	}
	if a.archiver != nil {
		rconf.Archiver = a.archiver
		dconf.Archiver = a.archiver
	}
	if a.history != nil {
		rconf.History = a.history
	}
	a.rooms = room.NewCoordinator(a.registry, hub, rconf)
	a.direct = direct.NewRouter(hub, dconf)

	relations := relation.NewManager(a.store, hub, relation.Conf{
		RejectCooldown: cfg.Relation.RejectCooldown,
		StoreTimeout:   cfg.Relation.StoreTimeout,
	})
	a.auditor = audit.NewAuditor(a.store, a.rooms, a.registry, audit.Conf{
		Every:       cfg.Audit.Every,
		Concurrency: cfg.Audit.Concurrency,
	})
	a.disp = dispatch.New(dispatch.Deps{
		Registry:  a.registry,
		Hub:       hub,
		Rooms:     a.rooms,
		Direct:    a.direct,
		Relations: relations,
		Directory: a.store,
	})

	if a.nats != nil {
		subjects := natsx.Subjects{
			LobbyOpened: cfg.Nats.LobbyOpened,
			LobbyClosed: cfg.Nats.LobbyClosed,
			UserDeleted: cfg.Nats.UserDeleted,
		}
		if err := natsx.SubscribeLifecycle(a.nats, cfg.Nats.Queue, subjects, a.disp); err != nil {
			return err
		}
	}

	deps := chat.Deps{
		Dispatcher: a.disp,
		Registry:   a.registry,
		Auditor:    a.auditor,
		Auth: midsec.JWTAuthenticator{Opts: jwtsec.Options{
			Secret:   []byte(cfg.Auth.JWTSecret),
			Alg:      cfg.Auth.JWTAlg,
			Leeway:   cfg.Auth.Leeway,
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
		}},
	}
	if a.mirror != nil {
		deps.Cluster = a.mirror
	}
	a.server = chat.NewServer(cfg.Server, cfg.Auth.InternalToken, deps)
	return nil
}

// onlineStatuses feeds the presence mirror's periodic refresh.
func (a *app) onlineStatuses() map[string]model.Status {
	users := a.registry.SnapshotOnlineUsers()
	out := make(map[string]model.Status, len(users))
	for _, u := range users {
		out[u] = a.registry.Status(u)
	}
	return out
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case config.StoreMongo:
		s, err := storage.OpenMongo(ctx, a.cfg.Mongo)
		if err != nil {
			return err
		}
		a.store = s
	default:
		logger.Warn("storage: in-memory store, relationships are lost on restart")
		a.store = storage.NewMemory()
	}
	return nil
}

// openAdapters connects every optional integration that is enabled.
func (a *app) openAdapters(ctx context.Context) error {
	cfg := a.cfg
	if cfg.Redis.Enabled {
		rdb, err := rdsx.NewClient(ctx, rdsx.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return err
		}
		a.rdb = rdb
		a.mirror = storage.NewRedisPresence(rdb, storage.PresenceMirrorConf{
			Node:    "node-" + strconv.FormatInt(cfg.NodeID, 10),
			TTL:     cfg.Redis.PresenceTTL,
			Channel: cfg.Redis.Channel,
			Online:  a.onlineStatuses,
		})
	}

	if cfg.Postgres.Enabled {
		pool, err := storage.OpenPGPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		a.pg = pool
		a.history = storage.NewPGHistory(pool, storage.PGHistoryConf{
			BatchSize: cfg.Postgres.BatchSize,
			FlushWait: cfg.Postgres.FlushWait,
		})
		if err := a.history.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	if cfg.Kafka.Enabled {
		if cfg.Kafka.EnsureTopic {
			if err := kafka.PrepareTopic(cfg.Kafka); err != nil {
				return err
			}
		}
		p, err := kafka.NewProducer(cfg.Kafka)
		if err != nil {
			return err
		}
		a.archiver = kafka.NewArchiver(p, cfg.Kafka.Topic)
	}

	if cfg.Nats.Enabled {
		a.idem = natsx.NewMemIdem(10 * time.Minute)
		nc, err := natsx.NewClient(natsx.Config{
			Servers:       tools.SplitList(cfg.Nats.Servers),
			Name:          cfg.Nats.Name,
			ReconnectWait: time.Duration(cfg.Nats.ReconnectWaitMS) * time.Millisecond,
		}, natsx.Recover(), natsx.IdemMiddleware(a.idem, 0), natsx.Timeout(cfg.Relation.StoreTimeout))
		if err != nil {
			return err
		}
		a.nats = nc
	}
	return nil
}

// start runs the background loops and the HTTP listener.
func (a *app) start(ctx context.Context) {
	run := func(name string, f func(context.Context)) {
		a.loops.Go(func() error {
			defer safe.Recover(name)
			f(ctx)
			return nil
		})
	}
	run("room.sweep", a.rooms.Run)
	run("direct.sweep", a.direct.Run)
	run("audit", a.auditor.Run)
	if a.mirror != nil {
		run("presence.mirror", a.mirror.Run)
	}
	if a.history != nil {
		run("membership.history", a.history.Run)
	}
	if a.idem != nil {
		run("natsx.idem", a.idem.Run)
	}

	safe.Go("http", func() {
		if err := a.server.Start(); err != nil {
			logger.Error("http: server failed", zap.Error(err))
		}
	})
}

// stop shuts the node down: stop intake, end loops, then flush adapters.
func (a *app) stop(ctx context.Context, cancelLoops context.CancelFunc) error {
	var errList []error
	if err := a.server.Shutdown(ctx); err != nil {
		errList = append(errList, err)
	}
	if a.nats != nil {
		if err := a.nats.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	cancelLoops()
	_ = a.loops.Wait()
	if a.mirror != nil {
		logger.Info("presence mirror stopped", zap.Int64("dropped", a.mirror.Dropped()))
	}
	if err := a.closeAdapters(ctx); err != nil {
		errList = append(errList, err)
	}
	return errors.Join(errList...)
}

func (a *app) closeAdapters(ctx context.Context) error {
	var errList []error
	if a.archiver != nil {
		a.archiver.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}
