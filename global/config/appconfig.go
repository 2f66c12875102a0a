package config

import "time"

type AppConfig struct {
	NodeID   int64          `yaml:"node_id"` // 雪花ID节点号 0~1023
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Room     RoomConfig     `yaml:"room"`
	Relation RelationConfig `yaml:"relation"`
	Audit    AuditConfig    `yaml:"audit"`
	Store    StoreConfig    `yaml:"store"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Redis    RedisConfig    `yaml:"redis"`
	Nats     NatsConfig     `yaml:"nats"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Format is "console" (default) or "json".
	Format string `yaml:"format"`
}

type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

type ServerConfig struct {
	Addr            string          `yaml:"addr"`
	AllowedOrigins  []string        `yaml:"allowed_origins"` // 为空表示不校验
	MaxMessageSize  int64           `yaml:"max_message_size"`
	SendQueue       int             `yaml:"send_queue"` // 每个连接的出站缓冲
	PingEvery       time.Duration   `yaml:"ping_every"`
	PongWait        time.Duration   `yaml:"pong_wait"`
	WriteWait       time.Duration   `yaml:"write_wait"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	MaxConnsPerUser int             `yaml:"max_conns_per_user"` // 0 = 不限制
}

type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTAlg        string        `yaml:"jwt_alg"`
	Leeway        time.Duration `yaml:"leeway"`
	Issuer        string        `yaml:"issuer"`         // 为空则不校验 iss
	Audience      string        `yaml:"audience"`       // 为空则不校验 aud
	InternalToken string        `yaml:"internal_token"` // /internal 与 /admin 路由
}

type RoomConfig struct {
	TypingWindow time.Duration `yaml:"typing_window"`
	SweepEvery   time.Duration `yaml:"sweep_every"`
	GraceWindow  time.Duration `yaml:"grace_window"`
	MaxTextLen   int           `yaml:"max_text_len"`
}

type RelationConfig struct {
	RejectCooldown time.Duration `yaml:"reject_cooldown"`
	StoreTimeout   time.Duration `yaml:"store_timeout"`
}

type AuditConfig struct {
	Every       time.Duration `yaml:"every"` // 0 = 只由运维触发
	Concurrency int           `yaml:"concurrency"`
}

const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
)

type StoreConfig struct {
	Driver string `yaml:"driver"`
}

type MongoConfig struct {
	Uri         string `yaml:"uri"`
	Database    string `yaml:"database"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	AuthSource  string `yaml:"auth_source"`
	MaxPoolSize int    `yaml:"max_pool_size"`
	MaxRetry    int    `yaml:"max_retry"`
}

type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	PresenceTTL time.Duration `yaml:"presence_ttl"`
	Channel     string        `yaml:"channel"`
}

type NatsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Servers         string `yaml:"servers"`
	Name            string `yaml:"name"`
	Queue           string `yaml:"queue"`
	LobbyOpened     string `yaml:"lobby_opened"`
	LobbyClosed     string `yaml:"lobby_closed"`
	UserDeleted     string `yaml:"user_deleted"`
	ReconnectWaitMS int    `yaml:"reconnect_wait_ms"`
}

type KafkaConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	ClientID    string   `yaml:"client_id"`
	Compression string   `yaml:"compression"` // none/gzip/snappy/lz4/zstd
	Partitions  int32    `yaml:"partitions"`
	Replication int16    `yaml:"replication"`
	EnsureTopic bool     `yaml:"ensure_topic"`
}

type PostgresConfig struct {
	Enabled   bool          `yaml:"enabled"`
	DSN       string        `yaml:"dsn"`
	BatchSize int           `yaml:"batch_size"`
	FlushWait time.Duration `yaml:"flush_wait"`
}
