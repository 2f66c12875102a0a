package kafka

import (
	"strings"
	"time"

	"LobbyHub/global/config"

	"github.com/Shopify/sarama"
)

var KafkaVersion = sarama.V2_1_0_0

// BuildConfig 生成 producer 配置；Key 决定分区，同一房间/会话的消息保持有序
func BuildConfig(conf config.KafkaConfig) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = KafkaVersion
	if conf.ClientID != "" {
		cfg.ClientID = conf.ClientID
	}

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Flush.Frequency = 50 * time.Millisecond
	cfg.Producer.Compression = compression(conf.Compression)

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

func compression(name string) sarama.CompressionCodec {
	switch strings.ToLower(name) {
	case "gzip":
		return sarama.CompressionGZIP
	case "snappy":
		return sarama.CompressionSnappy
	case "lz4":
		return sarama.CompressionLZ4
	case "zstd":
		return sarama.CompressionZSTD
	default:
		return sarama.CompressionNone
	}
}
