package kafka

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"LobbyHub/global/config"
	"LobbyHub/logger"
	"LobbyHub/module/chat/model"
	"LobbyHub/tools/errs"
	"LobbyHub/tools/safe"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

const headerKind = "kind"

// Archiver publishes accepted chat messages to one topic, keyed by
// conversation so each room or pair lands on one partition in order.
// It serves as both room.Archiver and direct.Archiver.
type Archiver struct {
	producer sarama.AsyncProducer
	topic    string

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewProducer connects an async producer for conf.
func NewProducer(conf config.KafkaConfig) (sarama.AsyncProducer, error) {
	p, err := sarama.NewAsyncProducer(conf.Brokers, BuildConfig(conf))
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka: new producer", "brokers", conf.Brokers)
	}
	return p, nil
}

// PrepareTopic creates or widens the archive topic.
func PrepareTopic(conf config.KafkaConfig) error {
	admin, err := sarama.NewClusterAdmin(conf.Brokers, BuildConfig(conf))
	if err != nil {
		return errs.WrapMsg(err, "kafka: cluster admin", "brokers", conf.Brokers)
	}
	defer admin.Close()
	return EnsureTopic(admin, TopicSpec{Name: conf.Topic, Partitions: conf.Partitions, Replication: conf.Replication})
}

func NewArchiver(p sarama.AsyncProducer, topic string) *Archiver {
	safe.MustNotNil(p, "kafka producer")
	a := &Archiver{producer: p, topic: topic, done: make(chan struct{})}
	safe.Go("kafka.archive.results", a.drain)
	return a
}

// Archive enqueues msg without blocking. When the producer buffer is full
// or the archiver is closed the message is dropped and counted.
func (a *Archiver) Archive(msg model.MessageRecord) {
	b, err := json.Marshal(msg)
	if err != nil {
		logger.Error("kafka: encode message", zap.String("id", msg.ID), zap.Error(err))
		return
	}
	kind := "lobby"
	if msg.IsDirect() {
		kind = "direct"
	}
	pm := &sarama.ProducerMessage{
		Topic:    a.topic,
		Key:      sarama.StringEncoder(msg.ArchiveKey()),
		Value:    sarama.ByteEncoder(b),
		Headers:  []sarama.RecordHeader{{Key: []byte(headerKind), Value: []byte(kind)}},
		Metadata: msg.ID,
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.producer.Input() <- pm:
	default:
		if n := a.dropped.Add(1); n == 1 || n%1000 == 0 {
			logger.Warn("kafka: producer buffer full, dropping messages", zap.Int64("dropped", n))
		}
	}
}

func (a *Archiver) drain() {
	defer close(a.done)
	succ, fail := a.producer.Successes(), a.producer.Errors()
	for succ != nil || fail != nil {
		select {
		case _, ok := <-succ:
			if !ok {
				succ = nil
				continue
			}
			a.sent.Add(1)
		case pe, ok := <-fail:
			if !ok {
				fail = nil
				continue
			}
			a.failed.Add(1)
			id, _ := pe.Msg.Metadata.(string)
			logger.Warn("kafka: archive failed", zap.String("topic", pe.Msg.Topic), zap.String("id", id), zap.Error(pe.Err))
		}
	}
}

// Close flushes buffered messages and waits for their results. drain owns
// the result channels, so the producer is closed asynchronously.
func (a *Archiver) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.producer.AsyncClose()
	<-a.done
	logger.Info("kafka: archiver closed",
		zap.Int64("sent", a.sent.Load()), zap.Int64("failed", a.failed.Load()), zap.Int64("dropped", a.dropped.Load()))
}

func (a *Archiver) Sent() int64    { return a.sent.Load() }
func (a *Archiver) Failed() int64  { return a.failed.Load() }
func (a *Archiver) Dropped() int64 { return a.dropped.Load() }
