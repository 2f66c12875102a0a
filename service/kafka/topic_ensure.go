package kafka

import (
	"errors"

	"LobbyHub/logger"
	"LobbyHub/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

type TopicSpec struct {
	Name        string
	Partitions  int32
	Replication int16
}

// EnsureTopic 会：
// 1) 不存在就创建；
// 2) 已存在且分区数 < 期望值时扩分区（Kafka 只能加不能减）。
func EnsureTopic(admin sarama.ClusterAdmin, spec TopicSpec) error {
	if spec.Partitions <= 0 {
		spec.Partitions = 1
	}
	if spec.Replication <= 0 {
		spec.Replication = 1
	}
	descs, err := admin.DescribeTopics([]string{spec.Name})
	if err != nil {
		return errs.WrapMsg(err, "kafka: describe topic", "topic", spec.Name)
	}
	exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

	if !exists {
		minISR := "1"
		if spec.Replication >= 3 {
			minISR = "2"
		}
		td := &sarama.TopicDetail{
			NumPartitions:     spec.Partitions,
			ReplicationFactor: spec.Replication,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
				"compression.type":               strPtr("producer"),
			},
		}
		if err := admin.CreateTopic(spec.Name, td, false); err != nil {
			var te *sarama.TopicError
			if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
				logger.Info("kafka: topic exists (race)", zap.String("topic", spec.Name))
				return nil
			}
			return errs.WrapMsg(err, "kafka: create topic", "topic", spec.Name)
		}
		logger.Info("kafka: topic created", zap.String("topic", spec.Name),
			zap.Int32("partitions", spec.Partitions), zap.Int16("rf", spec.Replication))
		return nil
	}

	cur := int32(len(descs[0].Partitions))
	if spec.Partitions > cur {
		if err := admin.CreatePartitions(spec.Name, spec.Partitions, nil, false); err != nil {
			return errs.WrapMsg(err, "kafka: expand partitions", "topic", spec.Name, "from", cur, "to", spec.Partitions)
		}
		logger.Info("kafka: partitions expanded", zap.String("topic", spec.Name), zap.Int32("from", cur), zap.Int32("to", spec.Partitions))
		return nil
	}
	logger.Debug("kafka: topic exists", zap.String("topic", spec.Name), zap.Int32("partitions", cur))
	return nil
}

func strPtr(s string) *string { return &s }
