package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// KafkaSink publishes events as JSON, keyed by payment reference so all
// events for one transaction land on the same partition.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start kafka producer: %w", err)
	}
	return producer, nil
}

func NewKafkaSink(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic, logger: logger}
}

func (s *KafkaSink) Record(_ context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("failed to marshal audit event", zap.String("type", string(e.Type)), zap.Error(err))
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.ByteEncoder(data),
	}
	if e.Reference != "" {
		msg.Key = sarama.StringEncoder(e.Reference)
	}

	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		s.logger.Error("failed to publish audit event",
			zap.String("type", string(e.Type)),
			zap.String("reference", e.Reference),
			zap.Error(err),
		)
		return
	}

	s.logger.Debug("published audit event",
		zap.String("type", string(e.Type)),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
