package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/spec-kit/workorder-service/internal/config"
)

// NewKafkaProducer connects a synchronous producer, retrying while the brokers come up.
func NewKafkaProducer(cfg config.KafkaConfig) (sarama.SyncProducer, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Version = sarama.V3_6_0_0

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxElapsedTime = 30 * time.Second

	var producer sarama.SyncProducer
	err := backoff.Retry(func() error {
		p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
		if err != nil {
			return fmt.Errorf("creating producer: %w", err)
		}
		producer = p
		return nil
	}, expBackoff)
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer: %w", err)
	}
	return producer, nil
}

// KafkaDispatcher publishes notifications to a topic keyed by recipient, so
// one person's notifications stay ordered on a single partition.
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
	now      func() time.Time
}

func NewKafkaDispatcher(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{producer: producer, topic: topic, logger: logger.Named("kafka"), now: time.Now}
}

func (d *KafkaDispatcher) Notify(ctx context.Context, to Recipient, template Template, payload Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(Message{Template: template, Recipient: to, Payload: payload, SentAt: d.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(string(to.Type) + ":" + to.ID),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("template"), Value: []byte(template)},
		},
	}
	partition, offset, err := d.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message to kafka topic %s: %w", d.topic, err)
	}
	d.logger.Debug("published notification",
		zap.String("topic", d.topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("template", string(template)))
	return nil
}

// Close releases the producer.
func (d *KafkaDispatcher) Close() error {
	return d.producer.Close()
}

var _ Dispatcher = (*KafkaDispatcher)(nil)
