package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"rafflebot/config"
	"rafflebot/internal/app"
)

// KafkaQueue publishes ticket jobs to a Kafka topic. Messages are keyed
// by wallet so all adjustments for one wallet land on one partition and
// apply in order.
type KafkaQueue struct {
	logger   *zap.Logger
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaQueue(logger *zap.Logger, cfg *config.Config) (*KafkaQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Idempotent = true
	sc.Producer.Retry.Max = 5
	sc.Producer.Return.Successes = true
	sc.Net.MaxOpenRequests = 1

	brokers := strings.Split(cfg.Kafka.Brokers, ",")
	producer, err := sarama.NewSyncProducer(brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	logger.Info("kafka producer connected",
		zap.Strings("brokers", brokers),
		zap.String("topic", cfg.Kafka.Topic))
	return &KafkaQueue{
		logger:   logger,
		producer: producer,
		topic:    cfg.Kafka.Topic,
	}, nil
}

// Enqueue publishes one ticket job. Implements app.Queue.
func (q *KafkaQueue) Enqueue(_ context.Context, job app.TicketJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal ticket job: %w", err)
	}

	partition, offset, err := q.producer.SendMessage(&sarama.ProducerMessage{
		Topic: q.topic,
		Key:   sarama.StringEncoder(job.Wallet),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("send ticket job: %w", err)
	}

	q.logger.Debug("ticket job enqueued",
		zap.String("jobID", job.ID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (q *KafkaQueue) Close() error {
	return q.producer.Close()
}

// DirectQueue applies jobs synchronously against the adjuster, used when
// Kafka is disabled (local runs, tests).
type DirectQueue struct {
	logger   *zap.Logger
	adjuster Adjuster
}

func NewDirectQueue(logger *zap.Logger, adjuster Adjuster) *DirectQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectQueue{logger: logger, adjuster: adjuster}
}

// Enqueue applies the job inline. Implements app.Queue.
func (q *DirectQueue) Enqueue(ctx context.Context, job app.TicketJob) error {
	return q.adjuster.AdjustTickets(ctx, job)
}
