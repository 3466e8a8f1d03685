package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"rafflebot/config"
	"rafflebot/internal/app"
)

// Adjuster applies a ticket job to durable balances. Implemented by the
// postgres store, which also makes replays of the same job id no-ops.
type Adjuster interface {
	AdjustTickets(ctx context.Context, job app.TicketJob) error
}

// Worker consumes ticket jobs from Kafka and applies them through the
// adjuster. Offsets are only marked after a successful apply, so a
// failed adjustment is redelivered; the adjuster's job-id dedup keeps
// redelivery safe.
type Worker struct {
	logger   *zap.Logger
	group    sarama.ConsumerGroup
	topic    string
	adjuster Adjuster
}

func NewWorker(logger *zap.Logger, cfg *config.Config, adjuster Adjuster) (*Worker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sc := sarama.NewConfig()
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Return.Errors = true

	brokers := strings.Split(cfg.Kafka.Brokers, ",")
	group, err := sarama.NewConsumerGroup(brokers, cfg.Kafka.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	logger.Info("kafka worker connected",
		zap.Strings("brokers", brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("groupID", cfg.Kafka.GroupID))
	return &Worker{
		logger:   logger,
		group:    group,
		topic:    cfg.Kafka.Topic,
		adjuster: adjuster,
	}, nil
}

// Run consumes until the context is cancelled. Consume returns on every
// rebalance, so it loops.
func (w *Worker) Run(ctx context.Context) error {
	handler := &jobHandler{logger: w.logger, adjuster: w.adjuster}
	for {
		if err := w.group.Consume(ctx, []string{w.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			w.logger.Error("consumer group error", zap.Error(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (w *Worker) Close() error {
	return w.group.Close()
}

type jobHandler struct {
	logger   *zap.Logger
	adjuster Adjuster
}

func (h *jobHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *jobHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *jobHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		job, err := decodeJob(msg.Value)
		if err != nil {
			// malformed message; marking it is the only way forward
			h.logger.Error("dropping undecodable ticket job",
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			session.MarkMessage(msg, "")
			continue
		}

		if err := h.adjuster.AdjustTickets(session.Context(), job); err != nil {
			// leave the offset unmarked so the job is redelivered
			h.logger.Error("ticket adjustment failed",
				zap.String("jobID", job.ID),
				zap.Error(err))
			return err
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

func decodeJob(data []byte) (app.TicketJob, error) {
	var job app.TicketJob
	if err := json.Unmarshal(data, &job); err != nil {
		return app.TicketJob{}, fmt.Errorf("decode ticket job: %w", err)
	}
	if job.ID == "" || job.Wallet == "" {
		return app.TicketJob{}, fmt.Errorf("ticket job missing id or wallet")
	}
	return job, nil
}
