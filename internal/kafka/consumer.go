package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/domain"
)

// batchTimeout bounds the processing of one batch
const batchTimeout = 30 * time.Second

// ScoreHandler runs a submission through the score pipeline
type ScoreHandler interface {
	SubmitScore(ctx context.Context, submission domain.ScoreSubmission) (*domain.SubmitResult, error)
}

// Consumer feeds score submissions from Kafka into the same pipeline as the HTTP API
type Consumer struct {
	config        *config.KafkaConfig
	handler       ScoreHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler ScoreHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	c := newConsumer(cfg, handler, logger)
	c.consumerGroup = consumerGroup
	return c, nil
}

func newConsumer(cfg *config.KafkaConfig, handler ScoreHandler, logger *slog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:  cfg,
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		ready:   make(chan bool),
	}
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("kafka consumer ready")

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// BatchStats summarizes one processed batch
type BatchStats struct {
	Accepted int
	Rejected map[domain.Reason]int
	Failed   int
}

// processBatch submits each message in order. Server-side failures are
// retried; rejections are final and only logged.
func (c *Consumer) processBatch(ctx context.Context, batch []domain.ScoreSubmission) BatchStats {
	stats := BatchStats{Rejected: make(map[domain.Reason]int)}

	for _, sub := range batch {
		err := c.submitWithRetry(ctx, sub)
		if err == nil {
			stats.Accepted++
			continue
		}
		if reason, ok := domain.RejectionReason(err); ok && !reason.Retryable() {
			stats.Rejected[reason]++
			continue
		}
		stats.Failed++
		c.logger.Error("failed to submit score from kafka",
			"player_address", sub.PlayerAddress,
			"error", err,
		)
	}
	return stats
}

func (c *Consumer) submitWithRetry(ctx context.Context, sub domain.ScoreSubmission) error {
	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		_, err = c.handler.SubmitScore(ctx, sub)
		if err == nil {
			return nil
		}
		if reason, ok := domain.RejectionReason(err); ok && !reason.Retryable() {
			return err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(c.config.RetryDelay):
		}
	}
	return err
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	logger := h.consumer.logger
	batch := make([]domain.ScoreSubmission, 0, cfg.BatchSize)
	pending := make([]*sarama.ConsumerMessage, 0, cfg.BatchSize)
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	// Offsets are marked only after the batch went through the pipeline
	flush := func() {
		if len(batch) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
		defer cancel()

		stats := h.consumer.processBatch(ctx, batch)
		logger.Info("processed score batch",
			"batch_size", len(batch),
			"accepted", stats.Accepted,
			"rejected", stats.Rejected,
			"failed", stats.Failed,
		)
		for _, msg := range pending {
			session.MarkMessage(msg, "")
		}

		batch = batch[:0]
		pending = pending[:0]
	}

	for {
		select {
		case <-session.Context().Done():
			// Process remaining batch before exit
			flush()
			return nil

		case <-batchTimer.C:
			flush()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}

			submission, err := domain.ParseSubmission(message.Value)
			if err != nil {
				logger.Warn("failed to decode score message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			batch = append(batch, submission)
			pending = append(pending, message)

			if len(batch) >= cfg.BatchSize {
				flush()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}
