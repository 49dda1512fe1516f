package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"mriscale/jobs"
)

type MessageHandler func(ctx context.Context, msg *jobs.DispatchMessage) error

type Consumer struct {
	consumer sarama.ConsumerGroup
	logger   *zap.Logger
}

func NewConsumer(brokers []string, groupID string, logger *zap.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	c, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}

	return &Consumer{consumer: c, logger: logger}, nil
}

type consumerHandler struct {
	fn     MessageHandler
	ctx    context.Context
	logger *zap.Logger
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var dispatch jobs.DispatchMessage
		if err := json.Unmarshal(msg.Value, &dispatch); err != nil {
			h.logger.Warn("dropping malformed dispatch message",
				zap.String("topic", msg.Topic),
				zap.Error(err),
			)
			session.MarkMessage(msg, "")
			continue
		}

		if err := h.fn(h.ctx, &dispatch); err != nil {
			// Leave the offset unmarked so the message is redelivered;
			// the claim guard makes redelivery safe.
			h.logger.Error("dispatch handling failed",
				zap.String("job_id", dispatch.JobID),
				zap.Error(err),
			)
			continue
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// Consume joins the consumer group for the given queues and handles
// messages until the context is cancelled.
func (c *Consumer) Consume(ctx context.Context, queues []string, handler MessageHandler) error {
	h := &consumerHandler{fn: handler, ctx: ctx, logger: c.logger}
	for {
		if err := c.consumer.Consume(ctx, queues, h); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	return c.consumer.Close()
}
