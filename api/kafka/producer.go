package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"

	"mriscale/jobs"
)

// Dispatcher publishes dispatch messages. It is a pure publish primitive:
// status checks belong to the caller, and a failed publish leaves the job
// untouched so the caller can retry.
type Dispatcher interface {
	Dispatch(ctx context.Context, queue string, msg *jobs.DispatchMessage) error
	Close() error
}

type producer struct {
	producer sarama.SyncProducer
}

func NewDispatcher(brokers []string) (Dispatcher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return &producer{producer: p}, nil
}

func (p *producer) Dispatch(ctx context.Context, queue string, msg *jobs.DispatchMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return &jobs.DispatchError{Queue: queue, Err: err}
	}

	// The message key is the job id: Kafka partitions on it, so two
	// deliveries of the same job land on the same consumer and the second
	// one finds the job already claimed.
	kafkaMsg := &sarama.ProducerMessage{
		Topic: queue,
		Key:   sarama.StringEncoder(msg.JobID),
		Value: sarama.ByteEncoder(data),
	}

	if _, _, err := p.producer.SendMessage(kafkaMsg); err != nil {
		return &jobs.DispatchError{Queue: queue, Err: err}
	}
	return nil
}

func (p *producer) Close() error {
	return p.producer.Close()
}
