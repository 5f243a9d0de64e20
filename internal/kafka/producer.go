package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers      []string
	BatchTimeout time.Duration // default 10ms
	WriteTimeout time.Duration // default 5s
	RequiredAcks int           // default -1 (all replicas)
}

// Producer is a thin wrapper around segmentio/kafka-go Writer. It is the
// outbox publisher's transport: a returned error is a nack.
type Producer struct {
	w *kafka.Writer
}

func NewProducerFromConfig(c Config) *Producer {
	bt := c.BatchTimeout
	if bt <= 0 {
		bt = 10 * time.Millisecond
	}
	wt := c.WriteTimeout
	if wt <= 0 {
		wt = 5 * time.Second
	}
	acks := kafka.RequiredAcks(c.RequiredAcks)
	if c.RequiredAcks == 0 {
		acks = kafka.RequireAll
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Balancer:     &kafka.Hash{}, // key = aggregate id, keeps per-aggregate order
		BatchTimeout: bt,
		WriteTimeout: wt,
		RequiredAcks: acks,
	}

	return &Producer{w: w}
}

// Publish writes one envelope to the destination topic, keyed by
// aggregate id so one aggregate's events stay on one partition.
func (p *Producer) Publish(ctx context.Context, destination, key string, payload []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic: destination,
		Key:   []byte(key),
		Value: payload,
	})
}

func (p *Producer) Close() error { return p.w.Close() }
