package pushbus

import (
	"context"
	"fmt"
	"log/slog"

	sarama "github.com/IBM/sarama"

	"github.com/mirkobrombin/go-ipcbridge/v1/logging"
	"github.com/mirkobrombin/go-ipcbridge/v1/transport"
)

// Kafka implements Bus on partition 0 of a Kafka topic.
type Kafka struct {
	producer sarama.SyncProducer
	consumer sarama.Consumer
	client   sarama.Client
	topic    string
	log      *slog.Logger
}

// NewKafka connects to brokers and returns a Kafka bus on topic.
func NewKafka(brokers []string, topic string, cfg *sarama.Config, log *slog.Logger) (*Kafka, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, err
	}
	k := NewKafkaFrom(producer, consumer, topic, log)
	k.client = client
	return k, nil
}

// NewKafkaFrom builds a Kafka bus on an existing producer and consumer.
func NewKafkaFrom(producer sarama.SyncProducer, consumer sarama.Consumer, topic string, log *slog.Logger) *Kafka {
	if log == nil {
		log = logging.Discard()
	}
	return &Kafka{producer: producer, consumer: consumer, topic: topic, log: log}
}

// Publish implements Bus.Publish.
func (b *Kafka) Publish(ctx context.Context, env transport.Envelope) error {
	data, err := encode(env)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{Topic: b.topic, Value: sarama.ByteEncoder(data)}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", b.topic, err)
	}
	return nil
}

// Subscribe implements Bus.Subscribe, starting from the newest offset.
func (b *Kafka) Subscribe(ctx context.Context) (<-chan transport.Envelope, error) {
	pc, err := b.consumer.ConsumePartition(b.topic, 0, sarama.OffsetNewest)
	if err != nil {
		return nil, fmt.Errorf("kafka consume %s: %w", b.topic, err)
	}

	out := make(chan transport.Envelope, subscriberBuffer)
	go func() {
		defer close(out)
		defer func() { _ = pc.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pc.Messages():
				if !ok {
					return
				}
				env, err := decode(msg.Value)
				if err != nil {
					b.log.Warn("pushbus: dropping malformed kafka message", "offset", msg.Offset, "err", err)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close implements Bus.Close.
func (b *Kafka) Close() error {
	perr := b.producer.Close()
	cerr := b.consumer.Close()
	if b.client != nil {
		_ = b.client.Close()
	}
	if perr != nil {
		return perr
	}
	return cerr
}
