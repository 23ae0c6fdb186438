package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"
)

const flushTimeoutMs = 5000

// KafkaPublisher produces JSON events keyed by partition.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	logger   *logrus.Logger
}

// NewKafkaPublisher creates a producer and starts its delivery report loop.
func NewKafkaPublisher(broker, topic string, logger *logrus.Logger) (*KafkaPublisher, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": broker,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	p := &KafkaPublisher{producer: producer, topic: topic, logger: logger}
	go p.deliveryReport()
	logger.WithField("topic", topic).Info("Kafka Producer initialized successfully")
	return p, nil
}

// Check Events channel of kafka. Failed deliveries are only logged.
func (p *KafkaPublisher) deliveryReport() {
	for e := range p.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				p.logger.Errorf("Message delivery failed: %v", ev.TopicPartition.Error)
			}
		}
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Value:          value,
		Timestamp:      e.Time,
	}
	if e.Partition != "" {
		msg.Key = []byte(e.Partition)
	}
	return p.producer.Produce(msg, nil)
}

func (p *KafkaPublisher) Close() {
	if left := p.producer.Flush(flushTimeoutMs); left > 0 {
		p.logger.Warnf("%d Kafka messages were not delivered before close", left)
	}
	p.producer.Close()
	p.logger.Info("Kafka Producer closed")
}

// KafkaConsumer reads candidate events, typically to feed a Hub in an API
// process that does not run the scheduler itself.
type KafkaConsumer struct {
	consumer *kafka.Consumer
	logger   *logrus.Logger
}

func NewKafkaConsumer(broker, groupID, topic string, logger *logrus.Logger) (*KafkaConsumer, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": broker,
		"group.id":          groupID,
		"auto.offset.reset": "latest",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	if err := c.SubscribeTopics([]string{topic}, nil); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return &KafkaConsumer{consumer: c, logger: logger}, nil
}

// Run hands every decoded event to handle until ctx is done.
func (c *KafkaConsumer) Run(ctx context.Context, handle func(Event)) error {
	defer func() {
		if err := c.consumer.Close(); err != nil {
			c.logger.Errorf("Error closing Kafka consumer: %v", err)
		}
	}()

	for ctx.Err() == nil {
		msg, err := c.consumer.ReadMessage(200 * time.Millisecond)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			c.logger.Errorf("Error reading message: %v", err)
			continue
		}

		var e Event
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			c.logger.WithField("offset", msg.TopicPartition.Offset).Errorf("Error decoding event: %v", err)
			continue
		}
		handle(e)
	}
	return nil
}
