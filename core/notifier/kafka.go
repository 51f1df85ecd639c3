// Package notifier publishes entity change notifications to Kafka
package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/schemabase/core"
	"github.com/relabs-tech/schemabase/core/logger"
)

// KafkaConfiguration holds the configuration for the Kafka notifier
type KafkaConfiguration struct {
	// Brokers is a comma separated list of broker addresses
	Brokers string `env:"KAFKA_BROKERS,optional" description:"the connection string for the Kafka brokers"`
	Topic   string `env:"KAFKA_TOPIC,default=schemabase-changes"`
}

// messageWriter is the part of kafka.Writer the notifier uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Message is the value of a published notification
type Message struct {
	Entity    string          `json:"entity"`
	Operation core.Action     `json:"operation"`
	Item      json.RawMessage `json:"item"`
}

// Kafka is a core.Notifier which publishes one message per change, keyed by
// the record identity, so that all changes of a record land in the same
// partition in order.
type Kafka struct {
	writer messageWriter
}

// NewKafka returns a new Kafka notifier for the configured brokers and topic
func NewKafka(config KafkaConfiguration) (*Kafka, error) {
	var brokers []string
	for _, broker := range strings.Split(config.Brokers, ",") {
		if broker = strings.TrimSpace(broker); len(broker) > 0 {
			brokers = append(brokers, broker)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers configured")
	}
	if len(config.Topic) == 0 {
		return nil, fmt.Errorf("no Kafka topic configured")
	}
	logger.Default().Debugf("Kafka notifications to topic %s on %s", config.Topic, config.Brokers)
	return &Kafka{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}, nil
}

// Notify implements core.Notifier
func (k *Kafka) Notify(ctx context.Context, entity string, action core.Action, id string, payload []byte) error {
	value, err := json.Marshal(&Message{Entity: entity, Operation: action, Item: payload})
	if err != nil {
		return fmt.Errorf("cannot marshal notification: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(id),
		Value: value,
		Headers: []kafka.Header{
			{Key: "entity", Value: []byte(entity)},
			{Key: "operation", Value: []byte(action)},
		},
	})
	if err != nil {
		return fmt.Errorf("cannot publish %s of %s %s: %w", action, entity, id, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection
func (k *Kafka) Close() error {
	return k.writer.Close()
}
