package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Writer defines the subset of kafka.Writer used by KafkaSink.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes events as JSON, keyed by bot id so one bot's events stay ordered
// within a partition.
type KafkaSink struct {
	writer Writer
	topic  string
	now    func() time.Time
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return NewKafkaSinkWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}, topic)
}

func NewKafkaSinkWithWriter(w Writer, topic string) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic, now: time.Now}
}

func (k *KafkaSink) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.BotID),
		Value: value,
		Time:  k.now(),
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message to %s: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

// EnsureTopic creates topic through the cluster controller. An existing topic is not an error.
func EnsureTopic(broker, topic string, partitions, replication int) error {
	if topic == "" {
		return errors.New("topic name is required")
	}
	if broker == "" {
		return errors.New("broker address is required")
	}
	if partitions <= 0 {
		partitions = 1
	}
	if replication <= 0 {
		replication = 1
	}

	conn, err := kafka.Dial("tcp", broker)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("controller lookup: %w", err)
	}
	ctrlConn, err := kafka.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("connect controller: %w", err)
	}
	defer ctrlConn.Close()

	err = ctrlConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: replication,
	})
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("create topic: %w", err)
	}
	return nil
}

func isAlreadyExists(err error) bool {
	if errors.Is(err, kafka.TopicAlreadyExists) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
