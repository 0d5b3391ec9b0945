package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	pkglog "github.com/weiawesome/wes-io-live/call-service/pkg/log"
)

// ConfluentProducer writes activity events to a single topic. Produce only
// enqueues; delivery failures are logged from the events loop.
type ConfluentProducer struct {
	topic    string
	producer *kafka.Producer
	reported chan struct{}
}

// NewConfluentProducer connects to brokers and creates topic with the given
// partition count if it is missing.
func NewConfluentProducer(brokers, topic string, partitions int) (*ConfluentProducer, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	if err := createTopic(producer, topic, partitions); err != nil {
		l := pkglog.L()
		l.Warn().Err(err).Str("topic", topic).Msg("could not create activity topic")
	}

	cp := &ConfluentProducer{
		topic:    topic,
		producer: producer,
		reported: make(chan struct{}),
	}
	go cp.watchDeliveries()
	return cp, nil
}

func createTopic(producer *kafka.Producer, topic string, partitions int) error {
	admin, err := kafka.NewAdminClientFromProducer(producer)
	if err != nil {
		return err
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             topic,
		NumPartitions:     max(partitions, 1),
		ReplicationFactor: 1,
	}})
	if err != nil {
		return err
	}
	for _, r := range results {
		if code := r.Error.Code(); code != kafka.ErrNoError && code != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("topic %s: %v", r.Topic, r.Error)
		}
	}
	return nil
}

func (cp *ConfluentProducer) watchDeliveries() {
	defer close(cp.reported)
	l := pkglog.L()
	for e := range cp.producer.Events() {
		m, ok := e.(*kafka.Message)
		if ok && m.TopicPartition.Error != nil {
			l.Error().Err(m.TopicPartition.Error).Str("key", string(m.Key)).Msg("activity event delivery failed")
		}
	}
}

func (cp *ConfluentProducer) send(event ActivityEvent) error {
	event.Timestamp = time.Now().Unix()
	value, err := json.Marshal(&event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}

	return cp.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &cp.topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.Key()),
		Value:          value,
	}, nil)
}

func (cp *ConfluentProducer) ProduceCallJoined(ctx context.Context, roomID, userID string) error {
	return cp.send(ActivityEvent{Type: EventCallJoined, RoomID: roomID, UserID: userID})
}

func (cp *ConfluentProducer) ProduceCallLeft(ctx context.Context, roomID, userID, reason string) error {
	return cp.send(ActivityEvent{Type: EventCallLeft, RoomID: roomID, UserID: userID, Reason: reason})
}

func (cp *ConfluentProducer) ProduceMessageSent(ctx context.Context, conversationID, senderID, receiverID string) error {
	return cp.send(ActivityEvent{
		Type:           EventMessageSent,
		ConversationID: conversationID,
		UserID:         senderID,
		PeerID:         receiverID,
	})
}

// Close waits up to five seconds for queued events before closing.
func (cp *ConfluentProducer) Close() error {
	if remaining := cp.producer.Flush(5000); remaining > 0 {
		l := pkglog.L()
		l.Warn().Int("remaining", remaining).Msg("activity events left unflushed")
	}
	cp.producer.Close()
	<-cp.reported
	return nil
}
