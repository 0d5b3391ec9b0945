package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"

	pkglog "github.com/weiawesome/wes-io-live/call-service/pkg/log"
)

// channelToTopicAndKey converts a channel name to a Kafka topic and message key.
//
//	"notify:user:U1:to_gateway" → topic: "notify-to-gateway", key: "U1"
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	prefix, _, id, target, err := ParseChannel(channel)
	if err != nil {
		return "", "", err
	}
	return topicName(prefix, target), id, nil
}

// patternToTopic converts a subscribe pattern to the topic it covers.
//
//	"notify:user:*:to_gateway" → "notify-to-gateway"
func patternToTopic(pattern string) (string, error) {
	topic, _, err := channelToTopicAndKey(pattern)
	return topic, err
}

func topicName(prefix, target string) string {
	return prefix + "-to-" + sanitize(target)
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitize makes s usable inside topic and consumer group names.
func sanitize(s string) string {
	return unsafeNameChars.ReplaceAllString(s, "-")
}

type kafkaSubscription struct {
	consumer *kafka.Consumer
	cancel   context.CancelFunc
}

func (s *kafkaSubscription) stop() error {
	s.cancel()
	return s.consumer.Close()
}

// KafkaPubSub implements PubSub on Apache Kafka. Channels map onto one topic
// per prefix/target pair keyed by the channel id.
type KafkaPubSub struct {
	cfg      KafkaConfig
	producer *kafka.Producer
	reported chan struct{}

	mu   sync.Mutex
	subs map[string]*kafkaSubscription
}

// NewKafkaPubSub connects a producer and creates the configured topics.
// Subscriptions each get their own consumer.
func NewKafkaPubSub(cfg KafkaConfig) (*KafkaPubSub, error) {
	if cfg.GroupID == "" {
		cfg.GroupID = "call-notify-" + uuid.NewString()
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 4
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	k := &KafkaPubSub{
		cfg:      cfg,
		producer: producer,
		reported: make(chan struct{}),
		subs:     make(map[string]*kafkaSubscription),
	}
	go k.watchDeliveries()

	if err := k.createTopics(); err != nil {
		l := pkglog.L()
		l.Warn().Err(err).Strs("topics", cfg.Topics).Msg("could not create notification topics")
	}
	return k, nil
}

func (k *KafkaPubSub) createTopics() error {
	if len(k.cfg.Topics) == 0 {
		return nil
	}

	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	specs := make([]kafka.TopicSpecification, len(k.cfg.Topics))
	for i, topic := range k.cfg.Topics {
		specs[i] = kafka.TopicSpecification{Topic: topic, NumPartitions: k.cfg.Partitions, ReplicationFactor: 1}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	results, err := admin.CreateTopics(ctx, specs)
	if err != nil {
		return err
	}

	l := pkglog.L()
	for _, r := range results {
		switch r.Error.Code() {
		case kafka.ErrNoError, kafka.ErrTopicAlreadyExists:
		default:
			l.Warn().Str("topic", r.Topic).Str("error", r.Error.String()).Msg("topic creation failed")
		}
	}
	return nil
}

func (k *KafkaPubSub) watchDeliveries() {
	defer close(k.reported)
	l := pkglog.L()
	for e := range k.producer.Events() {
		m, ok := e.(*kafka.Message)
		if ok && m.TopicPartition.Error != nil {
			l.Error().Err(m.TopicPartition.Error).Str("key", string(m.Key)).Msg("notification delivery failed")
		}
	}
}

// Publish writes event to the channel's topic keyed by the channel id, so one
// user's notifications stay on one partition.
func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	topic, key, err := channelToTopicAndKey(channel)
	if err != nil {
		return err
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
	}
	if err := k.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", topic, err)
	}
	return nil
}

// Subscribe consumes the channel's topic and keeps only messages keyed by
// the channel id.
func (k *KafkaPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	topic, key, err := channelToTopicAndKey(channel)
	if err != nil {
		return nil, err
	}
	return k.consume(ctx, channel, topic, key)
}

// SubscribePattern consumes everything on the topic the pattern maps to.
func (k *KafkaPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	topic, err := patternToTopic(pattern)
	if err != nil {
		return nil, err
	}
	return k.consume(ctx, pattern, topic, "")
}

func (k *KafkaPubSub) consume(ctx context.Context, name, topic, key string) (<-chan *Event, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if prev, ok := k.subs[name]; ok {
		prev.stop()
		delete(k.subs, name)
	}

	// A keyed subscription gets its own group so it does not share partitions
	// with other consumers of the topic in this process.
	group := k.cfg.GroupID
	if key != "" {
		group += "-" + sanitize(name)
	}

	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       k.cfg.Brokers,
		"group.id":                group,
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := consumer.Subscribe(topic, nil); err != nil {
		consumer.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	k.subs[name] = &kafkaSubscription{consumer: consumer, cancel: cancel}

	out := make(chan *Event, 100)
	go k.poll(subCtx, consumer, key, out)
	return out, nil
}

func (k *KafkaPubSub) poll(ctx context.Context, consumer *kafka.Consumer, key string, out chan<- *Event) {
	defer close(out)
	l := pkglog.L()

	for ctx.Err() == nil {
		switch e := consumer.Poll(500).(type) {
		case *kafka.Message:
			if key != "" && string(e.Key) != key {
				continue
			}
			event := new(Event)
			if err := json.Unmarshal(e.Value, event); err != nil {
				l.Warn().Err(err).Msg("dropping undecodable event")
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			default:
				l.Warn().Str("target", event.Target).Msg("subscriber is full, dropping event")
			}
		case kafka.Error:
			l.Error().Err(e).Bool("fatal", e.IsFatal()).Msg("kafka consumer error")
			if e.IsFatal() {
				return
			}
		}
	}
}

func (k *KafkaPubSub) Unsubscribe(ctx context.Context, channel string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	sub, ok := k.subs[channel]
	if !ok {
		return nil
	}
	delete(k.subs, channel)
	if err := sub.stop(); err != nil {
		return fmt.Errorf("failed to close consumer: %w", err)
	}
	return nil
}

// Close stops every consumer, then flushes and closes the producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	for name, sub := range k.subs {
		sub.stop()
		delete(k.subs, name)
	}
	k.mu.Unlock()

	k.producer.Flush(5000)
	k.producer.Close()
	<-k.reported
	return nil
}
