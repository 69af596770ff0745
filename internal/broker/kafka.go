// Package broker connects tracerelay to Kafka through watermill.
package broker

import (
	"fmt"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/kiranshivaraju/tracerelay/internal/config"
)

// PartitionKeyMetadata names the metadata entry used as the Kafka record key. Records
// sharing a key land on one partition and are consumed in publish order.
const PartitionKeyMetadata = "partition_key"

// Marshaler keys every record by its partition_key metadata. Records without one fall
// back to Kafka's default partitioner.
var Marshaler = kafka.NewWithPartitioningMarshaler(func(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(PartitionKeyMetadata), nil
})

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

// NewKafkaPublisher returns a synchronous producer: Publish returns once the leader acks.
func NewKafkaPublisher(cfg config.KafkaConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	pub, err := PublisherFactory(PublisherConfigFor(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}
	return pub, nil
}

// NewKafkaSubscriber joins the configured consumer group. A group with no committed
// offset starts from the oldest record.
func NewKafkaSubscriber(cfg config.KafkaConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	sub, err := SubscriberFactory(SubscriberConfigFor(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("create kafka subscriber: %w", err)
	}
	return sub, nil
}

func PublisherConfigFor(cfg config.KafkaConfig) kafka.PublisherConfig {
	saramaCfg := kafka.DefaultSaramaSyncPublisherConfig()
	saramaCfg.ClientID = cfg.ClientID
	saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal

	return kafka.PublisherConfig{
		Brokers:               cfg.Brokers,
		Marshaler:             Marshaler,
		OverwriteSaramaConfig: saramaCfg,
	}
}

func SubscriberConfigFor(cfg config.KafkaConfig) kafka.SubscriberConfig {
	saramaCfg := kafka.DefaultSaramaSubscriberConfig()
	saramaCfg.ClientID = cfg.ClientID
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	return kafka.SubscriberConfig{
		Brokers:               cfg.Brokers,
		Unmarshaler:           Marshaler,
		OverwriteSaramaConfig: saramaCfg,
		ConsumerGroup:         cfg.ConsumerGroup,
		NackResendSleep:       cfg.NackResendSleep,
	}
}
