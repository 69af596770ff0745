package broker

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/kiranshivaraju/tracerelay/internal/ids"
	"github.com/kiranshivaraju/tracerelay/internal/jsoncodec"
	"github.com/kiranshivaraju/tracerelay/pkg/models"
)

// EnvelopePublisher serializes envelopes and hands them to the broker.
type EnvelopePublisher struct {
	pub message.Publisher
}

// NewEnvelopePublisher creates a new EnvelopePublisher.
func NewEnvelopePublisher(pub message.Publisher) *EnvelopePublisher {
	return &EnvelopePublisher{pub: pub}
}

// Publish sends env to topic keyed by project so one project's records stay ordered.
// It returns once the broker has accepted the record; it never waits on consumers.
func (p *EnvelopePublisher) Publish(ctx context.Context, topic string, env models.Envelope) error {
	payload, err := jsoncodec.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	msg := message.NewMessage(ids.NewMessageID(), payload)
	msg.Metadata.Set(PartitionKeyMetadata, env.ProjectID.String())
	middleware.SetCorrelationID(msg.UUID, msg)
	msg.SetContext(ctx)

	if err := p.pub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (p *EnvelopePublisher) Close() error {
	return p.pub.Close()
}
