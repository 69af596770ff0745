package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/kiranshivaraju/tracerelay/internal/config"
)

const pingDialTimeout = 3 * time.Second

// Pinger checks that the Kafka cluster answers a metadata request.
type Pinger struct {
	brokers []string
	cfg     *sarama.Config
}

func NewPinger(cfg config.KafkaConfig) *Pinger {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Net.DialTimeout = pingDialTimeout
	sc.Metadata.Retry.Max = 0
	sc.Metadata.Full = false
	return &Pinger{brokers: cfg.Brokers, cfg: sc}
}

func (p *Pinger) Ping(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		client, err := sarama.NewClient(p.brokers, p.cfg)
		if err != nil {
			errCh <- err
			return
		}
		defer client.Close()
		if len(client.Brokers()) == 0 {
			errCh <- sarama.ErrOutOfBrokers
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ping kafka: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ping kafka: %w", ctx.Err())
	}
}
