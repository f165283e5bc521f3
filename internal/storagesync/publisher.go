// Package storagesync propagates recipient changes to the encrypted
// server-held storage copy. Changes are debounced per process and published
// to a Kafka topic that the sync pipeline consumes.
package storagesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"rolodex/pkg/domain"
)

const Topic = "rolodex.storage-sync"

// Publisher emits sync triggers for recipients whose records changed.
type Publisher interface {
	Publish(ctx context.Context, ids []domain.RecipientID) error
	Close()
}

type event struct {
	RecipientIDs []int64   `json:"recipient_ids"`
	EmittedAt    time.Time `json:"emitted_at"`
}

// KafkaPublisher produces sync events with franz-go.
type KafkaPublisher struct {
	client *kgo.Client
}

func NewKafkaPublisher(brokers []string) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(Topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client}, nil
}

// EnsureTopic creates the sync topic if the cluster does not have it yet.
func (p *KafkaPublisher) EnsureTopic(ctx context.Context, partitions int32) error {
	adm := kadm.NewClient(p.client)
	// Already existing is fine for an idempotent ensure.
	if _, err := adm.CreateTopic(ctx, partitions, 1, nil, Topic); err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", Topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, ids []domain.RecipientID) error {
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}
	payload, err := json.Marshal(event{RecipientIDs: raw, EmittedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal sync event: %w", err)
	}

	key := []byte(strconv.FormatInt(raw[0], 10))
	record := &kgo.Record{Key: key, Value: payload}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce sync event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}
