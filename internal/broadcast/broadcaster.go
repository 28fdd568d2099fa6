// Package broadcast implements the transaction submission service: it builds
// and signs a transaction from a prepared config, records it as pending, and
// publishes it to the submission topic.
package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/dmorse17/txflow/internal/form"
	"github.com/dmorse17/txflow/internal/transaction"
	"github.com/dmorse17/txflow/internal/wallet"
	"github.com/dmorse17/txflow/pkg/logging"
)

// Store persists transactions before broadcast.
type Store interface {
	StoreTransaction(ctx context.Context, tx *transaction.Transaction) error
}

// Broadcaster implements form.Submitter on top of a Kafka producer.
type Broadcaster struct {
	producer *kafka.Producer
	store    Store
	wallet   *wallet.Wallet
	topic    string
	logger   *logging.Logger
}

var _ form.Submitter = (*Broadcaster)(nil)

// NewBroadcaster creates a new broadcaster publishing to the given topic.
func NewBroadcaster(brokers string, store Store, w *wallet.Wallet, topic string, logger *logging.Logger) (*Broadcaster, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &Broadcaster{
		producer: producer,
		store:    store,
		wallet:   w,
		topic:    topic,
		logger:   logger,
	}, nil
}

// Submit builds, signs, persists and publishes a transaction from the
// prepared config, returning its receipt.
func (b *Broadcaster) Submit(ctx context.Context, cfg *form.PreparedConfig) (*form.Receipt, error) {
	tx, err := transaction.New(b.wallet.Address, cfg.Recipient, cfg.Amount, cfg.Fee,
		cfg.GasPrice, cfg.GasLimit, cfg.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	signData, err := tx.SignableData()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signable data: %w", err)
	}
	tx.Signature, err = b.wallet.SignMessage(signData)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	// Persist first so a confirmation arriving quickly finds the record
	if err := b.store.StoreTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to store transaction: %w", err)
	}

	txJSON, err := tx.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	err = b.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &b.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(tx.ID),
		Value: txJSON,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to publish transaction: %w", err)
	}

	b.logger.Info("Transaction broadcast",
		"tx_id", tx.ID, "hash", tx.Hash, "recipient", tx.Recipient, "amount", tx.Amount)

	return &form.Receipt{
		TxID:        tx.ID,
		Hash:        tx.Hash,
		SubmittedAt: time.Unix(tx.Timestamp, 0),
	}, nil
}

// Close flushes outstanding messages and closes the producer.
func (b *Broadcaster) Close() {
	b.producer.Flush(15 * 1000)
	b.producer.Close()
}
