// internal/storage/redis_store.go
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dmorse17/txflow/internal/transaction"
	"github.com/dmorse17/txflow/pkg/errors"
)

const (
	// Transaction key prefix for storing transaction data
	txKeyPrefix = "tx:"

	// Sorted-set key prefix for per-address transaction history
	historyKeyPrefix = "addr:"

	// Key for the cached network gas price snapshot
	gasPriceKey = "network:gas_price"

	// How long a gas price snapshot stays valid
	gasPriceTTL = 30 * time.Second
)

// RedisTxStore handles the storage and retrieval of transactions using Redis
type RedisTxStore struct {
	Client *redis.Client
}

// NewRedisTxStore creates a new Redis-backed transaction store
func NewRedisTxStore(addr, password string, db int) (*RedisTxStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, errors.NewStorageError(errors.StorageErrConnection,
			"failed to connect to Redis", err)
	}

	return &RedisTxStore{Client: client}, nil
}

// Close closes the Redis connection
func (s *RedisTxStore) Close() error {
	return s.Client.Close()
}

// Ping verifies the Redis connection
func (s *RedisTxStore) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx).Err()
}

// StoreTransaction stores a transaction by ID and indexes it in the
// sender's and recipient's history
func (s *RedisTxStore) StoreTransaction(ctx context.Context, tx *transaction.Transaction) error {
	txJSON, err := tx.ToJSON()
	if err != nil {
		return errors.NewStorageError(errors.StorageErrSerialization,
			"failed to serialize transaction", err)
	}

	if err := s.Client.Set(ctx, txKeyPrefix+tx.ID, txJSON, 0).Err(); err != nil {
		return errors.StorageWrap(err, errors.OpStoreTransaction, "failed to store transaction")
	}

	err = s.Client.ZAdd(ctx, historyKeyPrefix+tx.Sender+":txs", &redis.Z{
		Score:  float64(tx.Timestamp),
		Member: tx.ID,
	}).Err()
	if err != nil {
		return errors.StorageWrap(err, errors.OpStoreTransaction, "failed to index sender history")
	}

	if tx.Sender != tx.Recipient {
		err = s.Client.ZAdd(ctx, historyKeyPrefix+tx.Recipient+":txs", &redis.Z{
			Score:  float64(tx.Timestamp),
			Member: tx.ID,
		}).Err()
		if err != nil {
			return errors.StorageWrap(err, errors.OpStoreTransaction, "failed to index recipient history")
		}
	}

	return nil
}

// GetTransaction retrieves a transaction by ID
func (s *RedisTxStore) GetTransaction(ctx context.Context, txID string) (*transaction.Transaction, error) {
	txJSON, err := s.Client.Get(ctx, txKeyPrefix+txID).Result()
	if err == redis.Nil {
		return nil, errors.NewStorageError(errors.StorageErrNotFound,
			fmt.Sprintf("transaction not found: %s", txID), nil)
	}
	if err != nil {
		return nil, errors.StorageWrap(err, errors.OpFetchTransaction, "failed to fetch transaction")
	}

	tx, err := transaction.FromJSON([]byte(txJSON))
	if err != nil {
		return nil, errors.NewStorageError(errors.StorageErrSerialization,
			"failed to deserialize transaction", err)
	}
	return tx, nil
}

// UpdateStatus updates a stored transaction's confirmation status.
// The failure reason is only recorded for failed transactions.
func (s *RedisTxStore) UpdateStatus(ctx context.Context, txID string, status transaction.Status, reason string) error {
	tx, err := s.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}

	tx.Status = status
	if status == transaction.Failed {
		tx.FailureReason = reason
	}

	txJSON, err := tx.ToJSON()
	if err != nil {
		return errors.NewStorageError(errors.StorageErrSerialization,
			"failed to serialize transaction", err)
	}

	if err := s.Client.Set(ctx, txKeyPrefix+txID, txJSON, 0).Err(); err != nil {
		return errors.StorageWrap(err, errors.OpUpdateStatus, "failed to update transaction status")
	}
	return nil
}

// GetAddressTransactions retrieves an address's transaction history,
// most recent first
func (s *RedisTxStore) GetAddressTransactions(ctx context.Context, address string, limit, offset int64) ([]*transaction.Transaction, error) {
	txIDs, err := s.Client.ZRevRange(ctx, historyKeyPrefix+address+":txs", offset, offset+limit-1).Result()
	if err != nil {
		return nil, errors.StorageWrap(err, errors.OpHistory, "failed to read address history")
	}

	transactions := make([]*transaction.Transaction, 0, len(txIDs))
	for _, txID := range txIDs {
		tx, err := s.GetTransaction(ctx, txID)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, nil
}

// SetGasPrice caches the current network gas price snapshot
func (s *RedisTxStore) SetGasPrice(ctx context.Context, gwei float64) error {
	if err := s.Client.Set(ctx, gasPriceKey, gwei, gasPriceTTL).Err(); err != nil {
		return errors.StorageWrap(err, errors.OpGasPriceSnapshot, "failed to cache gas price")
	}
	return nil
}

// GetGasPrice returns the cached network gas price snapshot.
// A missing snapshot surfaces redis.Nil through the wrapped error.
func (s *RedisTxStore) GetGasPrice(ctx context.Context) (float64, error) {
	val, err := s.Client.Get(ctx, gasPriceKey).Float64()
	if err != nil {
		return 0, errors.StorageWrap(err, errors.OpGasPriceSnapshot, "gas price snapshot unavailable")
	}
	return val, nil
}
