// internal/transaction/transaction.go
package transaction

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

// Status defines the confirmation status of a transaction
type Status string

const (
	// Pending transactions have been broadcast and await confirmation
	Pending Status = "PENDING"
	// Confirmed transactions were acknowledged by the network
	Confirmed Status = "CONFIRMED"
	// Failed transactions were rejected or dropped
	Failed Status = "FAILED"
)

// Transaction represents a transfer of ether between addresses
type Transaction struct {
	ID            string  `json:"id"`
	Sender        string  `json:"sender"`
	Recipient     string  `json:"recipient"`
	Amount        float64 `json:"amount"`
	Fee           float64 `json:"fee"`
	GasPrice      float64 `json:"gas_price"`
	GasLimit      uint64  `json:"gas_limit"`
	Nonce         string  `json:"nonce"`
	Status        Status  `json:"status"`
	Signature     []byte  `json:"signature"`
	Timestamp     int64   `json:"timestamp"`
	FailureReason string  `json:"failure_reason,omitempty"`
	Hash          string  `json:"hash"`
}

// New creates a new pending transaction without signature
func New(sender, recipient string, amount, fee, gasPrice float64, gasLimit uint64, nonce string) (*Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	if sender == recipient {
		return nil, fmt.Errorf("sender and recipient cannot be the same")
	}

	tx := &Transaction{
		ID:        uuid.New().String(),
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Fee:       fee,
		GasPrice:  gasPrice,
		GasLimit:  gasLimit,
		Nonce:     nonce,
		Status:    Pending,
		Timestamp: time.Now().Unix(),
	}

	hash, err := tx.CalculateHash()
	if err != nil {
		return nil, err
	}
	tx.Hash = hash

	return tx, nil
}

// SignableData returns the data that should be signed
func (tx *Transaction) SignableData() ([]byte, error) {
	signData := fmt.Sprintf("%s|%s|%s|%.18f|%.18f|%s|%d",
		tx.ID, tx.Sender, tx.Recipient, tx.Amount, tx.Fee, tx.Nonce, tx.Timestamp)
	return []byte(signData), nil
}

// CalculateHash calculates the Keccak-256 hash of the transaction.
// The signature, status, failure reason and the hash itself are excluded
// so the hash stays stable across confirmation transitions.
func (tx *Transaction) CalculateHash() (string, error) {
	txCopy := *tx
	txCopy.Signature = nil
	txCopy.Hash = ""
	txCopy.Status = ""
	txCopy.FailureReason = ""

	txJSON, err := json.Marshal(txCopy)
	if err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}

	h := sha3.NewLegacyKeccak256()
	h.Write(txJSON)
	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}

// Validate checks if the transaction is valid
func (tx *Transaction) Validate() error {
	if tx.Amount <= 0 {
		return fmt.Errorf("transaction amount must be positive")
	}

	if tx.Sender == tx.Recipient {
		return fmt.Errorf("sender and recipient cannot be the same")
	}

	calculatedHash, err := tx.CalculateHash()
	if err != nil {
		return err
	}

	if calculatedHash != tx.Hash {
		return fmt.Errorf("transaction hash is invalid")
	}

	return nil
}

// ToJSON serializes the transaction to JSON
func (tx *Transaction) ToJSON() ([]byte, error) {
	return json.Marshal(tx)
}

// FromJSON deserializes the transaction from JSON
func FromJSON(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to deserialize transaction: %w", err)
	}
	return &tx, nil
}
