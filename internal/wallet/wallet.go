// internal/wallet/wallet.go
package wallet

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcutil/base58"
)

// Wallet holds the key pair used to sign outgoing transactions
type Wallet struct {
	PrivateKey *btcec.PrivateKey
	PublicKey  []byte
	Address    string
	CreatedAt  time.Time
}

// New creates a new wallet with a fresh key pair
func New() (*Wallet, error) {
	privateKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	pubKey := privateKey.PubKey().SerializeCompressed()

	return &Wallet{
		PrivateKey: privateKey,
		PublicKey:  pubKey,
		Address:    deriveAddress(pubKey),
		CreatedAt:  time.Now(),
	}, nil
}

// Import restores a wallet from a private key hex string
func Import(privateKeyHex string) (*Wallet, error) {
	privateKeyBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key format: %w", err)
	}

	privateKey, _ := btcec.PrivKeyFromBytes(privateKeyBytes)
	if privateKey == nil {
		return nil, errors.New("invalid private key")
	}

	pubKey := privateKey.PubKey().SerializeCompressed()

	return &Wallet{
		PrivateKey: privateKey,
		PublicKey:  pubKey,
		Address:    deriveAddress(pubKey),
		CreatedAt:  time.Now(),
	}, nil
}

// ExportPrivateKey exports the private key as a hex string
func (w *Wallet) ExportPrivateKey() string {
	return hex.EncodeToString(w.PrivateKey.Serialize())
}

// SignMessage signs the SHA-256 digest of data with the wallet's private key
func (w *Wallet) SignMessage(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig := ecdsa.Sign(w.PrivateKey, digest[:])
	return sig.Serialize(), nil
}

// VerifySignature verifies a signature against a serialized compressed public key
func VerifySignature(publicKey, data, signature []byte) (bool, error) {
	pubKey, err := btcec.ParsePubKey(publicKey)
	if err != nil {
		return false, fmt.Errorf("invalid public key: %w", err)
	}

	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false, fmt.Errorf("invalid signature encoding: %w", err)
	}

	digest := sha256.Sum256(data)
	return sig.Verify(digest[:], pubKey), nil
}

// GenerateNonce returns a random nonce for transaction uniqueness
func GenerateNonce() (string, error) {
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(nonceBytes), nil
}

// deriveAddress derives a base58 address from the first 20 bytes of the
// public key hash
func deriveAddress(pubKey []byte) string {
	hash := sha256.Sum256(pubKey)
	return base58.Encode(hash[:20])
}
