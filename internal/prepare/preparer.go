// Package prepare implements the transaction preparation service. It turns
// debounced form input into a prepared transaction config: parsed amount,
// fee from the configured schedule, a gas price snapshot, and a fresh nonce.
package prepare

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/dmorse17/txflow/internal/form"
	"github.com/dmorse17/txflow/internal/wallet"
	"github.com/dmorse17/txflow/pkg/config"
	"github.com/dmorse17/txflow/pkg/errors"
	"github.com/dmorse17/txflow/pkg/logging"
)

// GasPriceSource provides the current network gas price snapshot.
type GasPriceSource interface {
	GetGasPrice(ctx context.Context) (float64, error)
}

// Service implements form.Preparer.
type Service struct {
	gas    GasPriceSource
	fees   config.FeeConfig
	logger *logging.Logger
}

var _ form.Preparer = (*Service)(nil)

// NewService creates a new preparation service.
func NewService(gas GasPriceSource, fees config.FeeConfig, logger *logging.Logger) *Service {
	return &Service{
		gas:    gas,
		fees:   fees,
		logger: logger,
	}
}

// Prepare derives a prepared transaction config from raw inputs. Empty
// inputs yield a nil config with no error; malformed inputs yield an error
// and no config. Either way submission stays gated.
func (s *Service) Prepare(ctx context.Context, recipient, amount string) (*form.PreparedConfig, error) {
	if recipient == "" || amount == "" {
		return nil, nil
	}

	if !IsHexAddress(recipient) {
		return nil, errors.PrepareErrorf(errors.PrepareErrInvalidRecipient,
			"recipient %q is not a valid address", recipient)
	}

	value, err := strconv.ParseFloat(amount, 64)
	if err != nil || value <= 0 {
		return nil, errors.PrepareErrorf(errors.PrepareErrInvalidAmount,
			"amount %q is not a positive decimal", amount)
	}

	gasPrice, err := s.gas.GetGasPrice(ctx)
	if err != nil {
		// A stale or missing snapshot falls back to the configured default
		// rather than blocking preparation.
		s.logger.Debug("Gas price snapshot unavailable, using default", "error", err)
		gasPrice = s.fees.DefaultGas
	}

	nonce, err := wallet.GenerateNonce()
	if err != nil {
		return nil, errors.NewPrepareError(errors.PrepareErrNonce, "failed to allocate nonce", err)
	}

	return &form.PreparedConfig{
		Recipient:  recipient,
		Amount:     value,
		AmountText: amount,
		Fee:        s.EstimateFee(value),
		GasPrice:   gasPrice,
		GasLimit:   s.fees.GasLimit,
		Nonce:      nonce,
		PreparedAt: time.Now(),
	}, nil
}

// EstimateFee applies the fee schedule: a proportional rate with a floor.
func (s *Service) EstimateFee(amount float64) float64 {
	fee := amount * s.fees.Rate
	if fee < s.fees.Minimum {
		fee = s.fees.Minimum
	}
	return fee
}

// IsHexAddress reports whether the string looks like a 0x-prefixed
// 20-byte hex address.
func IsHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
