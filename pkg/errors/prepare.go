// pkg/errors/prepare.go
package errors

// Preparation error codes
const (
	// PrepareErrInvalidRecipient indicates the recipient does not parse as an address
	PrepareErrInvalidRecipient = "PREPARE_INVALID_RECIPIENT"
	// PrepareErrInvalidAmount indicates the amount does not parse as a positive decimal
	PrepareErrInvalidAmount = "PREPARE_INVALID_AMOUNT"
	// PrepareErrGasPrice indicates the gas price snapshot could not be read
	PrepareErrGasPrice = "PREPARE_GAS_PRICE"
	// PrepareErrNonce indicates nonce allocation failed
	PrepareErrNonce = "PREPARE_NONCE"
)

// Prepare domain name
const PrepareDomain = "prepare"

// Prepare operations
const (
	OpPrepare       = "Prepare"
	OpEstimateFee   = "EstimateFee"
	OpAllocateNonce = "AllocateNonce"
)

// NewPrepareError creates a new preparation error
func NewPrepareError(code string, message string, err error) error {
	return &Error{
		Domain:   PrepareDomain,
		Code:     code,
		Message:  message,
		Original: err,
	}
}

// PrepareErrorf creates a new preparation error with formatted message
func PrepareErrorf(code string, format string, args ...interface{}) error {
	return &Error{
		Domain:  PrepareDomain,
		Code:    code,
		Message: Sprintf(format, args...),
	}
}
