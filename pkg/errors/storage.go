// pkg/errors/storage.go
package errors

// Storage error codes
const (
	// StorageErrConnection indicates a storage connection error
	StorageErrConnection = "STORAGE_CONNECTION"
	// StorageErrOperation indicates a storage operation error
	StorageErrOperation = "STORAGE_OPERATION"
	// StorageErrSerialization indicates a serialization error
	StorageErrSerialization = "STORAGE_SERIALIZATION"
	// StorageErrNotFound indicates the requested record was not found
	StorageErrNotFound = "STORAGE_NOT_FOUND"
)

// Storage domain name
const StorageDomain = "storage"

// Storage operations
const (
	OpStoreTransaction = "StoreTransaction"
	OpFetchTransaction = "FetchTransaction"
	OpUpdateStatus     = "UpdateStatus"
	OpHistory          = "History"
	OpGasPriceSnapshot = "GasPriceSnapshot"
)

// NewStorageError creates a new storage error
func NewStorageError(code string, message string, err error) error {
	return &Error{
		Domain:   StorageDomain,
		Code:     code,
		Message:  message,
		Original: err,
	}
}

// StorageWrap wraps an error with storage domain
func StorageWrap(err error, operation string, message string) error {
	if err == nil {
		return nil
	}

	return &Error{
		Domain:    StorageDomain,
		Operation: operation,
		Message:   message,
		Original:  err,
	}
}
