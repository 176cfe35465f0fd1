package sync

import (
	"errors"
	"fmt"
)

// Error taxonomy for the synchronization pipeline. Field-level problems never
// reach here (the resolver downgrades them to warnings); these errors are
// per-product or per-run.

// FetchError wraps a feed read failure after retries were exhausted. It is a
// per-product failure; the run continues with the next product.
type FetchError struct {
	ProductNo string
	Err       error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	if e.ProductNo == "" {
		return fmt.Sprintf("sync: feed fetch failed: %v", e.Err)
	}
	return fmt.Sprintf("sync: feed fetch failed for product %s: %v", e.ProductNo, e.Err)
}

// Unwrap returns the underlying error
func (e *FetchError) Unwrap() error { return e.Err }

// WriteError wraps a downstream call failure after retries were exhausted.
// The product's state is left untouched so the next run retries everything.
type WriteError struct {
	ProductNo string
	Operation string
	Err       error
}

// Error implements the error interface
func (e *WriteError) Error() string {
	return fmt.Sprintf("sync: %s write failed for product %s: %v", e.Operation, e.ProductNo, e.Err)
}

// Unwrap returns the underlying error
func (e *WriteError) Unwrap() error { return e.Err }

// StateStoreError wraps a persistence failure. It fails the product's commit
// without corrupting other products' state; a store that is unreachable
// entirely aborts the run before any product is processed.
type StateStoreError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *StateStoreError) Error() string {
	return fmt.Sprintf("sync: state store %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *StateStoreError) Unwrap() error { return e.Err }

// AsWriteError unwraps a WriteError from an error chain.
func AsWriteError(err error) (*WriteError, bool) {
	var we *WriteError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}
