// Package errs defines the error kinds shared by the ingestion, detection and
// lifecycle layers. Callers route recovery on the kind, never on the message.
package errs

import (
	"errors"
	"fmt"
)

// ErrIrreversibleConfirmation is returned when a confirmed candidate is asked
// to become unconfirmed again.
var ErrIrreversibleConfirmation = errors.New("confirmed candidate cannot be unconfirmed")

// TransientNetworkError wraps connection, timeout and throttling failures.
// These are retried with backoff by the ingestion pipeline.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error during %s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// ExchangeProtocolError is a non-zero application level code from the exchange.
type ExchangeProtocolError struct {
	Code    int
	Message string
}

func (e *ExchangeProtocolError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Message)
}

// DataIntegrityError marks a malformed row. The whole page carrying it is rejected.
type DataIntegrityError struct {
	Reason string
}

func (e *DataIntegrityError) Error() string {
	return "data integrity: " + e.Reason
}

// IngestionStallError reports a pagination cursor that stopped advancing.
type IngestionStallError struct {
	Partition string
	Cursor    int64
	Last      int64
}

func (e *IngestionStallError) Error() string {
	return fmt.Sprintf("ingestion stalled for %s: cursor=%d last=%d", e.Partition, e.Cursor, e.Last)
}

// PersistenceError wraps a failed store write. The batch it belonged to was rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NotFoundError is returned for lookups of unknown ids.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func IsTransient(err error) bool {
	var te *TransientNetworkError
	return errors.As(err, &te)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsStall(err error) bool {
	var se *IngestionStallError
	return errors.As(err, &se)
}
