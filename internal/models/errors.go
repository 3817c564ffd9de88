package models

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is returned for malformed sync or read requests.
var ErrInvalidRequest = errors.New("invalid request")

// Error kinds reported to callers.
const (
	ErrorKindProvision         = "provision"
	ErrorKindFetch             = "fetch"
	ErrorKindDuplicateMetadata = "duplicate_metadata"
	ErrorKindLoad              = "load"
	ErrorKindUpdate            = "update"
	ErrorKindRead              = "read"
	ErrorKindLedger            = "ledger"
)

// ProvisionError is returned when the rows or ledger table for a series name
// could not be created.
type ProvisionError struct {
	SeriesName string
	Err        error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s: %v", e.SeriesName, e.Err)
}

func (e *ProvisionError) Unwrap() error     { return e.Err }
func (e *ProvisionError) ErrorKind() string { return ErrorKindProvision }

// FetchError is returned when the vendor fetch for a series fails.
type FetchError struct {
	Key SeriesKey
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error     { return e.Err }
func (e *FetchError) ErrorKind() string { return ErrorKindFetch }

// DuplicateMetadataError is returned when more than one ledger entry exists
// for a series key.
type DuplicateMetadataError struct {
	Key   SeriesKey
	Count int
}

func (e *DuplicateMetadataError) Error() string {
	return fmt.Sprintf("duplicate metadata for %s: %d ledger entries", e.Key, e.Count)
}

func (e *DuplicateMetadataError) ErrorKind() string { return ErrorKindDuplicateMetadata }

// LoadError is returned when normalized rows could not be inserted.
type LoadError struct {
	Key SeriesKey
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Key, e.Err)
}

func (e *LoadError) Unwrap() error     { return e.Err }
func (e *LoadError) ErrorKind() string { return ErrorKindLoad }

// UpdateError is returned when the ledger could not be refreshed after rows
// were loaded. The ledger then lags the stored rows.
type UpdateError struct {
	Key      SeriesKey
	Attempts int
	Err      error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("update ledger %s after %d attempts: %v", e.Key, e.Attempts, e.Err)
}

func (e *UpdateError) Unwrap() error     { return e.Err }
func (e *UpdateError) ErrorKind() string { return ErrorKindUpdate }

// ReadError is returned when a range read fails.
type ReadError struct {
	Key SeriesKey
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Key, e.Err)
}

func (e *ReadError) Unwrap() error     { return e.Err }
func (e *ReadError) ErrorKind() string { return ErrorKindRead }

// LedgerError is returned when the ledger could not be read or seeded while
// resolving a series.
type LedgerError struct {
	Key SeriesKey
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Key, e.Err)
}

func (e *LedgerError) Unwrap() error     { return e.Err }
func (e *LedgerError) ErrorKind() string { return ErrorKindLedger }

// ErrorKind returns the kind string of a sync error, or "internal" for
// untyped errors and "" for nil.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var k interface{ ErrorKind() string }
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return "internal"
}
