package store

import (
	"fmt"

	"github.com/ValentinKolb/mcKV/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() db.KVDB

// IStore is the interface for interacting with a cache store.
// Write operations return a *Error (nil on success) that carries the outcome
// of conditional operations (NotFound, Exists, NotStored, NonNumeric).
// Expiration times are absolute unix seconds, zero means no expiration.
// A cas of zero disables the CAS check.
type IStore interface {
	// Store writes an item with set, add, replace, append or prepend semantics and returns the new CAS token.
	Store(mode db.StoreMode, key string, item db.Item, cas uint64) (newCAS uint64, err error)
	// Delete removes a key.
	Delete(key string, cas uint64) (err error)
	// Arithmetic increments or decrements a numeric value. If create is set a missing key is initialised with initial.
	Arithmetic(key string, incr bool, delta, initial uint64, create bool, expireAt int64, cas uint64) (value, newCAS uint64, err error)
	// Touch updates the expiration of a key and returns the item.
	Touch(key string, expireAt int64) (item db.Item, err error)
	// FlushAll invalidates all items at the given time (zero or past means now).
	FlushAll(at int64) (err error)
	// Get returns the item for a key. The boolean return value indicates whether the key was found.
	Get(key string) (item db.Item, loaded bool, err error)
	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
	// Close releases the resources of the store.
	Close() (err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("KVStoreError (code %s): %s", e.Code, e.Msg)
}

// Is matches errors by code, so errors.Is(err, &Error{Code: RetCNotFound}) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new KVStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// FromStatus converts the status of a db operation into an error, it returns nil for db.StatusOK
func FromStatus(status db.Status, key string) error {
	switch status {
	case db.StatusOK:
		return nil
	case db.StatusNotFound:
		return NewError(RetCNotFound, fmt.Sprintf("key %q not found", key))
	case db.StatusExists:
		return NewError(RetCExists, fmt.Sprintf("key %q exists", key))
	case db.StatusNotStored:
		return NewError(RetCNotStored, fmt.Sprintf("key %q not stored", key))
	case db.StatusNonNumeric:
		return NewError(RetCNonNumeric, fmt.Sprintf("value of key %q is not numeric", key))
	default:
		return NewError(RetCInternalError, fmt.Sprintf("unknown status %d for key %q", status, key))
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCNotFound                            // 4: The key does not exist.
	RetCExists                              // 5: The key exists or the CAS token did not match.
	RetCNotStored                           // 6: The item was not stored.
	RetCNonNumeric                          // 7: Arithmetic on a non-numeric value.
	RetCBusy                                // 8: The store is temporarily unable to serve the request.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCNotFound:
		return "NotFound"
	case RetCExists:
		return "Exists"
	case RetCNotStored:
		return "NotStored"
	case RetCNonNumeric:
		return "NonNumeric"
	case RetCBusy:
		return "Busy"
	default:
		return "Unknown"
	}
}
