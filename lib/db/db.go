package db

import "io"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple Implementation = "maple"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureStore      Feature = 1 << iota // Support for Store operations (set, add, replace)
	FeatureConcat                         // Support for append and prepend
	FeatureArithmetic                     // Support for Arithmetic operations
	FeatureTouch                          // Support for Touch operations
	FeatureFlush                          // Support for FlushAll operations
	FeatureGet                            // Support for Get operations
	FeatureDelete                         // Support for Delete operations
	FeatureSave                           // Support for Save operations
	FeatureLoad                           // Support for Load operations
	FeatureGarbageCollect                 // Support for background removal of expired items
)

func (f Feature) String() string {
	switch f {
	case FeatureStore:
		return "Store"
	case FeatureConcat:
		return "Concat"
	case FeatureArithmetic:
		return "Arithmetic"
	case FeatureTouch:
		return "Touch"
	case FeatureFlush:
		return "Flush"
	case FeatureGet:
		return "Get"
	case FeatureDelete:
		return "Delete"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	case FeatureGarbageCollect:
		return "GarbageCollect"
	default:
		return "Unknown"
	}
}

// StoreMode selects the semantics of a Store operation
type StoreMode uint8

const (
	ModeSet     StoreMode = iota // store unconditionally
	ModeAdd                      // store only if the key does not exist
	ModeReplace                  // store only if the key exists
	ModeAppend                   // append to the existing value
	ModePrepend                  // prepend to the existing value
)

func (m StoreMode) String() string {
	switch m {
	case ModeSet:
		return "set"
	case ModeAdd:
		return "add"
	case ModeReplace:
		return "replace"
	case ModeAppend:
		return "append"
	case ModePrepend:
		return "prepend"
	default:
		return "unknown"
	}
}

// Status is the outcome of a conditional operation
type Status uint8

const (
	StatusOK         Status = iota
	StatusNotFound          // the key does not exist (or is expired)
	StatusExists            // add on an existing key, or the CAS token did not match
	StatusNotStored         // append or prepend on a missing key
	StatusNonNumeric        // arithmetic on a value that is not a decimal number
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not found"
	case StatusExists:
		return "exists"
	case StatusNotStored:
		return "not stored"
	case StatusNonNumeric:
		return "non numeric"
	default:
		return "unknown"
	}
}

// Item is a cached value with its metadata
type Item struct {
	Value    []byte
	Flags    uint32
	ExpireAt int64  // unix seconds, 0 = never
	CAS      uint64 // write index of the last modification
}

type DatabaseInfo struct {
	Items             int64          `json:"items"`
	SizeBytes         int64          `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for cache engines with memcached semantics.
// Any implementation of this interface must be safe for concurrent use.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
//
// A cas argument of 0 disables the compare-and-swap check. Otherwise the
// operation only succeeds if the current item carries that CAS token.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Store writes item under key with the semantics of mode.
	// For append and prepend only the value of item is used, flags and
	// expiration of the existing item are kept.
	// Returns the status and the CAS token of the written item.
	Store(mode StoreMode, key string, item Item, cas uint64, writeIdx uint64, now int64) (Status, uint64)

	// Delete removes the item with the given key.
	Delete(key string, cas uint64, writeIdx uint64, now int64) Status

	// Arithmetic increments or decrements the decimal counter stored under key.
	// Incrementing wraps at 64 bit, decrementing stops at 0.
	// If the key does not exist and create is set, the counter is created with
	// initial and expireAt. Returns the new counter value and its CAS token.
	Arithmetic(key string, incr bool, delta, initial uint64, create bool, expireAt int64, cas uint64, writeIdx uint64, now int64) (uint64, uint64, Status)

	// Touch changes the expiration of an item and returns the item.
	Touch(key string, expireAt int64, writeIdx uint64, now int64) (Item, Status)

	// FlushAll invalidates all items written up to writeIdx once now reaches at.
	// Items written after the flush but before at are invalidated as well.
	FlushAll(at int64, writeIdx uint64, now int64)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves the item for a key. The returned value is a copy.
	// The boolean return value indicates whether a live item was found.
	Get(key string, now int64) (item Item, loaded bool)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the database to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load restores the database state data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// --------------------------------------------------------------------------
	// Write Index Operations
	// --------------------------------------------------------------------------

	// SetWriteIdx sets the current index of the database only if the provided index is greater than the current index.
	SetWriteIdx(index uint64)

	// WriteIdx returns the current index of the database .
	WriteIdx() (index uint64)

	// Close closes the database.
	Close() (err error)
}
