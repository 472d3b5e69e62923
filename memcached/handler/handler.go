package handler

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/mcKV/lib/store"
	"github.com/ValentinKolb/mcKV/memcached/conn"
	"github.com/ValentinKolb/mcKV/memcached/protocol"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("handler")

// IHandler is the back end of the memcached front end. There is one method per
// opcode family, the quiet variants call the same method as their loud opcode.
// A method fills the response and returns nil, or returns an error that is
// converted into an error response. Methods must not flush the response.
//
// Request bytes (key, value, extras) are only valid until the response was
// written, anything kept beyond that must be copied.
type IHandler interface {
	// Get serves get and getk
	Get(req *conn.Request, resp *conn.Response) error
	// Store serves set, add, replace, append and prepend
	Store(req *conn.Request, resp *conn.Response) error
	// Delete serves delete
	Delete(req *conn.Request, resp *conn.Response) error
	// Arithmetic serves increment and decrement
	Arithmetic(req *conn.Request, resp *conn.Response) error
	// Touch serves touch, gat and gatk
	Touch(req *conn.Request, resp *conn.Response) error
	// FlushAll serves flush
	FlushAll(req *conn.Request, resp *conn.Response) error
	// Noop serves noop
	Noop(req *conn.Request, resp *conn.Response) error
	// Version serves version
	Version(req *conn.Request, resp *conn.Response) error
	// Stat serves stat, the entries are added with resp.AddStat
	Stat(req *conn.Request, resp *conn.Response) error
	// Verbosity serves verbosity
	Verbosity(req *conn.Request, resp *conn.Response) error
	// Quit serves quit, the connection is closed by the task
	Quit(req *conn.Request, resp *conn.Response) error
	// SASL serves the sasl list, auth and step opcodes
	SASL(req *conn.Request, resp *conn.Response) error

	// Flush is called after each read batch of a connection was dispatched
	Flush()
	// CheckBacklog reports whether the back end is congested. If it is, onCleared
	// is called once the congestion cleared, possibly before CheckBacklog returns.
	CheckBacklog(onCleared func()) bool
}

// BacklogTracker is implemented by handlers that count pending requests.
// Enqueued is called when a task is created, Completed after its response was flushed.
type BacklogTracker interface {
	Enqueued()
	Completed()
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// StatusError is returned by handlers to answer with a specific status
type StatusError struct {
	Status protocol.Status
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return e.Status.Text()
	}
	return fmt.Sprintf("%s: %s", e.Status.Text(), e.Msg)
}

// NewStatusError creates a StatusError with a formatted message
func NewStatusError(status protocol.Status, format string, args ...interface{}) *StatusError {
	return &StatusError{Status: status, Msg: fmt.Sprintf(format, args...)}
}

// storeStatus maps the return codes of the store onto protocol statuses
var storeStatus = map[store.RetCode]protocol.Status{
	store.RetCNotFound:             protocol.StatusKeyNotFound,
	store.RetCExists:               protocol.StatusKeyExists,
	store.RetCNotStored:            protocol.StatusItemNotStored,
	store.RetCNonNumeric:           protocol.StatusNonNumeric,
	store.RetCBusy:                 protocol.StatusTemporaryFailure,
	store.RetCUnsupportedOperation: protocol.StatusNotSupported,
	store.RetCInvalidOperation:     protocol.StatusInvalidArguments,
	store.RetCInternalError:        protocol.StatusInternalError,
}

// ErrorResponse converts an error into the status and value of an error response.
// Outcomes of conditional operations use the standard status text, anything
// unexpected carries the error text.
func ErrorResponse(err error) (protocol.Status, string) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status, statusErr.Error()
	}

	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		status, ok := storeStatus[storeErr.Code]
		if !ok {
			return protocol.StatusInternalError, storeErr.Error()
		}
		switch status {
		case protocol.StatusInternalError, protocol.StatusTemporaryFailure, protocol.StatusNotSupported:
			return status, storeErr.Msg
		}
		return status, status.Text()
	}
	return protocol.StatusInternalError, err.Error()
}
