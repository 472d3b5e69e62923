package handler

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/mcKV/memcached/conn"
	"github.com/ValentinKolb/mcKV/memcached/protocol"
)

// operation is an entry of the opcode table
type operation struct {
	run func(h IHandler, req *conn.Request, resp *conn.Response) error
	// control opcodes always answer
	control bool
	// closes the connection after the response
	closes bool
}

var operations [256]*operation

func register(run func(IHandler, *conn.Request, *conn.Response) error, control, closes bool, ops ...protocol.Opcode) {
	for _, op := range ops {
		operations[op] = &operation{run: run, control: control, closes: closes}
	}
}

func init() {
	register(IHandler.Get, false, false, protocol.OpGet, protocol.OpGetQ, protocol.OpGetK, protocol.OpGetKQ)
	register(IHandler.Store, false, false,
		protocol.OpSet, protocol.OpSetQ, protocol.OpAdd, protocol.OpAddQ, protocol.OpReplace, protocol.OpReplaceQ,
		protocol.OpAppend, protocol.OpAppendQ, protocol.OpPrepend, protocol.OpPrependQ)
	register(IHandler.Delete, false, false, protocol.OpDelete, protocol.OpDeleteQ)
	register(IHandler.Arithmetic, false, false,
		protocol.OpIncrement, protocol.OpIncrementQ, protocol.OpDecrement, protocol.OpDecrementQ)
	register(IHandler.Touch, false, false, protocol.OpTouch, protocol.OpGAT, protocol.OpGATQ, protocol.OpGATK, protocol.OpGATKQ)
	register(IHandler.FlushAll, false, false, protocol.OpFlush, protocol.OpFlushQ)
	register(IHandler.Noop, true, false, protocol.OpNoop)
	register(IHandler.Version, true, false, protocol.OpVersion)
	register(IHandler.Stat, true, false, protocol.OpStat)
	register(IHandler.Verbosity, true, false, protocol.OpVerbosity)
	register(IHandler.Quit, true, true, protocol.OpQuit)
	// QuitQ answers nothing on success, it is not a control opcode
	register(IHandler.Quit, false, true, protocol.OpQuitQ)
	register(IHandler.SASL, true, false, protocol.OpSASLList, protocol.OpSASLAuth, protocol.OpSASLStep)
}

// RequestObserver is notified about every executed request
type RequestObserver interface {
	ObserveRequest(op protocol.Opcode, bodyLen int, start time.Time)
}

// Task executes one request
type Task struct {
	handler  IHandler
	request  *conn.Request
	observer RequestObserver
	created  time.Time
}

// NewTask creates the task for a request. observer may be nil.
func NewTask(h IHandler, req *conn.Request, observer RequestObserver) *Task {
	if tracker, ok := h.(BacklogTracker); ok {
		tracker.Enqueued()
	}
	return &Task{handler: h, request: req, observer: observer, created: time.Now()}
}

// AssociationKey returns the key of the request, tasks with the same key may be
// executed in submission order
func (t *Task) AssociationKey() uint64 {
	return t.request.AssociationKey()
}

// Run executes the request and flushes its response. Run never panics.
func (t *Task) Run() {
	req := t.request
	resp := req.Response()
	opcode := req.Opcode()

	op := operations[opcode]
	if op == nil {
		resp.SetError(protocol.StatusUnknownCommand, fmt.Sprintf("%s: %s", protocol.StatusUnknownCommand.Text(), opcode))
	} else {
		if err := t.invoke(op, req, resp); err != nil {
			status, msg := ErrorResponse(err)
			if status == protocol.StatusInternalError {
				Logger.Warningf("%s on connection %d failed: %v", opcode, req.AssociationKey(), err)
			}
			resp.SetError(status, msg)
		}
		if op.closes {
			resp.CloseConnection()
		}
		if !op.control && suppress(opcode, resp.Status()) {
			resp.Suppress()
		}
	}

	if t.observer != nil {
		t.observer.ObserveRequest(opcode, req.Header.BodyLen(), t.created)
	}
	resp.Flush()

	if tracker, ok := t.handler.(BacklogTracker); ok {
		tracker.Completed()
	}
}

// invoke calls the handler and converts a panic into an error
func (t *Task) invoke(op *operation, req *conn.Request, resp *conn.Response) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return op.run(t.handler, req, resp)
}

// suppress reports whether a quiet opcode skips a response with the given status.
// Quiet get opcodes skip misses, all other quiet opcodes skip successes.
func suppress(op protocol.Opcode, status protocol.Status) bool {
	if !op.IsQuiet() {
		return false
	}
	if op.IsGetFamily() {
		return status == protocol.StatusKeyNotFound
	}
	return status == protocol.StatusNoError
}
