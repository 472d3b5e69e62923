package handler

import (
	"errors"
	"time"

	"github.com/ValentinKolb/mcKV/lib/db"
	"github.com/ValentinKolb/mcKV/lib/store"
	"github.com/ValentinKolb/mcKV/memcached/common"
	"github.com/ValentinKolb/mcKV/memcached/conn"
	"github.com/ValentinKolb/mcKV/memcached/protocol"
	"github.com/ValentinKolb/mcKV/memcached/stats"
)

// Options configures a StoreHandler
type Options struct {
	MaxValueBytes int           // largest accepted value, zero means unlimited
	BacklogHigh   int64         // pending requests that pause reading, zero disables the limit
	BacklogLow    int64         // pending requests that resume reading
	Settings      []stats.Entry // reported by "stat settings"
}

// StoreHandler serves memcached requests from a store.IStore
type StoreHandler struct {
	*Backlog
	store store.IStore
	stats *stats.Collector
	opts  Options
	now   func() time.Time
}

// NewStoreHandler creates a handler for the store. collector may be nil.
func NewStoreHandler(s store.IStore, collector *stats.Collector, opts Options) *StoreHandler {
	if collector == nil {
		collector = stats.NewCollector(common.Version, nil)
	}
	return &StoreHandler{
		Backlog: NewBacklog(opts.BacklogHigh, opts.BacklogLow),
		store:   s,
		stats:   collector,
		opts:    opts,
		now:     time.Now,
	}
}

// --------------------------------------------------------------------------
// Validation helpers
// --------------------------------------------------------------------------

var (
	errKeyRequired = NewStatusError(protocol.StatusInvalidArguments, "key required")
	errKeyTooLong  = NewStatusError(protocol.StatusInvalidArguments, "key longer than %d bytes", protocol.MaxKeyLength)
)

func validateKey(req *conn.Request) ([]byte, error) {
	key := req.Key()
	switch {
	case len(key) == 0:
		return nil, errKeyRequired
	case len(key) > protocol.MaxKeyLength:
		return nil, errKeyTooLong
	}
	return key, nil
}

// expect checks the presence of extras, key and value of a request
func expect(req *conn.Request, extras int, value bool) error {
	if got := int(req.Header.ExtrasLength); got != extras {
		return NewStatusError(protocol.StatusInvalidArguments, "%s expects %d bytes of extras, got %d", req.Opcode(), extras, got)
	}
	if !value && req.Header.ValueLength() > 0 {
		return NewStatusError(protocol.StatusInvalidArguments, "%s must not have a value", req.Opcode())
	}
	return nil
}

func isCode(err error, code store.RetCode) bool {
	var storeErr *store.Error
	return errors.As(err, &storeErr) && storeErr.Code == code
}

// count increments hit or miss depending on the error, other errors are not counted
func (h *StoreHandler) count(err error, hit, miss string) {
	switch {
	case err == nil:
		h.stats.Incr(hit)
	case isCode(err, store.RetCNotFound):
		h.stats.Incr(miss)
	}
}

// countCAS records the outcome of a CAS write
func (h *StoreHandler) countCAS(err error) {
	switch {
	case err == nil:
		h.stats.Incr(stats.CasHits)
	case isCode(err, store.RetCExists):
		h.stats.Incr(stats.CasBadval)
	case isCode(err, store.RetCNotFound):
		h.stats.Incr(stats.CasMisses)
	}
}

// item fills a get style response
func item(req *conn.Request, resp *conn.Response, key []byte, it db.Item) {
	resp.SetExtras(protocol.EncodeUint32(it.Flags))
	resp.SetValue(it.Value)
	resp.SetCAS(it.CAS)
	if withKey(req.Opcode()) {
		resp.SetKey(key)
	}
}

// miss fills the response of a missing key, the body stays empty apart from the key of GetK and GATK
func miss(req *conn.Request, resp *conn.Response, key []byte) {
	resp.SetStatus(protocol.StatusKeyNotFound)
	if withKey(req.Opcode()) {
		resp.SetKey(key)
	}
}

func withKey(op protocol.Opcode) bool {
	switch op.Base() {
	case protocol.OpGetK, protocol.OpGATK:
		return true
	}
	return false
}

// --------------------------------------------------------------------------
// IHandler Methods (docu see handler.go)
// --------------------------------------------------------------------------

func (h *StoreHandler) Get(req *conn.Request, resp *conn.Response) error {
	if err := expect(req, 0, false); err != nil {
		return err
	}
	key, err := validateKey(req)
	if err != nil {
		return err
	}

	h.stats.Incr(stats.CmdGet)
	it, ok, err := h.store.Get(string(key))
	if err != nil {
		return err
	}
	if !ok {
		h.stats.Incr(stats.GetMisses)
		miss(req, resp, key)
		return nil
	}
	h.stats.Incr(stats.GetHits)
	item(req, resp, key, it)
	return nil
}

func (h *StoreHandler) Store(req *conn.Request, resp *conn.Response) error {
	var (
		mode   db.StoreMode
		extras protocol.StoreExtras
		err    error
	)
	switch req.Opcode().Base() {
	case protocol.OpSet:
		mode = db.ModeSet
	case protocol.OpAdd:
		mode = db.ModeAdd
	case protocol.OpReplace:
		mode = db.ModeReplace
	case protocol.OpAppend:
		mode = db.ModeAppend
	case protocol.OpPrepend:
		mode = db.ModePrepend
	}

	if mode == db.ModeAppend || mode == db.ModePrepend {
		err = expect(req, 0, true)
	} else if extras, err = protocol.ParseStoreExtras(req.Opcode(), req.Extras()); err != nil {
		err = &StatusError{Status: protocol.StatusInvalidArguments, Msg: err.Error()}
	}
	if err != nil {
		return err
	}
	key, err := validateKey(req)
	if err != nil {
		return err
	}
	value := req.Value()
	if h.opts.MaxValueBytes > 0 && len(value) > h.opts.MaxValueBytes {
		return NewStatusError(protocol.StatusValueTooLarge, "value of %d bytes exceeds %d bytes", len(value), h.opts.MaxValueBytes)
	}

	h.stats.Incr(stats.CmdSet)
	cas := req.CAS()
	newCAS, err := h.store.Store(mode, string(key), db.Item{
		Value:    value,
		Flags:    extras.Flags,
		ExpireAt: ExpireAt(extras.Expiration, h.now()),
	}, cas)
	if cas != 0 {
		h.countCAS(err)
	}
	if err != nil {
		return err
	}
	resp.SetCAS(newCAS)
	return nil
}

func (h *StoreHandler) Delete(req *conn.Request, resp *conn.Response) error {
	if err := expect(req, 0, false); err != nil {
		return err
	}
	key, err := validateKey(req)
	if err != nil {
		return err
	}
	err = h.store.Delete(string(key), req.CAS())
	h.count(err, stats.DeleteHits, stats.DeleteMisses)
	return err
}

func (h *StoreHandler) Arithmetic(req *conn.Request, resp *conn.Response) error {
	extras, err := protocol.ParseArithmeticExtras(req.Opcode(), req.Extras())
	if err != nil {
		return &StatusError{Status: protocol.StatusInvalidArguments, Msg: err.Error()}
	}
	if err := expect(req, protocol.ArithmeticExtrasLen, false); err != nil {
		return err
	}
	key, err := validateKey(req)
	if err != nil {
		return err
	}

	incr := req.Opcode().Base() == protocol.OpIncrement
	create := extras.Expiration != protocol.NoAutoCreate
	var expireAt int64
	if create {
		expireAt = ExpireAt(extras.Expiration, h.now())
	}

	value, cas, err := h.store.Arithmetic(string(key), incr, extras.Delta, extras.Initial, create, expireAt, req.CAS())
	if incr {
		h.count(err, stats.IncrHits, stats.IncrMisses)
	} else {
		h.count(err, stats.DecrHits, stats.DecrMisses)
	}
	if err != nil {
		return err
	}
	resp.SetValue(protocol.EncodeUint64(value))
	resp.SetCAS(cas)
	return nil
}

func (h *StoreHandler) Touch(req *conn.Request, resp *conn.Response) error {
	exp, err := protocol.ParseUint32Extras(req.Opcode(), req.Extras(), false)
	if err != nil {
		return &StatusError{Status: protocol.StatusInvalidArguments, Msg: err.Error()}
	}
	if err := expect(req, protocol.TouchExtrasLen, false); err != nil {
		return err
	}
	key, err := validateKey(req)
	if err != nil {
		return err
	}

	isGet := req.Opcode().IsGetFamily()
	h.stats.Incr(stats.CmdTouch)
	if isGet {
		h.stats.Incr(stats.CmdGet)
	}

	it, err := h.store.Touch(string(key), ExpireAt(exp, h.now()))
	h.count(err, stats.TouchHits, stats.TouchMisses)
	if isGet {
		h.count(err, stats.GetHits, stats.GetMisses)
	}
	switch {
	case isCode(err, store.RetCNotFound):
		miss(req, resp, key)
		return nil
	case err != nil:
		return err
	}

	if isGet {
		item(req, resp, key, it)
	} else {
		resp.SetCAS(it.CAS)
	}
	return nil
}

func (h *StoreHandler) FlushAll(req *conn.Request, resp *conn.Response) error {
	exp, err := protocol.ParseUint32Extras(req.Opcode(), req.Extras(), true)
	if err != nil {
		return &StatusError{Status: protocol.StatusInvalidArguments, Msg: err.Error()}
	}
	h.stats.Incr(stats.CmdFlush)
	return h.store.FlushAll(ExpireAt(exp, h.now()))
}

func (h *StoreHandler) Noop(*conn.Request, *conn.Response) error {
	return nil
}

func (h *StoreHandler) Version(_ *conn.Request, resp *conn.Response) error {
	resp.SetValue([]byte(common.Version))
	return nil
}

func (h *StoreHandler) Stat(req *conn.Request, resp *conn.Response) error {
	var entries []stats.Entry
	switch group := string(req.Key()); group {
	case "":
		entries = h.stats.General()
	case "settings":
		entries = h.opts.Settings
	case "timings":
		entries = h.stats.Timings()
	default:
		return NewStatusError(protocol.StatusKeyNotFound, "unknown stat group %q", group)
	}
	for _, e := range entries {
		resp.AddStat(e.Key, e.Value)
	}
	return nil
}

func (h *StoreHandler) Verbosity(req *conn.Request, _ *conn.Response) error {
	level, err := protocol.ParseUint32Extras(req.Opcode(), req.Extras(), false)
	if err != nil {
		return &StatusError{Status: protocol.StatusInvalidArguments, Msg: err.Error()}
	}
	common.SetProjectLogLevel(common.VerbosityToLogLevel(level))
	Logger.Infof("verbosity set to %d", level)
	return nil
}

func (h *StoreHandler) Quit(*conn.Request, *conn.Response) error {
	return nil
}

func (h *StoreHandler) SASL(req *conn.Request, _ *conn.Response) error {
	h.stats.Incr(stats.AuthCmds)
	h.stats.Incr(stats.AuthErrors)
	return NewStatusError(protocol.StatusNotSupported, "%s: authentication is not supported", req.Opcode())
}

// Flush has nothing to batch, every request is executed right away
func (h *StoreHandler) Flush() {}

// CheckBacklog reports whether too many requests are pending
func (h *StoreHandler) CheckBacklog(onCleared func()) bool {
	return h.Backlog.Check(onCleared)
}
