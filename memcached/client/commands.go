package client

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/mcKV/memcached/protocol"
)

// Item is a cache entry
type Item struct {
	Key   string
	Value []byte
	Flags uint32
	// Expiration in memcached format: seconds up to 30 days, unix time beyond
	Expiration uint32
	// CAS token, set by Get. A non zero CAS makes a write conditional.
	CAS uint64
}

// Stat is one entry of a stat response
type Stat struct {
	Key   string
	Value string
}

func (c *Client) roundTrip(ctx context.Context, op protocol.Opcode, cas uint64, extras []byte, key string, value []byte) (*protocol.Frame, error) {
	resp, err := c.Do(ctx, protocol.NewRequest(op, 0, cas, extras, []byte(key), value))
	if err != nil {
		return nil, err
	}
	return resp, statusError(resp)
}

func toItem(key string, resp *protocol.Frame) Item {
	it := Item{Key: key, Value: resp.Value, CAS: resp.Header.CAS}
	if len(resp.Extras) >= 4 {
		it.Flags = binary.BigEndian.Uint32(resp.Extras)
	}
	return it
}

// Get returns the item of a key, ErrNotFound if it does not exist
func (c *Client) Get(ctx context.Context, key string) (Item, error) {
	resp, err := c.roundTrip(ctx, protocol.OpGet, 0, nil, key, nil)
	if err != nil {
		return Item{}, err
	}
	return toItem(key, resp), nil
}

// GetMulti fetches several keys in one pipeline with quiet gets, missing keys are omitted
func (c *Client) GetMulti(ctx context.Context, keys ...string) (map[string]Item, error) {
	reqs := make([]*protocol.Frame, 0, len(keys)+1)
	for _, key := range keys {
		reqs = append(reqs, protocol.NewRequest(protocol.OpGetKQ, 0, 0, nil, []byte(key), nil))
	}
	reqs = append(reqs, protocol.NewRequest(protocol.OpNoop, 0, 0, nil, nil, nil))

	resps, err := c.Pipeline(ctx, reqs...)
	if err != nil {
		return nil, err
	}
	items := make(map[string]Item, len(keys))
	for _, resp := range resps {
		if resp.Header.Opcode != protocol.OpGetKQ {
			continue
		}
		if err := statusError(resp); err != nil {
			return items, err
		}
		items[string(resp.Key)] = toItem(string(resp.Key), resp)
	}
	return items, nil
}

func (c *Client) store(ctx context.Context, op protocol.Opcode, it Item) (uint64, error) {
	var extras []byte
	if op != protocol.OpAppend && op != protocol.OpPrepend {
		extras = protocol.StoreExtras{Flags: it.Flags, Expiration: it.Expiration}.Encode(nil)
	}
	resp, err := c.roundTrip(ctx, op, it.CAS, extras, it.Key, it.Value)
	if err != nil {
		return 0, err
	}
	return resp.Header.CAS, nil
}

// Set stores the item and returns its new CAS token
func (c *Client) Set(ctx context.Context, it Item) (uint64, error) {
	return c.store(ctx, protocol.OpSet, it)
}

// Add stores the item if the key does not exist
func (c *Client) Add(ctx context.Context, it Item) (uint64, error) {
	return c.store(ctx, protocol.OpAdd, it)
}

// Replace stores the item if the key exists
func (c *Client) Replace(ctx context.Context, it Item) (uint64, error) {
	return c.store(ctx, protocol.OpReplace, it)
}

// Append appends the value of the item to the existing value
func (c *Client) Append(ctx context.Context, it Item) (uint64, error) {
	return c.store(ctx, protocol.OpAppend, it)
}

// Prepend prepends the value of the item to the existing value
func (c *Client) Prepend(ctx context.Context, it Item) (uint64, error) {
	return c.store(ctx, protocol.OpPrepend, it)
}

// Delete removes a key. A non zero cas deletes only if the item is unchanged.
func (c *Client) Delete(ctx context.Context, key string, cas uint64) error {
	_, err := c.roundTrip(ctx, protocol.OpDelete, cas, nil, key, nil)
	return err
}

func (c *Client) arithmetic(ctx context.Context, op protocol.Opcode, key string, delta, initial uint64, exp uint32) (uint64, error) {
	extras := protocol.ArithmeticExtras{Delta: delta, Initial: initial, Expiration: exp}.Encode(nil)
	resp, err := c.roundTrip(ctx, op, 0, extras, key, nil)
	if err != nil {
		return 0, err
	}
	if len(resp.Value) != 8 {
		return 0, fmt.Errorf("%s returned %d bytes, expected 8", op, len(resp.Value))
	}
	return binary.BigEndian.Uint64(resp.Value), nil
}

// Increment adds delta to a counter. A missing counter is created with initial,
// unless exp is protocol.NoAutoCreate.
func (c *Client) Increment(ctx context.Context, key string, delta, initial uint64, exp uint32) (uint64, error) {
	return c.arithmetic(ctx, protocol.OpIncrement, key, delta, initial, exp)
}

// Decrement subtracts delta from a counter, the counter does not drop below zero
func (c *Client) Decrement(ctx context.Context, key string, delta, initial uint64, exp uint32) (uint64, error) {
	return c.arithmetic(ctx, protocol.OpDecrement, key, delta, initial, exp)
}

// Touch sets a new expiration
func (c *Client) Touch(ctx context.Context, key string, exp uint32) error {
	_, err := c.roundTrip(ctx, protocol.OpTouch, 0, protocol.EncodeUint32(exp), key, nil)
	return err
}

// GetAndTouch sets a new expiration and returns the item
func (c *Client) GetAndTouch(ctx context.Context, key string, exp uint32) (Item, error) {
	resp, err := c.roundTrip(ctx, protocol.OpGAT, 0, protocol.EncodeUint32(exp), key, nil)
	if err != nil {
		return Item{}, err
	}
	return toItem(key, resp), nil
}

// Flush invalidates all items, after delay seconds if delay is not zero
func (c *Client) Flush(ctx context.Context, delay uint32) error {
	var extras []byte
	if delay > 0 {
		extras = protocol.EncodeUint32(delay)
	}
	_, err := c.roundTrip(ctx, protocol.OpFlush, 0, extras, "", nil)
	return err
}

// Stats returns a stat group, "" for the general statistics
func (c *Client) Stats(ctx context.Context, group string) ([]Stat, error) {
	resps, err := c.Pipeline(ctx, protocol.NewRequest(protocol.OpStat, 0, 0, nil, []byte(group), nil))
	if err != nil {
		return nil, err
	}
	var entries []Stat
	for _, resp := range resps {
		if err := statusError(resp); err != nil {
			return nil, err
		}
		if len(resp.Key) > 0 {
			entries = append(entries, Stat{Key: string(resp.Key), Value: string(resp.Value)})
		}
	}
	return entries, nil
}

// Version returns the version of the server
func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.roundTrip(ctx, protocol.OpVersion, 0, nil, "", nil)
	if err != nil {
		return "", err
	}
	return string(resp.Value), nil
}

// Noop checks that the server answers
func (c *Client) Noop(ctx context.Context) error {
	_, err := c.roundTrip(ctx, protocol.OpNoop, 0, nil, "", nil)
	return err
}

// Verbosity sets the log verbosity of the server
func (c *Client) Verbosity(ctx context.Context, level uint32) error {
	_, err := c.roundTrip(ctx, protocol.OpVerbosity, 0, protocol.EncodeUint32(level), "", nil)
	return err
}

// Quit asks the server to close the connection and closes the client
func (c *Client) Quit(ctx context.Context) error {
	_, err := c.roundTrip(ctx, protocol.OpQuit, 0, nil, "", nil)
	if closeErr := c.Close(); err == nil {
		err = closeErr
	}
	return err
}
