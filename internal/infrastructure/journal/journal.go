package journal

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"mbobook/internal/domain/orderbook"
)

var ErrCorruptRecord = errors.New("corrupt journal record")

var (
	keyPrefix = []byte("event/")
	keyUpper  = []byte("event0")
)

// Journal is an append-only, sequence keyed log of accepted book events
// stored in Pebble. Appends are not synced individually; Close flushes.
type Journal struct {
	db   *pebble.DB
	next uint64
}

func Open(dir string) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := &Journal{db: db}
	last, ok, err := j.lastSeq()
	if err != nil {
		db.Close()
		return nil, err
	}
	if ok {
		j.next = last + 1
	}
	return j, nil
}

func (j *Journal) Close() error {
	if err := j.db.Flush(); err != nil {
		j.db.Close()
		return fmt.Errorf("flush journal: %w", err)
	}
	return j.db.Close()
}

// Append records ev under the next sequence number.
func (j *Journal) Append(ev orderbook.Event) error {
	if err := j.db.Set(keyFor(j.next), encodeEvent(ev), pebble.NoSync); err != nil {
		return fmt.Errorf("append event %d: %w", j.next, err)
	}
	j.next++
	return nil
}

// Replay calls fn for every recorded event in append order.
func (j *Journal) Replay(fn func(orderbook.Event) error) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: keyUpper,
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		ev, err := decodeEvent(iter.Value())
		if err != nil {
			seq, _ := parseKey(iter.Key())
			return fmt.Errorf("event %d: %w", seq, err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Truncate drops every recorded event. Called when the book is reset, since
// nothing before a reset can affect the state after it.
func (j *Journal) Truncate() error {
	if err := j.db.DeleteRange(keyPrefix, keyUpper, pebble.Sync); err != nil {
		return fmt.Errorf("truncate journal: %w", err)
	}
	return nil
}

// Len counts recorded events.
func (j *Journal) Len() (int, error) {
	n := 0
	err := j.Replay(func(orderbook.Event) error {
		n++
		return nil
	})
	return n, err
}

func (j *Journal) lastSeq() (uint64, bool, error) {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: keyUpper,
	})
	if err != nil {
		return 0, false, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, false, iter.Error()
	}
	seq, err := parseKey(iter.Key())
	if err != nil {
		return 0, false, err
	}
	return seq, true, nil
}

func keyFor(seq uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], seq)
	return key
}

func parseKey(key []byte) (uint64, error) {
	if len(key) != len(keyPrefix)+8 {
		return 0, fmt.Errorf("%w: key length %d", ErrCorruptRecord, len(key))
	}
	return binary.BigEndian.Uint64(key[len(keyPrefix):]), nil
}

// binary encoding:
// [order_id:8][action:1][side:1][price:8][size:4][instrument_id:4][publisher_id:2]
// [ts_event:8][ts_recv:8][ts_in_delta:4][sequence:4][flags:1]
const recordLen = 8 + 1 + 1 + 8 + 4 + 4 + 2 + 8 + 8 + 4 + 4 + 1

func encodeEvent(ev orderbook.Event) []byte {
	buf := make([]byte, recordLen)
	binary.BigEndian.PutUint64(buf[0:8], ev.OrderID)
	buf[8] = actionByte(ev.Action)
	buf[9] = sideByte(ev.Side)
	binary.BigEndian.PutUint64(buf[10:18], uint64(ev.Price))
	binary.BigEndian.PutUint32(buf[18:22], ev.Size)
	binary.BigEndian.PutUint32(buf[22:26], ev.InstrumentID)
	binary.BigEndian.PutUint16(buf[26:28], ev.PublisherID)
	binary.BigEndian.PutUint64(buf[28:36], uint64(ev.TsEvent))
	binary.BigEndian.PutUint64(buf[36:44], uint64(ev.TsRecv))
	binary.BigEndian.PutUint32(buf[44:48], uint32(ev.TsInDelta))
	binary.BigEndian.PutUint32(buf[48:52], ev.Sequence)
	buf[52] = ev.Flags
	return buf
}

func decodeEvent(b []byte) (orderbook.Event, error) {
	if len(b) != recordLen {
		return orderbook.Event{}, fmt.Errorf("%w: length %d", ErrCorruptRecord, len(b))
	}
	return orderbook.Event{
		OrderID:      binary.BigEndian.Uint64(b[0:8]),
		Action:       orderbook.Action(charOf(b[8])),
		Side:         orderbook.Side(charOf(b[9])),
		Price:        int64(binary.BigEndian.Uint64(b[10:18])),
		Size:         binary.BigEndian.Uint32(b[18:22]),
		InstrumentID: binary.BigEndian.Uint32(b[22:26]),
		PublisherID:  binary.BigEndian.Uint16(b[26:28]),
		TsEvent:      int64(binary.BigEndian.Uint64(b[28:36])),
		TsRecv:       int64(binary.BigEndian.Uint64(b[36:44])),
		TsInDelta:    int32(binary.BigEndian.Uint32(b[44:48])),
		Sequence:     binary.BigEndian.Uint32(b[48:52]),
		Flags:        b[52],
	}, nil
}

// Actions and sides are single ASCII characters on the wire.
func actionByte(a orderbook.Action) byte {
	if len(a) != 1 {
		return 0
	}
	return a[0]
}

func sideByte(s orderbook.Side) byte {
	if len(s) != 1 {
		return 0
	}
	return s[0]
}

func charOf(b byte) string {
	if b == 0 {
		return ""
	}
	return string(rune(b))
}
