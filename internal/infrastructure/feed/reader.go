package feed

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"mbobook/internal/domain/orderbook"
)

const maxLineSize = 1 << 20

var ErrMalformedLine = errors.New("malformed feed line")

// Reader decodes a JSON Lines MBO feed, one event per line.
type Reader struct {
	sc     *bufio.Scanner
	line   int
	closer io.Closer
}

// Open opens a feed file for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	r := NewReader(f)
	r.closer = f
	return r, nil
}

func NewReader(src io.Reader) *Reader {
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{sc: sc}
}

// Next returns the next event. It returns io.EOF once the feed is exhausted.
// Blank lines are skipped.
func (r *Reader) Next() (orderbook.Event, error) {
	for r.sc.Scan() {
		r.line++
		raw := bytes.TrimSpace(r.sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		ev, err := Decode(raw)
		if err != nil {
			return orderbook.Event{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return ev, nil
	}
	if err := r.sc.Err(); err != nil {
		return orderbook.Event{}, fmt.Errorf("read feed line %d: %w", r.line+1, err)
	}
	return orderbook.Event{}, io.EOF
}

// Line is the number of the last line consumed.
func (r *Reader) Line() int { return r.line }

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Decode parses one feed record. An action is mandatory; side is left for the
// book to validate.
func Decode(raw []byte) (orderbook.Event, error) {
	var ev orderbook.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return orderbook.Event{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if ev.Action == "" {
		return orderbook.Event{}, fmt.Errorf("%w: missing action", ErrMalformedLine)
	}
	return ev, nil
}

// Encode renders ev as one feed line without the trailing newline.
func Encode(ev orderbook.Event) ([]byte, error) {
	return json.Marshal(ev)
}
