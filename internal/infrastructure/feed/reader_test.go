package feed

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mbobook/internal/domain/orderbook"
)

func TestReaderSkipsBlankLines(t *testing.T) {
	src := strings.Join([]string{
		`{"order_id":1,"action":"A","side":"B","price":100000,"size":5,"ts_in_delta":1500}`,
		``,
		`   `,
		`{"order_id":1,"action":"C","side":"B","price":100000,"size":2}`,
		`{"action":"R"}`,
	}, "\n")

	r := NewReader(strings.NewReader(src))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, orderbook.Event{OrderID: 1, Action: orderbook.ActionAdd, Side: orderbook.SideBid, Price: 100000, Size: 5, TsInDelta: 1500}, ev)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, orderbook.ActionCancel, ev.Action)
	assert.Equal(t, 4, r.Line())

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, orderbook.ActionReset, ev.Action)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderReportsMalformedLine(t *testing.T) {
	src := "{\"order_id\":1,\"action\":\"A\",\"side\":\"B\",\"price\":1,\"size\":1}\n{not json}\n"
	r := NewReader(strings.NewReader(src))

	_, err := r.Next()
	require.NoError(t, err)

	_, err = r.Next()
	assert.ErrorIs(t, err, ErrMalformedLine)
	assert.ErrorContains(t, err, "line 2")
}

func TestDecodeRequiresAction(t *testing.T) {
	_, err := Decode([]byte(`{"order_id":1,"side":"B"}`))
	assert.ErrorIs(t, err, ErrMalformedLine)
}

func TestOpenAndEncodeRoundTrip(t *testing.T) {
	ev := orderbook.Event{OrderID: 7, Action: orderbook.ActionModify, Side: orderbook.SideAsk, Price: 101000, Size: 3, Sequence: 9}
	line, err := Encode(ev)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "feed.jsonl")
	require.NoError(t, os.WriteFile(path, append(line, '\n'), 0o600))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	_, err = Open(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}
