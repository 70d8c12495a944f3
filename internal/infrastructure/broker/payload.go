package broker

import (
	"encoding/json"
	"errors"
	"fmt"

	"mbobook/internal/domain/orderbook"
	"mbobook/internal/infrastructure/feed"
)

var ErrEmptyPayload = errors.New("payload carries no events")

// BaseMessage is the body published on the events exchange: either a single
// event or an ordered batch.
type BaseMessage struct {
	Event  *orderbook.Event  `json:"event,omitempty"`
	Events []orderbook.Event `json:"events,omitempty"`
}

// decodeEvents accepts a BaseMessage envelope or a bare feed line.
func decodeEvents(body []byte) ([]orderbook.Event, error) {
	var payload BaseMessage
	if err := json.Unmarshal(body, &payload); err == nil && (payload.Event != nil || len(payload.Events) > 0) {
		if payload.Event != nil {
			return append([]orderbook.Event{*payload.Event}, payload.Events...), nil
		}
		return payload.Events, nil
	}
	ev, err := feed.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyPayload, err)
	}
	return []orderbook.Event{ev}, nil
}
