// Package store defines the persisted form of committed chain events shared
// by the PostgreSQL and SQLite event stores.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"defitown.org/internal/chain"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

var ErrSchemaMissing = errors.New("event store schema missing; run migrations")

// Event is one persisted chain event. Sequence is assigned by the store and
// increases in commit order.
type Event struct {
	Sequence uint64         `json:"sequence"`
	TxID     string         `json:"tx_id"`
	LogIndex int            `json:"log_index"`
	From     chain.Address  `json:"from"`
	Contract chain.Address  `json:"contract"`
	Name     string         `json:"name"`
	Fields   map[string]any `json:"fields,omitempty"`
	At       time.Time      `json:"at"`
}

// Query filters a page of events. Zero values match everything.
type Query struct {
	Contract chain.Address
	Name     string
	TxID     string
	After    uint64
	Limit    int
}

// Normalized clamps the page size the way every store does.
func (q Query) Normalized() Query {
	if q.Limit <= 0 || q.Limit > MaxLimit {
		q.Limit = DefaultLimit
	}
	return q
}

// Reader lists persisted events.
type Reader interface {
	Events(ctx context.Context, q Query) ([]Event, error)
	Ping(ctx context.Context) error
}

// Flatten turns a receipt into rows.
func Flatten(r chain.Receipt) []Event {
	out := make([]Event, 0, len(r.Events))
	for i, ev := range r.Events {
		out = append(out, Event{
			TxID:     r.TxID,
			LogIndex: i,
			From:     r.From,
			Contract: ev.Address,
			Name:     ev.Name,
			Fields:   ev.Fields,
			At:       r.At.UTC(),
		})
	}
	return out
}

// EncodeFields renders event fields as the JSON stored in the fields column.
func EncodeFields(fields map[string]any) ([]byte, error) {
	if fields == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode event fields: %w", err)
	}
	return b, nil
}

func DecodeFields(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode event fields: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}
