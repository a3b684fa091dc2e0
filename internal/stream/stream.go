// Package stream fans committed chain events out to live subscribers.
package stream

import (
	"context"
	"sync"
	"time"

	"defitown.org/internal/chain"
	"defitown.org/internal/obs"
)

// Message is one chain event as delivered to subscribers.
type Message struct {
	TxID     string         `json:"tx_id"`
	From     chain.Address  `json:"from"`
	LogIndex int            `json:"log_index"`
	Name     string         `json:"name"`
	Contract chain.Address  `json:"contract"`
	Fields   map[string]any `json:"fields,omitempty"`
	At       time.Time      `json:"at"`
}

// Filter selects messages; nil accepts all.
type Filter func(Message) bool

// ByAddress accepts messages whose contract, sender, or any address-valued
// field equals addr.
func ByAddress(addr chain.Address) Filter {
	return func(m Message) bool {
		if m.Contract == addr || m.From == addr {
			return true
		}
		for _, v := range m.Fields {
			if s, ok := v.(string); ok && chain.SameAddress(s, addr) {
				return true
			}
		}
		return false
	}
}

type subscriber struct {
	ch     chan Message
	filter Filter
}

// Stream fan-outs chain events to all active subscribers (SSE clients). It
// is a chain.Sink.
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	buffer  int
	dropped int
}

func New() *Stream {
	return &Stream{subs: make(map[int]subscriber), buffer: 64}
}

// Subscribe registers a subscriber and returns a channel which will receive
// messages. The channel is closed when ctx ends.
func (s *Stream) Subscribe(ctx context.Context, filter Filter) <-chan Message {
	ch := make(chan Message, s.buffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{ch: ch, filter: filter}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped counts messages discarded because a subscriber was full.
func (s *Stream) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// Publish fans out every event of r.
func (s *Stream) Publish(_ context.Context, r chain.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ev := range r.Events {
		m := Message{
			TxID:     r.TxID,
			From:     r.From,
			LogIndex: i,
			Name:     ev.Name,
			Contract: ev.Address,
			Fields:   ev.Fields,
			At:       r.At,
		}
		for _, sub := range s.subs {
			if sub.filter != nil && !sub.filter(m) {
				continue
			}
			select {
			case sub.ch <- m:
			default:
				// Slow subscribers lose messages rather than block commits.
				s.dropped++
				obs.StreamDropped.Inc()
			}
		}
	}
	return nil
}
