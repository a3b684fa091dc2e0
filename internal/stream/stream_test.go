package stream

import (
	"context"
	"strings"
	"testing"
	"time"

	"defitown.org/internal/chain"
)

var (
	registryAddr = chain.SystemAddress("registry")
	alice        = chain.HexToAddress("0x0000000000000000000000000000000000000a11")
)

func receipt(events ...chain.Event) chain.Receipt {
	return chain.Receipt{TxID: "tx-1", From: alice, Events: events, At: time.Unix(100, 0)}
}

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestPublishFansOut(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := s.Subscribe(ctx, nil)
	b := s.Subscribe(ctx, nil)

	err := s.Publish(ctx, receipt(
		chain.Event{Name: "Paused", Address: registryAddr},
		chain.Event{Name: "Unpaused", Address: registryAddr},
	))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for _, ch := range []<-chan Message{a, b} {
		first, second := recv(t, ch), recv(t, ch)
		if first.Name != "Paused" || second.Name != "Unpaused" {
			t.Fatalf("unexpected order: %s, %s", first.Name, second.Name)
		}
		if second.LogIndex != 1 || second.TxID != "tx-1" || second.Contract != registryAddr {
			t.Fatalf("unexpected message: %+v", second)
		}
	}
}

func TestFilterByAddress(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bob := chain.HexToAddress("0x0000000000000000000000000000000000000b0b")
	ch := s.Subscribe(ctx, ByAddress(bob))

	err := s.Publish(ctx, receipt(
		chain.Event{Name: "Paused", Address: registryAddr},
		chain.Event{Name: "WalletCreated", Address: registryAddr, Fields: map[string]any{"owner": strings.ToLower(bob.Hex())}},
	))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if m := recv(t, ch); m.Name != "WalletCreated" {
		t.Fatalf("unexpected message: %+v", m)
	}
	select {
	case m := <-ch:
		t.Fatalf("unexpected extra message: %+v", m)
	default:
	}
}

func TestCancelUnsubscribes(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx, nil)
	cancel()
	for range ch {
	}
	deadline := time.Now().Add(time.Second)
	for s.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber was not removed")
		}
		time.Sleep(time.Millisecond)
	}
	if err := s.Publish(context.Background(), receipt(chain.Event{Name: "Paused", Address: registryAddr})); err != nil {
		t.Fatalf("Publish after unsubscribe: %v", err)
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	s := New()
	s.buffer = 1
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx, nil)

	ev := chain.Event{Name: "Paused", Address: registryAddr}
	if err := s.Publish(ctx, receipt(ev, ev, ev)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if s.Dropped() != 2 {
		t.Fatalf("expected 2 dropped, got %d", s.Dropped())
	}
	recv(t, ch)
}
