package amqpsink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"

	"clipbot/internal/eventbus"
	logx "clipbot/pkg/logx"
)

type fakeChannel struct {
	mu      sync.Mutex
	msgs    []amqp.Publishing
	keys    []string
	fail    error
	closed  chan *amqp.Error
	isClose bool
}

func (f *fakeChannel) Publish(_, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.msgs = append(f.msgs, msg)
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	f.mu.Lock()
	f.closed = c
	f.mu.Unlock()
	return c
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.isClose = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestSinkPublishesFinishedEvents(t *testing.T) {
	bus := eventbus.New()
	ch := &fakeChannel{}
	s := New(Config{URL: "amqp://test"}, bus, logx.Nop())
	s.dial = func(url, queue string) (channel, func() error, error) {
		if url != "amqp://test" || queue != defaultQueue {
			t.Errorf("dial(%q, %q)", url, queue)
		}
		return ch, func() error { return nil }, nil
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for s.Published() == 0 {
		// The subscription may not be registered with the publisher loop yet;
		// keep publishing until one lands.
		bus.Publish(eventbus.Event{Type: eventbus.TypeBroadcastStarted})
		bus.Publish(eventbus.Event{Type: eventbus.TypeBroadcastFinished, Data: map[string]int{"total": 3}})
		if time.Now().After(deadline) {
			t.Fatalf("nothing published")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ch.mu.Lock()
	msg, key := ch.msgs[0], ch.keys[0]
	ch.mu.Unlock()
	if key != defaultQueue || msg.ContentType != "application/json" || msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("key=%q msg=%+v", key, msg)
	}
	var got eventbus.Event
	if err := json.Unmarshal(msg.Body, &got); err != nil {
		t.Fatalf("body: %v", err)
	}
	if got.Type != eventbus.TypeBroadcastFinished {
		t.Fatalf("started events must be filtered out, got %q", got.Type)
	}
}

func TestRunRetriesPendingAfterReconnect(t *testing.T) {
	s := New(Config{URL: "amqp://test"}, eventbus.New(), logx.Nop())
	broken := &fakeChannel{fail: errors.New("connection reset")}
	healthy := &fakeChannel{}
	conns := []*fakeChannel{broken, healthy}
	s.dial = func(string, string) (channel, func() error, error) {
		c := conns[0]
		conns = conns[1:]
		return c, func() error { return nil }, nil
	}

	events := make(chan eventbus.Event, 1)
	events <- eventbus.Event{Type: eventbus.TypeBroadcastFinished, Time: time.Unix(1, 0)}
	if err := s.run(context.Background(), events); err == nil {
		t.Fatalf("publish failure should end the run with an error")
	}
	if !broken.isClose {
		t.Fatalf("broken channel not closed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.run(ctx, events) }()

	deadline := time.Now().Add(2 * time.Second)
	for healthy.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("pending event not republished")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("clean stop returned %v", err)
	}
	if s.Published() != 1 {
		t.Fatalf("published=%d", s.Published())
	}
}

func TestRunEndsOnChannelClose(t *testing.T) {
	s := New(Config{URL: "amqp://test"}, eventbus.New(), logx.Nop())
	ch := &fakeChannel{}
	s.dial = func(string, string) (channel, func() error, error) {
		return ch, func() error { return nil }, nil
	}
	done := make(chan error, 1)
	go func() { done <- s.run(context.Background(), make(chan eventbus.Event)) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		ch.mu.Lock()
		c := ch.closed
		ch.mu.Unlock()
		if c != nil {
			c <- &amqp.Error{Code: 320, Reason: "CONNECTION_FORCED"}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never registered NotifyClose")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := <-done; err == nil {
		t.Fatalf("broker close should surface as an error")
	}
}

func TestStartWithoutURL(t *testing.T) {
	s := New(Config{}, eventbus.New(), logx.Nop())
	if err := s.Start(context.Background()); !errors.Is(err, ErrNoURL) {
		t.Fatalf("err=%v", err)
	}
}
