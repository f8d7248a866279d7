// Package amqpsink forwards selected bus events to a durable RabbitMQ queue
// as JSON.
package amqpsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"clipbot/internal/eventbus"
	"clipbot/internal/runtime/supervisor"
	logx "clipbot/pkg/logx"
)

type Config struct {
	URL    string
	Queue  string
	Buffer int
	Types  []string
}

const (
	defaultQueue  = "clipbot.events"
	defaultBuffer = 64
)

var ErrNoURL = errors.New("amqpsink: url is empty")

// channel is the slice of *amqp.Channel the sink publishes with.
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// dialFunc opens a connection and a channel with the queue declared.
type dialFunc func(url, queue string) (channel, func() error, error)

func dialAMQP(url, queue string) (channel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare queue %q: %w", queue, err)
	}
	return ch, conn.Close, nil
}

type Sink struct {
	cfg  Config
	bus  eventbus.Bus
	log  logx.Logger
	dial dialFunc

	mu        sync.Mutex
	sup       *supervisor.Supervisor
	published uint64
	pending   *eventbus.Event
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	if strings.TrimSpace(cfg.Queue) == "" {
		cfg.Queue = defaultQueue
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if len(cfg.Types) == 0 {
		cfg.Types = []string{eventbus.TypeBroadcastFinished}
	}
	return &Sink{cfg: cfg, bus: bus, log: log, dial: dialAMQP}
}

// Start subscribes to the bus and runs the publisher under a restart loop.
// Events queue up in the subscription while the broker is unreachable and
// are dropped once the buffer is full.
func (s *Sink) Start(ctx context.Context) error {
	if s.cfg.URL == "" {
		return ErrNoURL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	events, unsubscribe := s.bus.Subscribe(s.cfg.Buffer, s.cfg.Types...)
	sup := supervisor.NewSupervisor(ctx, supervisor.WithLogger(s.log))
	sup.GoRestart("amqpsink.publish", func(ctx context.Context) error {
		return s.run(ctx, events)
	}, supervisor.WithRestartBackoff(time.Second, 30*time.Second), supervisor.WithStopOnCleanExit(true))
	sup.Go0("amqpsink.unsubscribe", func(ctx context.Context) {
		<-ctx.Done()
		unsubscribe()
	})
	s.sup = sup
	s.log.Info("amqp sink started", logx.String("queue", s.cfg.Queue), logx.Strings("types", s.cfg.Types))
	return nil
}

func (s *Sink) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("amqp sink stopped", logx.Uint64("published", s.Published()))
	return err
}

// Published reports how many events reached the broker.
func (s *Sink) Published() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published
}

func (s *Sink) Supervisor() *supervisor.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// run publishes until ctx ends (nil) or the connection breaks (error, which
// triggers a reconnect). An event whose publish failed is retried first on
// the next connection.
func (s *Sink) run(ctx context.Context, events <-chan eventbus.Event) error {
	ch, closeConn, err := s.dial(s.cfg.URL, s.cfg.Queue)
	if err != nil {
		s.log.Warn("amqp connect failed", logx.Err(err))
		return err
	}
	defer func() {
		_ = ch.Close()
		_ = closeConn()
	}()
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	s.log.Debug("amqp connected", logx.String("queue", s.cfg.Queue))

	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	if pending != nil {
		if err := s.publish(ch, *pending); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case aerr, ok := <-closed:
			if !ok || aerr == nil {
				return errors.New("amqp channel closed")
			}
			return fmt.Errorf("amqp channel closed: %s", aerr.Reason)
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.publish(ch, e); err != nil {
				return err
			}
		}
	}
}

func (s *Sink) publish(ch channel, e eventbus.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		// Not retryable.
		s.log.Error("encode event failed", logx.String("type", e.Type), logx.Err(err))
		return nil
	}
	err = ch.Publish("", s.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.Time,
		Type:         e.Type,
		Body:         body,
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.pending = &e
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	s.published++
	return nil
}
