package progress

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// ErrStreamTimeout closes a subscription that saw no events for the idle
// timeout. The run itself keeps going.
var ErrStreamTimeout = errors.New("progress stream timed out")

// ErrSubscriberLagged closes a subscription that let its buffer fill up.
// Publishing never waits on a slow subscriber.
var ErrSubscriberLagged = errors.New("progress subscriber fell behind")

const (
	DefaultPingInterval = 15 * time.Second
	DefaultIdleTimeout  = 10 * time.Minute

	connectedMessage = "Connection established"
	subscriberBuffer = 64
)

// Hub fans run events out to whoever is subscribed to that run right now.
// There's no history: a subscriber only sees events published after it
// attached.
type Hub struct {
	mu   sync.Mutex
	subs map[RunKey]map[*Subscription]struct{}

	pingInterval time.Duration
	idleTimeout  time.Duration
}

func NewHub(pingInterval, idleTimeout time.Duration) *Hub {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Hub{
		subs:         map[RunKey]map[*Subscription]struct{}{},
		pingInterval: pingInterval,
		idleTimeout:  idleTimeout,
	}
}

// Publish delivers ev to every current subscriber of key in publish order. A
// subscriber whose buffer is full is detached instead of waited on, so a
// stalled client can't hold up the run.
func (h *Hub) Publish(key RunKey, ev Event) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs[key]))
	for s := range h.subs[key] {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		select {
		case s.events <- ev:
		case <-s.done:
		default:
			s.lagged.Store(true)
			s.Close()
		}
	}
}

// Emitter returns a function that publishes to key, for handing to a run.
func (h *Hub) Emitter(key RunKey) func(Event) {
	return func(ev Event) {
		h.Publish(key, ev)
	}
}

// Subscribers returns how many subscriptions are attached to key.
func (h *Hub) Subscribers(key RunKey) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key])
}

func (h *Hub) Subscribe(key RunKey) *Subscription {
	s := &Subscription{
		key:    key,
		hub:    h,
		events: make(chan Event, subscriberBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = map[*Subscription]struct{}{}
	}
	h.subs[key][s] = struct{}{}
	h.mu.Unlock()

	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[s.key], s)
	if len(h.subs[s.key]) == 0 {
		delete(h.subs, s.key)
	}
}

type Subscription struct {
	key    RunKey
	hub    *Hub
	events chan Event
	done   chan struct{}
	once   sync.Once
	lagged atomic.Bool
}

func (s *Subscription) Key() RunKey {
	return s.key
}

// Close detaches the subscription. It's safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.hub.remove(s)
	})
}

// Stream calls send for every event until the run's terminal event has been
// sent, ctx is done, send fails, the subscriber falls behind, or the idle
// timeout passes without an event.
// The first frame is always a ping, and pings repeat on the hub's interval.
// Pings don't count as activity for the idle timeout.
func (s *Subscription) Stream(ctx context.Context, send func(Event) error) error {
	defer s.Close()

	if err := send(Ping(connectedMessage)); err != nil {
		return errors.WithStack(err)
	}

	ping := time.NewTicker(s.hub.pingInterval)
	defer ping.Stop()
	idle := time.NewTimer(s.hub.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-s.done:
			if s.lagged.Load() {
				_ = send(Event{Type: EventError, Error: ErrSubscriberLagged.Error()})
				return ErrSubscriberLagged
			}
			return nil
		case ev := <-s.events:
			if err := send(ev); err != nil {
				return errors.WithStack(err)
			}
			if ev.Terminal() {
				return nil
			}
			idle.Reset(s.hub.idleTimeout)
		case <-ping.C:
			if err := send(Ping("")); err != nil {
				return errors.WithStack(err)
			}
		case <-idle.C:
			_ = send(Event{Type: EventError, Error: ErrStreamTimeout.Error()})
			return ErrStreamTimeout
		}
	}
}
