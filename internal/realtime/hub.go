// Package realtime fans out per-owner collection snapshots. Writers announce
// changes over Redis pub/sub; every process holding a feed for that owner
// reloads the collection and pushes the new snapshot to its subscribers.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/candicemama-blip/thirdshelf/internal/metrics"
)

// Loader reads the full ordered collection of owner.
type Loader[T any] func(ctx context.Context, owner string) ([]T, error)

// Snapshot is one delivery. Loading is true until the first load completes.
type Snapshot[T any] struct {
	Items   []T
	Loading bool
	Err     error
}

// ErrClosed is returned when subscribing on a closed hub.
var ErrClosed = errors.New("realtime: hub closed")

const loadTimeout = 10 * time.Second

// Channel names the pub/sub channel for one collection of one owner.
func Channel(collection, owner string) string {
	return fmt.Sprintf("thirdshelf:%s:%s", collection, owner)
}

// Hub multiplexes subscribers of one collection onto a single feed per owner.
type Hub[T any] struct {
	collection string
	rdb        *redis.Client
	load       Loader[T]
	logger     *zap.Logger

	mu      sync.Mutex
	feeds   map[string]*feed[T]
	opening map[string]chan struct{}
	closed  bool
}

// NewHub constructs a hub for collection. logger may be nil.
func NewHub[T any](collection string, rdb *redis.Client, load Loader[T], logger *zap.Logger) *Hub[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub[T]{
		collection: collection,
		rdb:        rdb,
		load:       load,
		logger:     logger.Named("realtime").With(zap.String("collection", collection)),
		feeds:      make(map[string]*feed[T]),
		opening:    make(map[string]chan struct{}),
	}
}

// Collection returns the collection name.
func (h *Hub[T]) Collection() string {
	return h.collection
}

// Publish announces that owner's collection changed.
func (h *Hub[T]) Publish(ctx context.Context, owner string) error {
	if err := h.rdb.Publish(ctx, Channel(h.collection, owner), "changed").Err(); err != nil {
		return fmt.Errorf("publish %s change: %w", h.collection, err)
	}
	return nil
}

// Feeds reports how many owners currently have an open feed.
func (h *Hub[T]) Feeds() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.feeds)
}

// Subscribe attaches to owner's feed, opening it if needed. filter, when
// non-nil, narrows every snapshot delivered to this subscriber. A subscriber
// joining an already loaded feed receives the last snapshot immediately.
//
// The Redis subscription is opened without holding the hub lock; concurrent
// subscribers of the same owner wait for the one opening the feed.
func (h *Hub[T]) Subscribe(ctx context.Context, owner string, filter func(T) bool) (*Subscription[T], error) {
	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return nil, ErrClosed
		}
		if f, ok := h.feeds[owner]; ok {
			sub := h.attachLocked(f, filter)
			h.mu.Unlock()
			return sub, nil
		}
		if ready, ok := h.opening[owner]; ok {
			h.mu.Unlock()
			select {
			case <-ready:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		ready := make(chan struct{})
		h.opening[owner] = ready
		h.mu.Unlock()

		f, err := h.open(ctx, owner)

		h.mu.Lock()
		delete(h.opening, owner)
		close(ready)
		switch {
		case err != nil:
			h.mu.Unlock()
			return nil, err
		case h.closed:
			h.mu.Unlock()
			f.stop()
			return nil, ErrClosed
		}
		h.feeds[owner] = f
		sub := h.attachLocked(f, filter)
		h.mu.Unlock()
		return sub, nil
	}
}

// attachLocked adds a subscriber to f. Callers hold h.mu.
func (h *Hub[T]) attachLocked(f *feed[T], filter func(T) bool) *Subscription[T] {
	sub := &Subscription[T]{
		feed:    f,
		filter:  filter,
		updates: make(chan Snapshot[T], 1),
	}

	f.mu.Lock()
	f.subs[sub] = struct{}{}
	sub.offer(f.last)
	f.mu.Unlock()
	return sub
}

// Close stops every feed and ends all subscriptions.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for owner, f := range h.feeds {
		f.mu.Lock()
		for sub := range f.subs {
			delete(f.subs, sub)
			sub.end()
		}
		f.mu.Unlock()
		f.stop()
		delete(h.feeds, owner)
	}
}

func (h *Hub[T]) open(ctx context.Context, owner string) (*feed[T], error) {
	pubsub := h.rdb.Subscribe(ctx, Channel(h.collection, owner))
	// Wait for the subscription to be confirmed so no publish is missed
	// between the initial load and the first message.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s feed: %w", h.collection, err)
	}

	feedCtx, cancel := context.WithCancel(context.Background())
	f := &feed[T]{
		hub:    h,
		owner:  owner,
		pubsub: pubsub,
		cancel: cancel,
		done:   make(chan struct{}),
		subs:   make(map[*Subscription[T]]struct{}),
		last:   Snapshot[T]{Loading: true},
	}
	metrics.RealtimeFeeds.WithLabelValues(h.collection).Inc()
	go f.run(feedCtx)
	return f, nil
}

func (h *Hub[T]) leave(sub *Subscription[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f := sub.feed
	f.mu.Lock()
	_, member := f.subs[sub]
	delete(f.subs, sub)
	if member {
		sub.end()
	}
	empty := len(f.subs) == 0
	f.mu.Unlock()

	if member && empty && h.feeds[f.owner] == f {
		delete(h.feeds, f.owner)
		f.stop()
	}
}

type feed[T any] struct {
	hub    *Hub[T]
	owner  string
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	subs map[*Subscription[T]]struct{}
	last Snapshot[T]
}

func (f *feed[T]) run(ctx context.Context) {
	defer close(f.done)
	defer f.pubsub.Close()

	f.reload(ctx)

	ch := f.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			// Coalesce a burst of announcements into one reload.
			drain(ch)
			f.reload(ctx)
		}
	}
}

func drain(ch <-chan *redis.Message) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func (f *feed[T]) reload(ctx context.Context) {
	loadCtx, cancel := context.WithTimeout(ctx, loadTimeout)
	items, err := f.hub.load(loadCtx, f.owner)
	cancel()
	if ctx.Err() != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.hub.logger.Warn("snapshot load failed", zap.String("owner", f.owner), zap.Error(err))
		f.last = Snapshot[T]{Items: f.last.Items, Err: err}
	} else {
		f.last = Snapshot[T]{Items: items}
	}
	for sub := range f.subs {
		sub.offer(f.last)
	}
}

func (f *feed[T]) stop() {
	f.cancel()
	metrics.RealtimeFeeds.WithLabelValues(f.hub.collection).Dec()
}

// Subscription receives snapshots for one owner. Only the newest undelivered
// snapshot is kept.
type Subscription[T any] struct {
	feed    *feed[T]
	filter  func(T) bool
	updates chan Snapshot[T]
	once    sync.Once
}

// Updates returns the snapshot channel. It is closed by Close.
func (s *Subscription[T]) Updates() <-chan Snapshot[T] {
	return s.updates
}

// Close detaches from the feed. Closing the last subscriber stops the feed.
// Safe to call multiple times.
func (s *Subscription[T]) Close() error {
	s.once.Do(func() { s.feed.hub.leave(s) })
	return nil
}

// offer replaces any pending snapshot. Callers hold the feed lock.
func (s *Subscription[T]) offer(snap Snapshot[T]) {
	snap = s.apply(snap)
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snap:
	default:
	}
}

// end drops any pending snapshot and closes the channel. Callers hold the
// feed lock.
func (s *Subscription[T]) end() {
	select {
	case <-s.updates:
	default:
	}
	close(s.updates)
}

func (s *Subscription[T]) apply(snap Snapshot[T]) Snapshot[T] {
	if s.filter == nil || snap.Items == nil {
		return snap
	}
	items := make([]T, 0, len(snap.Items))
	for _, item := range snap.Items {
		if s.filter(item) {
			items = append(items, item)
		}
	}
	snap.Items = items
	return snap
}
