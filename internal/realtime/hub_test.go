package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candicemama-blip/thirdshelf/internal/testutil"
)

type memStore struct {
	mu    sync.Mutex
	items map[string][]string
	fail  error
	loads atomic.Int32
}

func (m *memStore) failWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *memStore) set(owner string, items ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[owner] = items
}

func (m *memStore) load(_ context.Context, owner string) ([]string, error) {
	m.loads.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	return append([]string(nil), m.items[owner]...), nil
}

func newTestHub(t *testing.T) (*Hub[string], *memStore) {
	t.Helper()
	rdb, _ := testutil.NewRedis(t)
	store := &memStore{items: map[string][]string{}}
	hub := NewHub[string]("books", rdb, store.load, nil)
	t.Cleanup(hub.Close)
	return hub, store
}

// next returns the next loaded snapshot, skipping loading placeholders.
func next(t *testing.T, sub *Subscription[string]) Snapshot[string] {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-sub.Updates():
			require.True(t, ok, "subscription closed")
			if snap.Loading {
				continue
			}
			return snap
		case <-deadline:
			t.Fatalf("no snapshot delivered")
			return Snapshot[string]{}
		}
	}
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "thirdshelf:vocab:u1", Channel("vocab", "u1"))
}

func TestHub_InitialSnapshotAndPublish(t *testing.T) {
	hub, store := newTestHub(t)
	store.set("alice", "b2", "b1")

	sub, err := hub.Subscribe(context.Background(), "alice", nil)
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, []string{"b2", "b1"}, next(t, sub).Items)

	store.set("alice", "b3", "b2", "b1")
	require.NoError(t, hub.Publish(context.Background(), "alice"))
	assert.Equal(t, []string{"b3", "b2", "b1"}, next(t, sub).Items)
}

func TestHub_SharesOneFeedPerOwner(t *testing.T) {
	hub, store := newTestHub(t)
	store.set("alice", "w1", "w2")

	first, err := hub.Subscribe(context.Background(), "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"w1", "w2"}, next(t, first).Items)

	filtered, err := hub.Subscribe(context.Background(), "alice", func(s string) bool { return s == "w2" })
	require.NoError(t, err)
	assert.Equal(t, []string{"w2"}, next(t, filtered).Items)

	assert.Equal(t, 1, hub.Feeds())
	assert.Equal(t, int32(1), store.loads.Load(), "second subscriber must reuse the loaded snapshot")

	require.NoError(t, first.Close())
	assert.Equal(t, 1, hub.Feeds())
	require.NoError(t, filtered.Close())
	assert.Equal(t, 0, hub.Feeds())

	_, ok := <-filtered.Updates()
	assert.False(t, ok, "updates channel should be closed")
}

func TestHub_OwnersAreIsolated(t *testing.T) {
	hub, store := newTestHub(t)
	store.set("alice", "a")
	store.set("bob", "b")

	alice, err := hub.Subscribe(context.Background(), "alice", nil)
	require.NoError(t, err)
	defer alice.Close()
	bob, err := hub.Subscribe(context.Background(), "bob", nil)
	require.NoError(t, err)
	defer bob.Close()

	assert.Equal(t, []string{"a"}, next(t, alice).Items)
	assert.Equal(t, []string{"b"}, next(t, bob).Items)

	store.set("bob", "b", "b2")
	require.NoError(t, hub.Publish(context.Background(), "bob"))
	assert.Equal(t, []string{"b", "b2"}, next(t, bob).Items)

	select {
	case snap := <-alice.Updates():
		t.Fatalf("alice received bob's change: %+v", snap)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_LatestWins(t *testing.T) {
	hub, store := newTestHub(t)
	store.set("alice", "v0")

	sub, err := hub.Subscribe(context.Background(), "alice", nil)
	require.NoError(t, err)
	defer sub.Close()
	next(t, sub)

	for _, v := range []string{"v1", "v2", "v3"} {
		store.set("alice", v)
		require.NoError(t, hub.Publish(context.Background(), "alice"))
	}

	assert.Eventually(t, func() bool {
		select {
		case snap := <-sub.Updates():
			return len(snap.Items) == 1 && snap.Items[0] == "v3"
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_CloseIsIdempotent(t *testing.T) {
	hub, _ := newTestHub(t)
	sub, err := hub.Subscribe(context.Background(), "alice", nil)
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, hub.Feeds())

	hub.Close()
	_, err = hub.Subscribe(context.Background(), "alice", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHub_LoadFailureKeepsLastItems(t *testing.T) {
	hub, store := newTestHub(t)
	store.set("alice", "b1")

	sub, err := hub.Subscribe(context.Background(), "alice", nil)
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, []string{"b1"}, next(t, sub).Items)

	boom := errors.New("connection refused")
	store.failWith(boom)
	require.NoError(t, hub.Publish(context.Background(), "alice"))
	snap := next(t, sub)
	assert.ErrorIs(t, snap.Err, boom)
	assert.Equal(t, []string{"b1"}, snap.Items)

	store.failWith(nil)
	store.set("alice", "b2", "b1")
	require.NoError(t, hub.Publish(context.Background(), "alice"))
	snap = next(t, sub)
	assert.NoError(t, snap.Err)
	assert.Equal(t, []string{"b2", "b1"}, snap.Items)
}

func TestHub_ConcurrentSubscribeOpensOneFeedPerOwner(t *testing.T) {
	hub, store := newTestHub(t)
	owners := []string{"alice", "bob", "carol", "dave"}
	for _, o := range owners {
		store.set(o, o+"-1")
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		subs []*Subscription[string]
	)
	for i := 0; i < 20; i++ {
		owner := owners[i%len(owners)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := hub.Subscribe(context.Background(), owner, nil)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			subs = append(subs, sub)
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, subs, 20)
	assert.Equal(t, len(owners), hub.Feeds())

	for _, sub := range subs {
		snap := next(t, sub)
		require.Len(t, snap.Items, 1)
		assert.Equal(t, fmt.Sprintf("%s-1", sub.feed.owner), snap.Items[0])
	}
	for _, sub := range subs {
		require.NoError(t, sub.Close())
	}
	assert.Equal(t, 0, hub.Feeds())
}

func TestHub_SubscribeHonoursCancelledContext(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := hub.Subscribe(ctx, "alice", nil)
	require.Error(t, err)
	assert.Equal(t, 0, hub.Feeds())

	sub, err := hub.Subscribe(context.Background(), "alice", nil)
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, 1, hub.Feeds())
}
