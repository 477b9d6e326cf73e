package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/candicemama-blip/thirdshelf/internal/domain"
	"github.com/candicemama-blip/thirdshelf/internal/session"
)

const subscribeTimeout = 5 * time.Second

// Update kinds delivered by a Binder.
const (
	KindBooks = "books"
	KindVocab = "vocab"
	KindFocus = "focus"
)

// Update is one snapshot forwarded to a connection.
type Update struct {
	Kind    string
	BookID  string
	Books   []domain.Book
	Words   []domain.VocabWord
	Loading bool
	Err     error
}

// Sink receives updates. It is called from the Binder's pump goroutines and
// from the goroutine that changes identity.
type Sink func(Update)

// Binder keeps a connection's subscriptions in step with its identity cell.
type Binder struct {
	books  *Hub[domain.Book]
	vocab  *Hub[domain.VocabWord]
	sink   Sink
	logger *zap.Logger

	mu      sync.Mutex
	owner   string
	streams []*stream
	focus   *stream
	focusID string
	unwatch func()
	closed  bool
}

// NewBinder subscribes according to the identity in cell and follows every
// identity change until Close.
func NewBinder(cell *session.Cell, books *Hub[domain.Book], vocab *Hub[domain.VocabWord], sink Sink, logger *zap.Logger) *Binder {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Binder{books: books, vocab: vocab, sink: sink, logger: logger.Named("binder")}
	unwatch := cell.Watch(b.rebind)
	b.mu.Lock()
	b.unwatch = unwatch
	b.mu.Unlock()
	return b
}

func (b *Binder) rebind(user *domain.User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.teardownLocked()

	if user == nil {
		b.owner = ""
		b.sink(Update{Kind: KindBooks, Books: []domain.Book{}})
		b.sink(Update{Kind: KindVocab, Words: []domain.VocabWord{}})
		return
	}
	b.owner = user.ID

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()
	bookSub, err := b.books.Subscribe(ctx, user.ID, nil)
	if err != nil {
		b.logger.Warn("books subscribe failed", zap.Error(err))
		b.sink(Update{Kind: KindBooks, Err: err})
	} else {
		b.streams = append(b.streams, pumpBooks(bookSub, b.sink))
	}

	vocabSub, err := b.vocab.Subscribe(ctx, user.ID, nil)
	if err != nil {
		b.logger.Warn("vocab subscribe failed", zap.Error(err))
		b.sink(Update{Kind: KindVocab, Err: err})
	} else {
		b.streams = append(b.streams, pumpWords(vocabSub, KindVocab, "", b.sink))
	}
}

// Focus opens the per-book vocabulary view, replacing any previous focus.
func (b *Binder) Focus(ctx context.Context, bookID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	if b.focus != nil {
		b.focus.stop()
		b.focus = nil
		b.focusID = ""
	}
	if b.owner == "" {
		b.sink(Update{Kind: KindFocus, BookID: bookID, Words: []domain.VocabWord{}})
		return nil
	}

	sub, err := b.vocab.Subscribe(ctx, b.owner, func(w domain.VocabWord) bool { return w.BookRef == bookID })
	if err != nil {
		return err
	}
	b.focus = pumpWords(sub, KindFocus, bookID, b.sink)
	b.focusID = bookID
	return nil
}

// Unfocus closes the per-book view if bookID is focused.
func (b *Binder) Unfocus(bookID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.focus != nil && b.focusID == bookID {
		b.focus.stop()
		b.focus = nil
		b.focusID = ""
	}
}

// Owner returns the id the binder is subscribed for, or "".
func (b *Binder) Owner() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.owner
}

// Close stops following the cell and ends every subscription. No update is
// delivered after Close returns.
func (b *Binder) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	unwatch := b.unwatch
	b.teardownLocked()
	b.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
}

func (b *Binder) teardownLocked() {
	for _, s := range b.streams {
		s.stop()
	}
	b.streams = nil
	if b.focus != nil {
		b.focus.stop()
		b.focus = nil
		b.focusID = ""
	}
}

type stream struct {
	close func() error
	done  chan struct{}
}

// stop closes the subscription and waits until its pump has returned.
func (s *stream) stop() {
	_ = s.close()
	<-s.done
}

func pumpBooks(sub *Subscription[domain.Book], sink Sink) *stream {
	s := &stream{close: sub.Close, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		for snap := range sub.Updates() {
			sink(Update{Kind: KindBooks, Books: snap.Items, Loading: snap.Loading, Err: snap.Err})
		}
	}()
	return s
}

func pumpWords(sub *Subscription[domain.VocabWord], kind, bookID string, sink Sink) *stream {
	s := &stream{close: sub.Close, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		for snap := range sub.Updates() {
			sink(Update{Kind: kind, BookID: bookID, Words: snap.Items, Loading: snap.Loading, Err: snap.Err})
		}
	}()
	return s
}
