package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candicemama-blip/thirdshelf/internal/domain"
	"github.com/candicemama-blip/thirdshelf/internal/session"
	"github.com/candicemama-blip/thirdshelf/internal/testutil"
)

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) sink(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) last(kind string) (Update, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.updates) - 1; i >= 0; i-- {
		if r.updates[i].Kind == kind {
			return r.updates[i], true
		}
	}
	return Update{}, false
}

func (r *recorder) waitFor(t *testing.T, kind string, ok func(Update) bool) Update {
	t.Helper()
	var got Update
	require.Eventually(t, func() bool {
		u, found := r.last(kind)
		if !found || u.Loading || !ok(u) {
			return false
		}
		got = u
		return true
	}, 2*time.Second, 10*time.Millisecond)
	return got
}

type binderEnv struct {
	books     *Hub[domain.Book]
	vocab     *Hub[domain.VocabWord]
	mu        sync.Mutex
	bookRows  map[string][]domain.Book
	vocabRows map[string][]domain.VocabWord
}

func newBinderEnv(t *testing.T) *binderEnv {
	t.Helper()
	rdb, _ := testutil.NewRedis(t)
	env := &binderEnv{bookRows: map[string][]domain.Book{}, vocabRows: map[string][]domain.VocabWord{}}
	env.books = NewHub[domain.Book]("books", rdb, func(_ context.Context, owner string) ([]domain.Book, error) {
		env.mu.Lock()
		defer env.mu.Unlock()
		return append([]domain.Book{}, env.bookRows[owner]...), nil
	}, nil)
	env.vocab = NewHub[domain.VocabWord]("vocab", rdb, func(_ context.Context, owner string) ([]domain.VocabWord, error) {
		env.mu.Lock()
		defer env.mu.Unlock()
		return append([]domain.VocabWord{}, env.vocabRows[owner]...), nil
	}, nil)
	t.Cleanup(env.books.Close)
	t.Cleanup(env.vocab.Close)
	return env
}

func book(id, title string) domain.Book {
	return domain.Book{BookMeta: domain.BookMeta{ID: id, Title: title}}
}

func TestBinder_SignedOutYieldsEmptySnapshots(t *testing.T) {
	env := newBinderEnv(t)
	rec := &recorder{}
	b := NewBinder(session.NewCell(nil), env.books, env.vocab, rec.sink, nil)
	defer b.Close()

	books, ok := rec.last(KindBooks)
	require.True(t, ok)
	assert.False(t, books.Loading)
	assert.Empty(t, books.Books)
	vocab, ok := rec.last(KindVocab)
	require.True(t, ok)
	assert.Empty(t, vocab.Words)
	assert.Equal(t, 0, env.books.Feeds())
}

func TestBinder_SwitchesIdentity(t *testing.T) {
	env := newBinderEnv(t)
	env.bookRows["alice"] = []domain.Book{book("a1", "Alice's book")}
	env.bookRows["bob"] = []domain.Book{book("b1", "Bob's book")}

	cell := session.NewCell(&domain.User{ID: "alice"})
	rec := &recorder{}
	b := NewBinder(cell, env.books, env.vocab, rec.sink, nil)
	defer b.Close()

	rec.waitFor(t, KindBooks, func(u Update) bool { return len(u.Books) == 1 && u.Books[0].ID == "a1" })

	cell.Set(&domain.User{ID: "bob"})
	rec.waitFor(t, KindBooks, func(u Update) bool { return len(u.Books) == 1 && u.Books[0].ID == "b1" })
	assert.Equal(t, "bob", b.Owner())
	assert.Equal(t, 1, env.books.Feeds(), "alice's feed should be closed")

	cell.Set(nil)
	rec.waitFor(t, KindBooks, func(u Update) bool { return len(u.Books) == 0 })
	assert.Equal(t, 0, env.books.Feeds())
	assert.Equal(t, 0, env.vocab.Feeds())
}

func TestBinder_FocusFiltersVocab(t *testing.T) {
	env := newBinderEnv(t)
	env.vocabRows["alice"] = []domain.VocabWord{
		{ID: "w1", Word: "liminal", BookRef: "b1"},
		{ID: "w2", Word: "sere", BookRef: "b2"},
		{ID: "w3", Word: "tenebrous", BookRef: "b1"},
	}

	rec := &recorder{}
	b := NewBinder(session.NewCell(&domain.User{ID: "alice"}), env.books, env.vocab, rec.sink, nil)
	defer b.Close()

	require.NoError(t, b.Focus(context.Background(), "b1"))
	focus := rec.waitFor(t, KindFocus, func(u Update) bool { return len(u.Words) == 2 })
	assert.Equal(t, "b1", focus.BookID)
	assert.Equal(t, "liminal", focus.Words[0].Word)
	assert.Equal(t, "tenebrous", focus.Words[1].Word)
	assert.Equal(t, 1, env.vocab.Feeds(), "focus shares the owner's vocab feed")

	b.Unfocus("b1")
	b.Close()
	assert.Equal(t, 0, env.vocab.Feeds())
	assert.ErrorIs(t, b.Focus(context.Background(), "b1"), ErrClosed)
}
