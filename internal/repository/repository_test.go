package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/candicemama-blip/thirdshelf/internal/domain"
	"github.com/candicemama-blip/thirdshelf/internal/testutil"
)

type testEnv struct {
	ctx        context.Context
	repository *Repository
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()
	pool := testutil.NewPool(t, "shelf_test")
	return &testEnv{ctx: context.Background(), repository: NewWithPool(pool)}
}

func mustCreateUser(t testing.TB, env *testEnv, email string) domain.User {
	t.Helper()
	user, err := env.repository.Users.Create(env.ctx, UserCreateParams{
		Email:        email,
		PasswordHash: "hash",
		DisplayName:  "Reader",
	})
	if err != nil {
		t.Fatalf("create user %q: %v", email, err)
	}
	return user
}

func mustCreateBook(t testing.TB, env *testEnv, owner, title string, status domain.BookStatus) domain.Book {
	t.Helper()
	book, err := env.repository.Books.Create(env.ctx, owner, BookCreateParams{
		Title:  title,
		Author: "Author",
		Status: status,
	})
	if err != nil {
		t.Fatalf("create book %q: %v", title, err)
	}
	return book
}

func TestBooksRepository_CreateGetList(t *testing.T) {
	env := newTestEnv(t)
	owner := mustCreateUser(t, env, "a@example.com")

	bookA := mustCreateBook(t, env, owner.ID, "Book A", domain.StatusReading)
	bookB := mustCreateBook(t, env, owner.ID, "Book B", domain.StatusFinished)

	if bookB.DateFinished != nil {
		t.Fatalf("new book has date_finished = %v, want nil", bookB.DateFinished)
	}
	if len(bookA.Themes) != 0 || bookA.Themes == nil {
		t.Fatalf("themes = %#v, want empty non-nil", bookA.Themes)
	}

	if _, err := env.repository.Books.Get(env.ctx, owner.ID, "non-existent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown ID, got %v", err)
	}

	filters := BookListFilters{Limit: 1}
	firstPage, err := env.repository.Books.List(env.ctx, owner.ID, filters)
	if err != nil {
		t.Fatalf("List first page: %v", err)
	}
	if len(firstPage.Items) != 1 {
		t.Fatalf("first page size = %d, want 1", len(firstPage.Items))
	}
	if firstPage.NextCursor == nil {
		t.Fatalf("expected next cursor")
	}

	cursor, err := DecodeCursor(*firstPage.NextCursor)
	if err != nil {
		t.Fatalf("decode cursor: %v", err)
	}

	filters.Cursor = cursor
	secondPage, err := env.repository.Books.List(env.ctx, owner.ID, filters)
	if err != nil {
		t.Fatalf("List second page: %v", err)
	}
	if len(secondPage.Items) != 1 {
		t.Fatalf("second page size = %d, want 1", len(secondPage.Items))
	}
	if firstPage.Items[0].ID == secondPage.Items[0].ID {
		t.Fatalf("pagination returned duplicate book")
	}

	status := domain.StatusFinished
	finished, err := env.repository.Books.List(env.ctx, owner.ID, BookListFilters{Status: &status})
	if err != nil {
		t.Fatalf("List finished: %v", err)
	}
	if len(finished.Items) != 1 || finished.Items[0].ID != bookB.ID {
		t.Fatalf("finished filter = %+v, want only %s", finished.Items, bookB.ID)
	}

	got, err := env.repository.Books.Get(env.ctx, owner.ID, bookA.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != bookA.Title {
		t.Fatalf("Get title = %s, want %s", got.Title, bookA.Title)
	}
}

func TestBooksRepository_OwnerIsolation(t *testing.T) {
	env := newTestEnv(t)
	alice := mustCreateUser(t, env, "alice@example.com")
	bob := mustCreateUser(t, env, "bob@example.com")

	book := mustCreateBook(t, env, alice.ID, "Private", domain.StatusReading)

	if _, err := env.repository.Books.Get(env.ctx, bob.ID, book.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign Get err = %v, want ErrNotFound", err)
	}
	if _, err := env.repository.Books.SetRating(env.ctx, bob.ID, book.ID, 4); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign SetRating err = %v, want ErrNotFound", err)
	}
	if err := env.repository.Books.Delete(env.ctx, bob.ID, book.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign Delete err = %v, want ErrNotFound", err)
	}

	snap, err := env.repository.Books.Snapshot(env.ctx, bob.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap) != 0 {
		t.Fatalf("bob sees %d books, want 0", len(snap))
	}
}

func TestBooksRepository_UpdateMeta(t *testing.T) {
	env := newTestEnv(t)
	owner := mustCreateUser(t, env, "meta@example.com")
	book := mustCreateBook(t, env, owner.ID, "Dune", domain.StatusReading)

	status := domain.StatusFinished
	updated, err := env.repository.Books.UpdateMeta(env.ctx, owner.ID, book.ID, BookMetaUpdate{Status: &status})
	if err != nil {
		t.Fatalf("UpdateMeta status: %v", err)
	}
	if updated.Status != domain.StatusFinished {
		t.Fatalf("status = %q, want Finished", updated.Status)
	}
	if updated.DateFinished == nil {
		t.Fatalf("expected date_finished to be stamped")
	}
	stamped := *updated.DateFinished

	// Re-finishing keeps the original stamp.
	again, err := env.repository.Books.UpdateMeta(env.ctx, owner.ID, book.ID, BookMetaUpdate{Status: &status})
	if err != nil {
		t.Fatalf("UpdateMeta status again: %v", err)
	}
	if again.DateFinished == nil || !again.DateFinished.Equal(stamped) {
		t.Fatalf("date_finished = %v, want %v", again.DateFinished, stamped)
	}

	cleared, err := env.repository.Books.UpdateMeta(env.ctx, owner.ID, book.ID, BookMetaUpdate{
		DateFinished: OptionalDate{Set: true},
	})
	if err != nil {
		t.Fatalf("UpdateMeta clear: %v", err)
	}
	if cleared.DateFinished != nil {
		t.Fatalf("date_finished = %v, want nil", cleared.DateFinished)
	}

	title := "Dune Messiah"
	pages := 300
	started := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	renamed, err := env.repository.Books.UpdateMeta(env.ctx, owner.ID, book.ID, BookMetaUpdate{
		Title:       &title,
		TotalPages:  &pages,
		DateStarted: OptionalDate{Set: true, Value: &started},
	})
	if err != nil {
		t.Fatalf("UpdateMeta fields: %v", err)
	}
	if renamed.Title != title || renamed.TotalPages != pages || renamed.Author != "Author" {
		t.Fatalf("unexpected book after update: %+v", renamed.BookMeta)
	}
	if renamed.DateStarted == nil || !renamed.DateStarted.Equal(started) {
		t.Fatalf("date_started = %v, want %v", renamed.DateStarted, started)
	}
}

func TestBooksRepository_RatingAndReflections(t *testing.T) {
	env := newTestEnv(t)
	owner := mustCreateUser(t, env, "reflect@example.com")
	book := mustCreateBook(t, env, owner.ID, "Piranesi", domain.StatusReading)

	rated, err := env.repository.Books.SetRating(env.ctx, owner.ID, book.ID, 3.3333)
	if err != nil {
		t.Fatalf("SetRating: %v", err)
	}
	if rated.Rating != 3.33 {
		t.Fatalf("rating = %v, want 3.33", rated.Rating)
	}

	clamped, err := env.repository.Books.SetRating(env.ctx, owner.ID, book.ID, 9)
	if err != nil {
		t.Fatalf("SetRating clamp: %v", err)
	}
	if clamped.Rating != 5 {
		t.Fatalf("rating = %v, want 5", clamped.Rating)
	}

	if _, err := env.repository.Books.SaveThoughts(env.ctx, owner.ID, book.ID, "a house of tides"); err != nil {
		t.Fatalf("SaveThoughts: %v", err)
	}
	if _, err := env.repository.Books.SaveAISummary(env.ctx, owner.ID, book.ID, "A reflective read."); err != nil {
		t.Fatalf("SaveAISummary: %v", err)
	}
	withThemes, err := env.repository.Books.SaveThemes(env.ctx, owner.ID, book.ID, []string{"memory", "solitude"})
	if err != nil {
		t.Fatalf("SaveThemes: %v", err)
	}

	want := domain.Reflection{
		Thoughts:  "a house of tides",
		AISummary: "A reflective read.",
		Themes:    []string{"memory", "solitude"},
	}
	if diff := cmp.Diff(want, withThemes.Reflection); diff != "" {
		t.Fatalf("reflection mismatch (-want +got):\n%s", diff)
	}
	if withThemes.Rating != 5 {
		t.Fatalf("reflection save clobbered rating: %v", withThemes.Rating)
	}
}

func TestVocabRepository_ListOrderAndSurvival(t *testing.T) {
	env := newTestEnv(t)
	owner := mustCreateUser(t, env, "words@example.com")
	book := mustCreateBook(t, env, owner.ID, "Wolf Hall", domain.StatusReading)

	for _, word := range []string{"sumptuary", "attainder", "benefice"} {
		if _, err := env.repository.Vocab.Create(env.ctx, owner.ID, VocabCreateParams{
			Word:       word,
			Definition: "def of " + word,
			BookRef:    book.ID,
			BookTitle:  book.Title,
		}); err != nil {
			t.Fatalf("create word %q: %v", word, err)
		}
	}

	if err := env.repository.Books.Delete(env.ctx, owner.ID, book.ID); err != nil {
		t.Fatalf("delete book: %v", err)
	}

	words, err := env.repository.Vocab.List(env.ctx, owner.ID, VocabListFilters{BookRef: &book.ID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := make([]string, 0, len(words))
	for _, w := range words {
		got = append(got, w.Word)
	}
	if diff := cmp.Diff([]string{"sumptuary", "attainder", "benefice"}, got); diff != "" {
		t.Fatalf("word order mismatch (-want +got):\n%s", diff)
	}

	order, groups := GroupByBook(words)
	if len(order) != 1 || order[0] != "Wolf Hall" || len(groups["Wolf Hall"]) != 3 {
		t.Fatalf("unexpected grouping: %v %v", order, groups)
	}

	if err := env.repository.Vocab.Delete(env.ctx, owner.ID, words[0].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := env.repository.Vocab.Delete(env.ctx, owner.ID, words[0].ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete err = %v, want ErrNotFound", err)
	}
}

func TestBooksRepository_Stats(t *testing.T) {
	env := newTestEnv(t)
	owner := mustCreateUser(t, env, "stats@example.com")

	mustCreateBook(t, env, owner.ID, "One", domain.StatusReading)
	mustCreateBook(t, env, owner.ID, "Two", domain.StatusFinished)
	mustCreateBook(t, env, owner.ID, "Three", domain.StatusFinished)
	mustCreateBook(t, env, owner.ID, "Four", domain.StatusWantToRead)
	if _, err := env.repository.Vocab.Create(env.ctx, owner.ID, VocabCreateParams{Word: "w", Definition: "d"}); err != nil {
		t.Fatalf("create word: %v", err)
	}

	stats, err := env.repository.Books.Stats(env.ctx, owner.ID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := domain.ShelfStats{Total: 4, Reading: 1, Finished: 2, WantToRead: 1, Words: 1}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestUsersRepository_DuplicateEmailAndCascade(t *testing.T) {
	env := newTestEnv(t)
	user := mustCreateUser(t, env, "Case@Example.com")

	if _, err := env.repository.Users.Create(env.ctx, UserCreateParams{Email: "case@example.com", PasswordHash: "x"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate email err = %v, want ErrConflict", err)
	}

	got, err := env.repository.Users.GetByEmail(env.ctx, "CASE@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("GetByEmail id = %s, want %s", got.ID, user.ID)
	}

	mustCreateBook(t, env, user.ID, "Orphan", domain.StatusReading)
	if err := env.repository.Users.Delete(env.ctx, user.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	snap, err := env.repository.Books.Snapshot(env.ctx, user.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap) != 0 {
		t.Fatalf("books survived account deletion: %d", len(snap))
	}
}

func TestBooksRepository_ConcurrentCreates(t *testing.T) {
	env := newTestEnv(t)
	owner := mustCreateUser(t, env, "many@example.com")

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := env.repository.Books.Create(env.ctx, owner.ID, BookCreateParams{
				Title:  fmt.Sprintf("Book %d", i),
				Author: "Author",
			}); err != nil {
				t.Errorf("create failed for %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	stats, err := env.repository.Books.Stats(env.ctx, owner.ID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != workers || stats.Reading != workers {
		t.Fatalf("stats = %+v, want %d reading", stats, workers)
	}
}

func TestDecodeCursor(t *testing.T) {
	if c, err := DecodeCursor(""); err != nil || c != nil {
		t.Fatalf("empty cursor = %v, %v", c, err)
	}
	if _, err := DecodeCursor("%%%"); err == nil {
		t.Fatalf("expected error for malformed base64")
	}
	token, err := encodeCursor(BookCursor{CreatedAt: time.Unix(0, 0).UTC(), ID: "not-a-uuid"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeCursor(token); err == nil {
		t.Fatalf("expected error for non-uuid id")
	}
}

func BenchmarkBooksRepositoryCreate(b *testing.B) {
	env := newTestEnv(b)
	owner := mustCreateUser(b, env, "bench@example.com")

	for i := 0; i < b.N; i++ {
		_, err := env.repository.Books.Create(env.ctx, owner.ID, BookCreateParams{
			Title:  fmt.Sprintf("Bench Book %d", i),
			Author: "Author",
		})
		if err != nil {
			b.Fatalf("create book: %v", err)
		}
	}
}
