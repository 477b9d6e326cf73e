package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/candicemama-blip/thirdshelf/internal/auth"
	"github.com/candicemama-blip/thirdshelf/internal/autosave"
	"github.com/candicemama-blip/thirdshelf/internal/domain"
	"github.com/candicemama-blip/thirdshelf/internal/metrics"
	"github.com/candicemama-blip/thirdshelf/internal/realtime"
	"github.com/candicemama-blip/thirdshelf/internal/session"
)

const (
	streamWriteWait  = 10 * time.Second
	draftCommitWait  = 10 * time.Second
	fieldThoughts    = "thoughts"
	fieldDNFReason   = "dnfReason"
	eventSaved       = "saved"
	eventError       = "error"
	actionAuth       = "auth"
	actionSignOut    = "signout"
	actionFocus      = "focus"
	actionDraft      = "draft"
	actionLeave      = "leave"
	defaultDraftIdle = time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type streamAction struct {
	Action string `json:"action"`
	Token  string `json:"token,omitempty"`
	BookID string `json:"bookId,omitempty"`
	Field  string `json:"field,omitempty"`
	Text   string `json:"text,omitempty"`
}

type streamEvent struct {
	Type    string      `json:"type"`
	BookID  string      `json:"bookId,omitempty"`
	Field   string      `json:"field,omitempty"`
	Items   interface{} `json:"items,omitempty"`
	Loading bool        `json:"loading,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// streamConn is the state of one websocket client. Writes are serialised
// because pump goroutines, draft timers, and the read loop all send events.
type streamConn struct {
	s      *Server
	ws     *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	cell   *session.Cell
	binder *realtime.Binder
	drafts *autosave.Debouncer

	mu    sync.Mutex
	token string
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.books == nil || s.vocab == nil {
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Realtime stream is not configured")
		return
	}

	// A token in the header or query signs the connection in immediately.
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	var initial *domain.User
	if token != "" {
		user, err := s.auth.Resolve(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) {
				s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
				return
			}
			s.respondInternal(w, "Failed to resolve session", err)
			return
		}
		initial = &user
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	idle := s.cfg.AutosaveIdle()
	if idle <= 0 {
		idle = defaultDraftIdle
	}
	c := &streamConn{
		s:      s,
		ws:     ws,
		logger: s.logger.Named("stream"),
		cell:   session.NewCell(initial),
		drafts: autosave.New(idle),
		token:  token,
	}
	ws.SetReadLimit(maxRequestBody)
	c.binder = realtime.NewBinder(c.cell, s.books, s.vocab, c.deliver, s.logger)

	defer func() {
		c.drafts.Stop()
		c.binder.Close()
		_ = ws.Close()
	}()
	c.readLoop(r.Context())
}

func (c *streamConn) readLoop(ctx context.Context) {
	for {
		var act streamAction
		if err := c.ws.ReadJSON(&act); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("stream client disconnected", zap.Error(err))
			}
			return
		}

		switch act.Action {
		case actionAuth:
			c.signIn(ctx, act.Token)
		case actionSignOut:
			c.signOut(ctx)
		case actionFocus:
			if act.BookID == "" {
				c.fail("", "bookId is required")
				continue
			}
			if err := c.binder.Focus(ctx, act.BookID); err != nil {
				c.logger.Warn("focus failed", zap.String("book", act.BookID), zap.Error(err))
				c.fail(act.BookID, "Could not open this book.")
			}
		case actionDraft:
			c.draft(act)
		case actionLeave:
			c.drafts.CancelPrefix(autosave.Key(act.BookID, ""))
			c.binder.Unfocus(act.BookID)
		default:
			c.fail("", "unknown action")
		}
	}
}

func (c *streamConn) signIn(ctx context.Context, token string) {
	user, err := c.s.auth.Resolve(ctx, strings.TrimSpace(token))
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthenticated) {
			c.logger.Error("resolve stream session", zap.Error(err))
		}
		c.fail("", "Missing or invalid authentication information")
		return
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	c.cell.Set(&user)
}

func (c *streamConn) signOut(ctx context.Context) {
	c.mu.Lock()
	token := c.token
	c.token = ""
	c.mu.Unlock()

	c.drafts.CancelPrefix("")
	if token != "" {
		if err := c.s.auth.SignOut(ctx, token); err != nil {
			c.logger.Warn("stream sign out", zap.Error(err))
		}
	}
	c.cell.Set(nil)
}

// draft arms a debounced commit of text. The owner is captured now so a
// later identity change cannot redirect the write.
func (c *streamConn) draft(act streamAction) {
	user := c.cell.Current()
	if user == nil {
		c.fail(act.BookID, "Missing or invalid authentication information")
		return
	}
	if act.BookID == "" {
		c.fail("", "bookId is required")
		return
	}

	var save textSaver
	switch act.Field {
	case fieldThoughts:
		save = c.s.repo.Books.SaveThoughts
	case fieldDNFReason:
		save = c.s.repo.Books.SaveDNFReason
	default:
		c.fail(act.BookID, "field must be thoughts or dnfReason")
		return
	}

	owner, bookID, field, text := user.ID, act.BookID, act.Field, act.Text
	err := c.drafts.Schedule(autosave.Key(bookID, field), func() {
		ctx, cancel := context.WithTimeout(context.Background(), draftCommitWait)
		defer cancel()

		_, err := save(ctx, owner, bookID, text)
		metrics.AutosaveCommits.WithLabelValues(field, metrics.Outcome(err)).Inc()
		if err != nil {
			c.logger.Warn("autosave commit failed", zap.String("book", bookID), zap.String("field", field), zap.Error(err))
			c.fail(bookID, "Failed to save. Please try again.")
			return
		}
		c.s.announceBooks(ctx, owner)
		c.send(streamEvent{Type: eventSaved, BookID: bookID, Field: field})
	})
	if err != nil {
		c.logger.Debug("draft after close", zap.Error(err))
	}
}

// Messages shown when a live collection cannot be loaded.
const (
	shelfUnavailable = "Could not load your shelf. Check your connection."
	vocabUnavailable = "Could not load your words. Check your connection."
)

func (c *streamConn) deliver(u realtime.Update) {
	if u.Err != nil {
		c.logger.Warn("live update failed", zap.String("kind", u.Kind), zap.String("book", u.BookID), zap.Error(u.Err))
	}
	c.send(updateEvent(u))
}

// updateEvent converts u for the wire. Load errors are replaced by a fixed
// message.
func updateEvent(u realtime.Update) streamEvent {
	ev := streamEvent{Type: u.Kind, BookID: u.BookID, Loading: u.Loading}
	switch u.Kind {
	case realtime.KindBooks:
		ev.Items = toBookResponses(u.Books)
		if u.Err != nil {
			ev.Error = shelfUnavailable
		}
	default:
		ev.Items = toVocabResponses(u.Words)
		if u.Err != nil {
			ev.Error = vocabUnavailable
		}
	}
	return ev
}

func (c *streamConn) fail(bookID, msg string) {
	c.send(streamEvent{Type: eventError, BookID: bookID, Error: msg})
}

func (c *streamConn) send(ev streamEvent) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := c.ws.WriteJSON(ev); err != nil {
		c.logger.Debug("stream write failed", zap.String("type", ev.Type), zap.Error(err))
	}
}
