package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/candicemama-blip/thirdshelf/internal/auth"
	"github.com/candicemama-blip/thirdshelf/internal/domain"
)

type ctxKey struct{}

type callerIdentity struct {
	user  domain.User
	token string
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      userResponse `json:"user"`
}

type userResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	PhotoURL    string    `json:"photoUrl"`
	CreatedAt   time.Time `json:"createdAt"`
}

type updateMeRequest struct {
	DisplayName string `json:"displayName"`
}

func toUserResponse(u domain.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		PhotoURL:    u.PhotoURL,
		CreatedAt:   u.CreatedAt,
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// requireUser resolves the bearer token and stores the caller in the context.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
			return
		}
		user, err := s.auth.Resolve(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) {
				s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
				return
			}
			s.respondInternal(w, "Failed to resolve session", err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, callerIdentity{user: user, token: token})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func caller(r *http.Request) callerIdentity {
	id, _ := r.Context().Value(ctxKey{}).(callerIdentity)
	return id
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req auth.SignUpRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}

	sess, err := s.auth.SignUp(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrEmailTaken):
		s.respondError(w, http.StatusConflict, "EMAIL_TAKEN", "An account with this email already exists.")
		return
	case errors.Is(err, auth.ErrInvalidInput):
		s.respondValidation(w, signUpMessage(err))
		return
	default:
		s.logger.Error("sign up failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Something went wrong. Please try again.")
		return
	}
	s.respondJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func signUpMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), auth.ErrInvalidInput.Error()+": ")
	if strings.HasPrefix(msg, "password must be at least") {
		return "Password must be at least 6 characters."
	}
	if msg == "" {
		return "Invalid sign up details"
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req auth.SignInRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}

	sess, err := s.auth.SignIn(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.respondError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password. Please try again.")
			return
		}
		s.respondInternal(w, "Failed to sign in", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r.Header.Get("Authorization"))
	if err := s.auth.SignOut(r.Context(), token); err != nil {
		s.respondInternal(w, "Failed to sign out", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, toUserResponse(caller(r).user))
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateMeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	user, err := s.auth.UpdateDisplayName(r.Context(), caller(r).user.ID, req.DisplayName)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidInput) {
			s.respondValidation(w, "Display name cannot be empty")
			return
		}
		s.respondInternal(w, "Failed to update profile", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	if err := s.auth.DeleteAccount(r.Context(), id.user.ID); err != nil {
		s.respondInternal(w, "Failed to delete account", err)
		return
	}
	s.announceBooks(r.Context(), id.user.ID)
	s.announceVocab(r.Context(), id.user.ID)
	w.WriteHeader(http.StatusNoContent)
}

func toSessionResponse(sess auth.Session) sessionResponse {
	return sessionResponse{Token: sess.Token, ExpiresAt: sess.ExpiresAt, User: toUserResponse(sess.User)}
}
