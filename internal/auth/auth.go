// Package auth implements email/password identity with Redis-backed session
// tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/candicemama-blip/thirdshelf/internal/domain"
	"github.com/candicemama-blip/thirdshelf/internal/repository"
)

var (
	// ErrInvalidCredentials is returned for an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrEmailTaken is returned when signing up with a registered email.
	ErrEmailTaken = errors.New("auth: email already registered")
	// ErrUnauthenticated is returned for a missing, expired or revoked token.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrInvalidInput wraps validation failures.
	ErrInvalidInput = errors.New("auth: invalid input")
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// Users is the account store the service depends on.
type Users interface {
	Create(ctx context.Context, params repository.UserCreateParams) (domain.User, error)
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	UpdateDisplayName(ctx context.Context, id, name string) (domain.User, error)
	Delete(ctx context.Context, id string) error
}

// SignUpRequest carries registration input.
type SignUpRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=6,max=72"`
	DisplayName string `json:"displayName" validate:"max=120"`
}

// SignInRequest carries login input.
type SignInRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Session is an issued token together with its user.
type Session struct {
	Token     string
	User      domain.User
	ExpiresAt time.Time
}

var validate = validator.New()

// Service issues and resolves sessions.
type Service struct {
	users  Users
	rdb    *redis.Client
	ttl    time.Duration
	cost   int
	logger *zap.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithBcryptCost overrides the hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// NewService constructs a Service. logger may be nil.
func NewService(users Users, rdb *redis.Client, ttl time.Duration, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	s := &Service{users: users, rdb: rdb, ttl: ttl, cost: bcrypt.DefaultCost, logger: logger.Named("auth")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sessionKey(token string) string { return "thirdshelf:session:" + token }

func userSessionsKey(uid string) string { return "thirdshelf:user-sessions:" + uid }

// SignUp registers an account and signs it in. If the session cannot be
// issued the account is removed again.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (Session, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := validate.Struct(req); err != nil {
		return Session{}, fmt.Errorf("%w: %s", ErrInvalidInput, describe(err))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, repository.UserCreateParams{
		Email:        req.Email,
		PasswordHash: string(hash),
		DisplayName:  req.DisplayName,
	})
	if errors.Is(err, repository.ErrConflict) {
		return Session{}, ErrEmailTaken
	}
	if err != nil {
		return Session{}, fmt.Errorf("create user: %w", err)
	}

	sess, err := s.issue(ctx, user)
	if err != nil {
		if delErr := s.users.Delete(ctx, user.ID); delErr != nil {
			s.logger.Error("remove user after failed session issue", zap.String("uid", user.ID), zap.Error(delErr))
		}
		return Session{}, err
	}
	s.logger.Info("account created", zap.String("uid", user.ID))
	return sess, nil
}

// SignIn verifies credentials and issues a new session.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (Session, error) {
	if err := validate.Struct(req); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, req.Email)
	if errors.Is(err, repository.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return s.issue(ctx, user)
}

// SignOut revokes token. Unknown tokens are not an error.
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	uid, err := s.rdb.Get(ctx, sessionKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(token))
	pipe.SRem(ctx, userSessionsKey(uid), token)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// Resolve maps a token to its user.
func (s *Service) Resolve(ctx context.Context, token string) (domain.User, error) {
	if _, err := uuid.Parse(token); err != nil {
		return domain.User{}, ErrUnauthenticated
	}
	uid, err := s.rdb.Get(ctx, sessionKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.User{}, ErrUnauthenticated
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("read session: %w", err)
	}
	user, err := s.users.GetByID(ctx, uid)
	if errors.Is(err, repository.ErrNotFound) {
		_ = s.rdb.Del(ctx, sessionKey(token)).Err()
		return domain.User{}, ErrUnauthenticated
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// UpdateDisplayName changes the profile name. Blank names are rejected.
func (s *Service) UpdateDisplayName(ctx context.Context, uid, name string) (domain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.User{}, fmt.Errorf("%w: display name is required", ErrInvalidInput)
	}
	if len(name) > 120 {
		return domain.User{}, fmt.Errorf("%w: display name is too long", ErrInvalidInput)
	}
	user, err := s.users.UpdateDisplayName(ctx, uid, name)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.User{}, ErrUnauthenticated
	}
	return user, err
}

// DeleteAccount removes the user with all books and words and revokes every
// session the user holds.
func (s *Service) DeleteAccount(ctx context.Context, uid string) error {
	if err := s.users.Delete(ctx, uid); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUnauthenticated
		}
		return fmt.Errorf("delete user: %w", err)
	}
	tokens, err := s.rdb.SMembers(ctx, userSessionsKey(uid)).Result()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, t := range tokens {
		keys = append(keys, sessionKey(t))
	}
	keys = append(keys, userSessionsKey(uid))
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	s.logger.Info("account deleted", zap.String("uid", uid), zap.Int("sessions", len(tokens)))
	return nil
}

func (s *Service) issue(ctx context.Context, user domain.User) (Session, error) {
	token := uuid.NewString()
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(token), user.ID, s.ttl)
	pipe.SAdd(ctx, userSessionsKey(user.ID), token)
	pipe.Expire(ctx, userSessionsKey(user.ID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return Session{}, fmt.Errorf("issue session: %w", err)
	}
	return Session{Token: token, User: user, ExpiresAt: time.Now().Add(s.ttl)}, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Field() {
	case "Email":
		return "a valid email is required"
	case "Password":
		if fe.Tag() == "min" || fe.Tag() == "required" {
			return fmt.Sprintf("password must be at least %d characters", MinPasswordLength)
		}
		return "password is too long"
	case "DisplayName":
		return "display name is too long"
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}
