package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

// Service registers and signs in users.
type Service struct {
	store UserStore
	cost  int
	now   func() time.Time
	newID func() string
}

// NewService creates a Service using bcrypt's default cost.
func NewService(store UserStore) *Service {
	return NewServiceWithDeps(store, bcrypt.DefaultCost, time.Now, uuid.NewString)
}

// NewServiceWithDeps creates a Service with custom dependencies for testing
func NewServiceWithDeps(store UserStore, cost int, now func() time.Time, newID func() string) *Service {
	return &Service{
		store: store,
		cost:  cost,
		now:   now,
		newID: newID,
	}
}

// Register creates an account. Emails are matched case-insensitively.
func (s *Service) Register(ctx context.Context, email, password, name string) (*User, error) {
	email = normalizeEmail(email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &User{
		ID:           s.newID(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

// SignIn checks the credentials. Unknown emails and wrong passwords both
// yield ErrInvalidCredentials.
func (s *Service) SignIn(ctx context.Context, email, password string) (*User, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Lookup resolves a session's user id to an identity.
func (s *Service) Lookup(ctx context.Context, userID string) (Identity, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Identity{}, fmt.Errorf("getting user: %w", err)
	}
	return user.Identity(), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
