package server

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ebridge/ebridge/pkg/models"
)

var (
	// ErrNotFound is returned when no account matches the lookup.
	ErrNotFound = errors.New("account not found")
	// ErrEmailTaken is returned when registering an email that already has
	// an account.
	ErrEmailTaken = errors.New("email already registered")
)

// account is a stored user with its password hash. The hash never leaves
// the store.
type account struct {
	User         models.User
	PasswordHash string
}

// UserStore persists accounts for the standalone auth server.
type UserStore interface {
	Create(ctx context.Context, user models.User, passwordHash string) error
	GetByEmail(ctx context.Context, email string) (*account, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// MemoryUserStore keeps accounts in memory. Suits tests and single-node
// development setups; production deployments use the Postgres store.
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*account
	byEmail map[string]string // email → id
}

// NewMemoryUserStore creates an empty in-memory account store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*account),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryUserStore) Create(ctx context.Context, user models.User, passwordHash string) error {
	email := normalizeEmail(user.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return ErrEmailTaken
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	s.byID[user.ID] = &account{User: user, PasswordHash: passwordHash}
	s.byEmail[email] = user.ID
	return nil
}

func (s *MemoryUserStore) GetByEmail(ctx context.Context, email string) (*account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	acct := *s.byID[id]
	return &acct, nil
}

func (s *MemoryUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	user := acct.User
	return &user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
