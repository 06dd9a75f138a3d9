package models

import (
	"context"
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/bills_backend/config"
	"github.com/mmdatafocus/bills_backend/utils"
)

// SessionStore maps opaque tokens to owner ids with an idle expiry.
type SessionStore interface {
	Create(ctx context.Context, ownerId string, ttl time.Duration) (string, error)
	// Resolve returns the owner for token and pushes its expiry forward.
	Resolve(ctx context.Context, token string, ttl time.Duration) (string, bool, error)
	Destroy(ctx context.Context, token string) error
}

// NewSessionStore uses redis when available and an in-process map otherwise.
func NewSessionStore(rdb *config.Redis) SessionStore {
	if rdb == nil {
		return NewMemorySessionStore()
	}
	return &redisSessionStore{rdb: rdb}
}

type redisSessionStore struct {
	rdb *config.Redis
}

func (s *redisSessionStore) Create(ctx context.Context, ownerId string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	if err := s.rdb.SetValue(ctx, utils.SessionKey(token), ownerId, ttl); err != nil {
		return "", err
	}
	if err := s.rdb.AddSet(ctx, utils.OwnerSessionsKey(ownerId), token); err != nil {
		return "", err
	}
	return token, nil
}

func (s *redisSessionStore) Resolve(ctx context.Context, token string, ttl time.Duration) (string, bool, error) {
	key := utils.SessionKey(token)
	ownerId, exists, err := s.rdb.GetValue(ctx, key)
	if err != nil || !exists {
		return "", false, err
	}
	if _, err := s.rdb.Touch(ctx, key, ttl); err != nil {
		return "", false, err
	}
	return ownerId, true, nil
}

func (s *redisSessionStore) Destroy(ctx context.Context, token string) error {
	key := utils.SessionKey(token)
	ownerId, exists, err := s.rdb.GetValue(ctx, key)
	if err != nil {
		return err
	}
	if err := s.rdb.RemoveKey(ctx, key); err != nil {
		return err
	}
	if !exists {
		return nil
	}
	// remove current token from the owner's token set
	return s.rdb.RemoveSetMember(ctx, utils.OwnerSessionsKey(ownerId), token)
}

type memorySession struct {
	ownerId   string
	expiresAt time.Time
}

// MemorySessionStore keeps sessions in process; sessions do not survive a
// restart and are not shared between instances.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]memorySession
	now      func() time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]memorySession), now: time.Now}
}

func (s *MemorySessionStore) Create(_ context.Context, ownerId string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	s.sessions[token] = memorySession{ownerId: ownerId, expiresAt: s.now().Add(ttl)}
	return token, nil
}

func (s *MemorySessionStore) Resolve(_ context.Context, token string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return "", false, nil
	}
	if !s.now().Before(sess.expiresAt) {
		delete(s.sessions, token)
		return "", false, nil
	}
	sess.expiresAt = s.now().Add(ttl)
	s.sessions[token] = sess
	return sess.ownerId, true, nil
}

func (s *MemorySessionStore) Destroy(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

// sweep drops expired sessions; callers hold mu.
func (s *MemorySessionStore) sweep() {
	now := s.now()
	for token, sess := range s.sessions {
		if !now.Before(sess.expiresAt) {
			delete(s.sessions, token)
		}
	}
}

type LoginInfo struct {
	Token  string `json:"-"`
	UserId string `json:"userId"`
}

// Authenticator checks the configured admin credentials and issues sessions.
type Authenticator struct {
	admin       config.AdminConfig
	idleTimeout time.Duration
	store       SessionStore
}

func NewAuthenticator(admin config.AdminConfig, idleTimeout time.Duration, store SessionStore) *Authenticator {
	return &Authenticator{admin: admin, idleTimeout: idleTimeout, store: store}
}

func (a *Authenticator) IdleTimeout() time.Duration {
	return a.idleTimeout
}

// Login validates email/password and opens a session for the admin owner.
func (a *Authenticator) Login(ctx context.Context, email string, password string) (*LoginInfo, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, NewValidationError("email", "is required")
	}
	if password == "" {
		return nil, NewValidationError("password", "is required")
	}
	if !a.checkCredentials(email, password) {
		return nil, ErrInvalidCredentials
	}

	token, err := a.store.Create(ctx, a.admin.UserId, a.idleTimeout)
	if err != nil {
		return nil, err
	}
	return &LoginInfo{Token: token, UserId: a.admin.UserId}, nil
}

func (a *Authenticator) checkCredentials(email string, password string) bool {
	if a.admin.Email == "" || a.admin.UserId == "" {
		return false
	}
	emailOk := subtle.ConstantTimeCompare([]byte(strings.ToLower(email)), []byte(strings.ToLower(a.admin.Email))) == 1
	var passwordOk bool
	switch {
	case a.admin.PasswordHash != "":
		passwordOk = utils.ComparePassword(a.admin.PasswordHash, password)
	case a.admin.Password != "":
		passwordOk = subtle.ConstantTimeCompare([]byte(password), []byte(a.admin.Password)) == 1
	}
	return emailOk && passwordOk
}

// Logout destroys the session; an empty token is a no-op.
func (a *Authenticator) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return a.store.Destroy(ctx, token)
}

// Resolve returns the owner behind token, refreshing its idle expiry.
func (a *Authenticator) Resolve(ctx context.Context, token string) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}
	return a.store.Resolve(ctx, token, a.idleTimeout)
}
