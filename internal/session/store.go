// Package session holds the API credentials of one browser context.
//
// Token and session id are always stored or cleared as a pair; a record with
// only one of them is treated as absent.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/donorportal/donorportal/internal/shared"
)

// ErrPartialCredentials is returned by Save when either field is empty.
var ErrPartialCredentials = errors.New("session: token and session id must be set together")

// Credentials are the opaque values issued by the API at login.
type Credentials struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
}

// Valid reports whether both fields are present.
func (c Credentials) Valid() bool {
	return c.Token != "" && c.SessionID != ""
}

// Store persists Credentials for one browser context.
type Store interface {
	Load(ctx context.Context) (Credentials, bool)
	Save(ctx context.Context, creds Credentials) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	creds Credentials
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.creds.Valid() {
		return Credentials{}, false
	}
	return s.creds, true
}

func (s *MemoryStore) Save(ctx context.Context, creds Credentials) error {
	if !creds.Valid() {
		return ErrPartialCredentials
	}
	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.creds = Credentials{}
	s.mu.Unlock()
	return nil
}

const (
	tokenKey     = "api_token"
	sessionIDKey = "api_session_id"
)

// CookieStore keeps credentials inside the Redis-backed browser session.
type CookieStore struct {
	sess *shared.Session
}

// NewCookieStore binds a Store to the given browser session.
func NewCookieStore(sess *shared.Session) *CookieStore {
	return &CookieStore{sess: sess}
}

func (s *CookieStore) Load(ctx context.Context) (Credentials, bool) {
	if s.sess == nil {
		return Credentials{}, false
	}
	creds := Credentials{Token: s.sess.Get(tokenKey), SessionID: s.sess.Get(sessionIDKey)}
	if !creds.Valid() {
		return Credentials{}, false
	}
	return creds, true
}

func (s *CookieStore) Save(ctx context.Context, creds Credentials) error {
	if s.sess == nil {
		return shared.ErrNoSession
	}
	if !creds.Valid() {
		return ErrPartialCredentials
	}
	s.sess.Set(tokenKey, creds.Token)
	s.sess.Set(sessionIDKey, creds.SessionID)
	return nil
}

func (s *CookieStore) Clear(ctx context.Context) error {
	if s.sess == nil {
		return nil
	}
	s.sess.Delete(tokenKey)
	s.sess.Delete(sessionIDKey)
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*CookieStore)(nil)
)
