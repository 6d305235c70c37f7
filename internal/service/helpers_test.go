package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"progkeeper/api/internal/config"
	"progkeeper/api/internal/models"
	"progkeeper/api/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var testSessionConfig = config.SessionConfig{
	TTL:           14 * 24 * time.Hour,
	TokenBytes:    32,
	TokenAttempts: 5,
	MaxIPAudit:    64,
}

type testEnv struct {
	store    *repository.MemoryStore
	creds    *CredentialStore
	sessions *SessionStore
	gateway  *Gateway
	clock    *fakeClock
}

func newTestEnv(t *testing.T, opts ...SessionOption) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil, opts...)
}

// newTestEnvWith lets a test wrap the session repository.
func newTestEnvWith(t *testing.T, wrap func(SessionRepository) SessionRepository, opts ...SessionOption) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	clock := newFakeClock()

	var sessions SessionRepository = store.Sessions()
	if wrap != nil {
		sessions = wrap(sessions)
	}

	creds := NewCredentialStore(store.Users(), bcrypt.MinCost, fastRetry, zerolog.Nop())
	opts = append([]SessionOption{WithClock(clock.Now)}, opts...)
	ss := NewSessionStore(creds, sessions, testSessionConfig, fastRetry, zerolog.Nop(), opts...)

	return &testEnv{
		store:    store,
		creds:    creds,
		sessions: ss,
		gateway:  NewGateway(ss),
		clock:    clock,
	}
}

func (e *testEnv) mustCreateUser(t *testing.T, username, password string) int64 {
	t.Helper()
	id, err := e.creds.CreateUser(context.Background(), username, password, nil)
	if err != nil {
		t.Fatalf("create user %q: %v", username, err)
	}
	return id
}

func (e *testEnv) mustLogin(t *testing.T, username, password, ip string) string {
	t.Helper()
	tok, _, err := e.sessions.CreateSession(context.Background(), username, password, ip)
	if err != nil {
		t.Fatalf("login %q: %v", username, err)
	}
	return tok
}

func (e *testEnv) session(t *testing.T, token string) models.Session {
	t.Helper()
	s, err := e.store.Sessions().GetByID(context.Background(), token)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return s
}

// failingSessions fails selected calls with a transient error.
type failingSessions struct {
	SessionRepository
	mu       sync.Mutex
	err      error
	failures int // remaining failures; negative fails forever
	calls    int
}

func (f *failingSessions) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures == 0 {
		return nil
	}
	if f.failures > 0 {
		f.failures--
	}
	return f.err
}

func (f *failingSessions) GetByID(ctx context.Context, id string) (models.Session, error) {
	if err := f.fail(); err != nil {
		return models.Session{}, err
	}
	return f.SessionRepository.GetByID(ctx, id)
}

func (f *failingSessions) Create(ctx context.Context, session models.Session) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.SessionRepository.Create(ctx, session)
}
