package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"progkeeper/api/internal/models"
)

// MemoryStore keeps users and sessions in process memory with the same
// constraint behaviour as the Postgres schema. Used by tests and by local
// runs without a database.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	users    map[int64]models.User
	byName   map[string]int64
	sessions map[string]models.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[int64]models.User),
		byName:   make(map[string]int64),
		sessions: make(map[string]models.Session),
	}
}

func (m *MemoryStore) Users() *MemoryUsers       { return &MemoryUsers{m: m} }
func (m *MemoryStore) Sessions() *MemorySessions { return &MemorySessions{m: m} }

type MemoryUsers struct{ m *MemoryStore }

func (r *MemoryUsers) Create(ctx context.Context, user models.User) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if user.Nickname != nil && utf8.RuneCountInString(*user.Nickname) > models.MaxNicknameLength {
		return 0, ErrValueTooLong
	}
	if _, taken := m.byName[user.Username]; taken {
		return 0, ErrUsernameTaken
	}
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now().UTC()
	user.Deleted = false
	user.PasswordHash = append([]byte(nil), user.PasswordHash...)
	m.users[user.ID] = user
	m.byName[user.Username] = user.ID
	return user.ID, nil
}

func (r *MemoryUsers) FindByUsername(ctx context.Context, username string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byName[username]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	user := m.users[id]
	if user.Deleted {
		return models.User{}, ErrUserNotFound
	}
	return user, nil
}

func (r *MemoryUsers) GetByID(ctx context.Context, id int64) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return user, nil
}

func (r *MemoryUsers) MarkDeleted(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.Deleted = true
	m.users[id] = user
	return nil
}

type MemorySessions struct{ m *MemoryStore }

func (r *MemorySessions) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[id]
	return ok, nil
}

func (r *MemorySessions) Create(ctx context.Context, session models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; ok {
		return ErrSessionExists
	}
	if _, ok := m.users[session.UserID]; !ok {
		return ErrUserNotFound
	}
	session.IPAudit = append([]string{}, session.IPAudit...)
	session.CreatedAt = time.Now().UTC()
	m.sessions[session.ID] = session
	return nil
}

func (r *MemorySessions) GetByID(ctx context.Context, id string) (models.Session, error) {
	if err := ctx.Err(); err != nil {
		return models.Session{}, err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (r *MemorySessions) Refresh(ctx context.Context, id, ip string, now, expiry time.Time, maxIPs int) (models.Session, error) {
	if err := ctx.Err(); err != nil {
		return models.Session{}, err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok || !session.Expiry.After(now) {
		return models.Session{}, ErrSessionNotFound
	}
	if expiry.After(session.Expiry) {
		session.Expiry = expiry
	}
	if ip != "" && !slices.Contains(session.IPAudit, ip) {
		session.IPAudit = append(session.IPAudit, ip)
		if maxIPs > 0 && len(session.IPAudit) > maxIPs {
			session.IPAudit = append([]string{}, session.IPAudit[len(session.IPAudit)-maxIPs:]...)
		}
	}
	m.sessions[id] = session
	return cloneSession(session), nil
}

func (r *MemorySessions) DeleteByID(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (r *MemorySessions) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *MemorySessions) ListByUser(ctx context.Context, userID int64) ([]models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemorySessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, s := range m.sessions {
		if !s.Expiry.After(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func cloneSession(s models.Session) models.Session {
	s.IPAudit = append([]string{}, s.IPAudit...)
	return s
}
