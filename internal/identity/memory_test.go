package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/unigate/unigate/internal/shared"
)

type resetRecord struct {
	userID  string
	expires time.Time
}

type memoryRepo struct {
	mu       sync.Mutex
	users    map[string]User
	counters map[string]int
	nextPos  int64
	resets   map[string]resetRecord
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: map[string]User{}, counters: map[string]int{}, resets: map[string]resetRecord{}}
}

func cloneUser(u User) User {
	u.Positions = append([]Position(nil), u.Positions...)
	return u
}

func (m *memoryRepo) FindUser(ctx context.Context, id string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.Deleted {
		return User{}, ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (m *memoryRepo) Exists(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[id]
	return ok, nil
}

func (m *memoryRepo) UpdatePassword(ctx context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.Deleted {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	m.users[id] = u
	return nil
}

func (m *memoryRepo) UpdateEmail(ctx context.Context, id, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.Deleted {
		return ErrUserNotFound
	}
	for otherID, other := range m.users {
		if otherID != id && strings.EqualFold(other.Email, email) {
			return ErrEmailTaken
		}
	}
	u.Email = email
	m.users[id] = u
	return nil
}

func (m *memoryRepo) SetResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.Deleted {
		return ErrUserNotFound
	}
	for hash, rec := range m.resets {
		if rec.userID == id {
			delete(m.resets, hash)
		}
	}
	m.resets[tokenHash] = resetRecord{userID: id, expires: expires}
	return nil
}

func (m *memoryRepo) ResetPassword(ctx context.Context, kind shared.UserKind, tokenHash, passwordHash string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.resets[tokenHash]
	if !ok || !now.Before(rec.expires) {
		return "", ErrResetTokenInvalid
	}
	u, ok := m.users[rec.userID]
	if !ok || u.Deleted || u.Kind != kind {
		return "", ErrResetTokenInvalid
	}
	delete(m.resets, tokenHash)
	u.PasswordHash = passwordHash
	m.users[u.ID] = u
	return u.ID, nil
}

func (m *memoryRepo) SoftDelete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.Deleted {
		return ErrUserNotFound
	}
	u.Deleted = true
	m.users[id] = u
	return nil
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make(map[string]User, len(m.users))
	for k, v := range m.users {
		users[k] = cloneUser(v)
	}
	counters := make(map[string]int, len(m.counters))
	for k, v := range m.counters {
		counters[k] = v
	}
	nextPos := m.nextPos
	if err := fn(ctx, memoryTx{m}); err != nil {
		m.users, m.counters, m.nextPos = users, counters, nextPos
		return err
	}
	return nil
}

type memoryTx struct {
	m *memoryRepo
}

func (t memoryTx) NextSequence(ctx context.Context, counter string) (int, error) {
	t.m.counters[counter]++
	return t.m.counters[counter], nil
}

func (t memoryTx) InsertUser(ctx context.Context, u User) error {
	for _, existing := range t.m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrEmailTaken
		}
	}
	u.Positions = nil
	t.m.users[u.ID] = u
	return nil
}

func (t memoryTx) LockUser(ctx context.Context, id string) (User, error) {
	u, ok := t.m.users[id]
	if !ok || u.Deleted {
		return User{}, ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (t memoryTx) ClosePosition(ctx context.Context, positionID int64, at time.Time) error {
	for id, u := range t.m.users {
		for i, p := range u.Positions {
			if p.ID == positionID && p.EndDate == nil {
				end := at
				u.Positions[i].EndDate = &end
				t.m.users[id] = u
				return nil
			}
		}
	}
	return nil
}

func (t memoryTx) InsertPosition(ctx context.Context, employeeID string, p Position) (int64, error) {
	u, ok := t.m.users[employeeID]
	if !ok {
		return 0, ErrUserNotFound
	}
	t.m.nextPos++
	p.ID = t.m.nextPos
	u.Positions = append(u.Positions, p)
	t.m.users[employeeID] = u
	return p.ID, nil
}
