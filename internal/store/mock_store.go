// ABOUTME: In-memory Store implementation for tests
// ABOUTME: Mutex-guarded maps, deterministic iteration order

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store for tests.
type MockStore struct {
	mu          sync.Mutex
	enrollments map[string]*EnrollmentRecord // keyed by user ID
	sessions    []*SessionRecord

	// IterateErr, when set, is returned by IterateTemplates to simulate
	// a failing backend.
	IterateErr error
}

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		enrollments: make(map[string]*EnrollmentRecord),
	}
}

func (m *MockStore) SaveTemplate(ctx context.Context, rec *EnrollmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.enrollments[rec.UserID] = &cp
	return nil
}

func (m *MockStore) LoadTemplate(ctx context.Context, userID string) (*EnrollmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.enrollments[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MockStore) DeleteTemplate(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.enrollments[userID]; !ok {
		return ErrNotFound
	}
	delete(m.enrollments, userID)
	return nil
}

// IterateTemplates visits enrollments in user-ID order so tests are
// deterministic, matching the SQLite implementation.
func (m *MockStore) IterateTemplates(ctx context.Context, fn func(userID string, template []byte) error) error {
	if m.IterateErr != nil {
		return m.IterateErr
	}

	m.mu.Lock()
	users := make([]string, 0, len(m.enrollments))
	for userID := range m.enrollments {
		users = append(users, userID)
	}
	sort.Strings(users)
	templates := make([][]byte, len(users))
	for i, userID := range users {
		templates[i] = m.enrollments[userID].Template
	}
	m.mu.Unlock()

	for i, userID := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(userID, templates[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockStore) SaveSession(ctx context.Context, rec *SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.sessions = append(m.sessions, &cp)
	return nil
}

func (m *MockStore) ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.sessions) {
		limit = len(m.sessions)
	}
	out := make([]*SessionRecord, 0, limit)
	for i := len(m.sessions) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.sessions[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MockStore) Close() error { return nil }
