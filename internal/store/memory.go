package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-tafel/internal/domain"
)

// Memory is an in-process Store used for tests and single-instance
// deployments without a database.
type Memory struct {
	mu           sync.RWMutex
	sessions     map[string]domain.Session
	participants map[string]domain.Participant
	items        map[string]domain.BillItem
	claims       map[string][]domain.ItemClaim // keyed by participant id
	payments     map[string][]domain.Payment   // keyed by session id
	now          func() time.Time
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:     make(map[string]domain.Session),
		participants: make(map[string]domain.Participant),
		items:        make(map[string]domain.BillItem),
		claims:       make(map[string][]domain.ItemClaim),
		payments:     make(map[string][]domain.Payment),
		now:          time.Now,
	}
}

func (m *Memory) CreateSession(_ context.Context, s domain.Session) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = m.now()
	m.sessions[s.ID] = s
	return s, nil
}

func (m *Memory) GetSession(_ context.Context, id string) (domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) UpdateSession(_ context.Context, id string, upd SessionUpdate) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, ErrNotFound
	}
	if upd.Status != nil {
		s.Status = *upd.Status
	}
	if upd.MainBookerID != nil {
		s.MainBookerID = *upd.MainBookerID
	}
	if upd.LinkedIBAN != nil {
		s.LinkedIBAN = *upd.LinkedIBAN
	}
	if upd.AccountHolderName != nil {
		s.AccountHolderName = *upd.AccountHolderName
	}
	m.sessions[id] = s
	return s, nil
}

func (m *Memory) CreateParticipant(_ context.Context, p domain.Participant) (domain.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[p.SessionID]; !ok {
		return domain.Participant{}, ErrNotFound
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = m.now()
	m.participants[p.ID] = p
	return p, nil
}

func (m *Memory) GetParticipant(_ context.Context, id string) (domain.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[id]
	if !ok {
		return domain.Participant{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListParticipants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Participant
	for _, p := range m.participants {
		if p.SessionID == sessionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) UpdateParticipant(_ context.Context, id string, upd ParticipantUpdate) (domain.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return domain.Participant{}, ErrNotFound
	}
	if upd.HasPaid != nil {
		p.HasPaid = *upd.HasPaid
	}
	if upd.PaidAmount != nil {
		p.PaidAmount = *upd.PaidAmount
	}
	if upd.ExpectedAmount != nil {
		p.ExpectedAmount = *upd.ExpectedAmount
	}
	m.participants[id] = p
	return p, nil
}

func (m *Memory) CreateBillItems(_ context.Context, items []domain.BillItem) ([]domain.BillItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.BillItem, 0, len(items))
	for _, it := range items {
		if _, ok := m.sessions[it.SessionID]; !ok {
			return nil, ErrNotFound
		}
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		m.items[it.ID] = it
		out = append(out, it)
	}
	return out, nil
}

func (m *Memory) ListBillItems(_ context.Context, sessionID string) ([]domain.BillItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.BillItem
	for _, it := range m.items {
		if it.SessionID == sessionID {
			out = append(out, it)
		}
	}
	// Bill order, not UUID order.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position == out[j].Position {
			return out[i].ID < out[j].ID
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (m *Memory) ReplaceClaims(_ context.Context, participantID string, claims []domain.ItemClaim) ([]domain.ItemClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.participants[participantID]; !ok {
		return nil, ErrNotFound
	}
	replacement := make([]domain.ItemClaim, 0, len(claims))
	for _, c := range claims {
		c.ParticipantID = participantID
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.CreatedAt = m.now()
		replacement = append(replacement, c)
	}
	m.claims[participantID] = replacement
	out := make([]domain.ItemClaim, len(replacement))
	copy(out, replacement)
	return out, nil
}

func (m *Memory) ListClaims(_ context.Context, sessionID string) ([]domain.ItemClaim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ItemClaim
	for pid, claims := range m.claims {
		p, ok := m.participants[pid]
		if !ok || p.SessionID != sessionID {
			continue
		}
		out = append(out, claims...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreatePayment(_ context.Context, p domain.Payment) (domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[p.SessionID]; !ok {
		return domain.Payment{}, ErrNotFound
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = m.now()
	m.payments[p.SessionID] = append(m.payments[p.SessionID], p)
	return p, nil
}

func (m *Memory) ListPayments(_ context.Context, sessionID string) ([]domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payments := m.payments[sessionID]
	out := make([]domain.Payment, len(payments))
	copy(out, payments)
	return out, nil
}
