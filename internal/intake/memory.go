package intake

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"waitroom-intake/pkg"
)

type memSession struct {
	meta     pkg.Session
	messages []pkg.Message
	state    []byte
	summary  *pkg.Summary
}

// MemoryStore is a Store kept in process memory.  It is used when no
// database is configured and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memSession
	nextID   int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]*memSession{}}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *pkg.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = &memSession{meta: *s}
	return nil
}

func (m *MemoryStore) lookup(id string) (*memSession, error) {
	ms, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return ms, nil
}

func (m *MemoryStore) AppendMessages(_ context.Context, sessionID string, msgs []pkg.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		m.nextID++
		msg.ID = m.nextID
		msg.SessionID = sessionID
		ms.messages = append(ms.messages, msg)
	}
	return nil
}

func (m *MemoryStore) SaveState(_ context.Context, sessionID, nextAction string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	ms.state = slices.Clone(state)
	ms.meta.NextAction = nextAction
	return nil
}

func (m *MemoryStore) LoadState(_ context.Context, sessionID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(ms.state), nil
}

func (m *MemoryStore) UpsertSummary(_ context.Context, sum *pkg.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, err := m.lookup(sum.SessionID)
	if err != nil {
		return err
	}
	cp := *sum
	cp.KeyPoints = slices.Clone(sum.KeyPoints)
	cp.Clarifications = slices.Clone(sum.Clarifications)
	if ms.summary != nil {
		cp.ID = ms.summary.ID
	} else {
		m.nextID++
		cp.ID = m.nextID
	}
	ms.summary = &cp
	return nil
}

func (m *MemoryStore) CloseSession(_ context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	ms.meta.ClosedAt = &at
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*pkg.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	s := ms.meta
	return &s, nil
}

func (m *MemoryStore) GetTranscript(_ context.Context, sessionID string) ([]pkg.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(ms.messages), nil
}

func (m *MemoryStore) GetSummary(_ context.Context, sessionID string) (*pkg.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if ms.summary == nil {
		return nil, nil
	}
	s := *ms.summary
	return &s, nil
}

// ListSessions returns previews newest first.
func (m *MemoryStore) ListSessions(_ context.Context) ([]pkg.DoctorSessionPreview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]pkg.DoctorSessionPreview, 0, len(m.sessions))
	for _, ms := range m.sessions {
		p := pkg.DoctorSessionPreview{
			SessionID:  ms.meta.ID,
			NextAction: ms.meta.NextAction,
			CreatedAt:  ms.meta.CreatedAt,
			ClosedAt:   ms.meta.ClosedAt,
		}
		if ms.summary != nil {
			p.KeyPoints = slices.Clone(ms.summary.KeyPoints)
		}
		if n := len(ms.messages); n > 0 {
			t := ms.messages[n-1].CreatedAt
			p.LastMessage = &t
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Broadcaster is an in-process Notifier that fans every notification out to
// all current listeners.  Slow listeners drop notifications.
type Broadcaster struct {
	mu        sync.Mutex
	listeners map[chan string]struct{}
}

// NewBroadcaster returns a Broadcaster with no listeners.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: map[chan string]struct{}{}}
}

func (b *Broadcaster) Notify(_ context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.listeners {
		select {
		case ch <- sessionID:
		default:
		}
	}
	return nil
}

func (b *Broadcaster) Listen(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 16)
	b.mu.Lock()
	b.listeners[ch] = struct{}{}
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.listeners, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}
