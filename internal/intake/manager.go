package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"waitroom-intake/internal/core"
	"waitroom-intake/internal/logging"
	"waitroom-intake/pkg"
)

type liveSession struct {
	mu   sync.Mutex
	sess *core.Session

	// persisted counts the history entries already in the store.
	persisted int
	finished  bool
}

// Manager runs intake turns on behalf of the transport layers.  Turns on one
// session are serialised; different sessions proceed in parallel.
type Manager struct {
	Orch       *core.Orchestrator
	Store      Store
	Notifier   Notifier
	MessageCap int
	// NewID generates session IDs; defaults to uuid.NewString.
	NewID func() string

	mu   sync.RWMutex
	live map[string]*liveSession
	log  *slog.Logger
}

// NewManager constructs a Manager.  A nil notifier disables announcements.
func NewManager(orch *core.Orchestrator, store Store, notifier Notifier, messageCap int) *Manager {
	return &Manager{
		Orch:       orch,
		Store:      store,
		Notifier:   notifier,
		MessageCap: messageCap,
		NewID:      uuid.NewString,
		live:       map[string]*liveSession{},
		log:        logging.New("intake"),
	}
}

// Create opens a session, stores it and returns its ID and greeting.
func (m *Manager) Create(ctx context.Context) (string, string, error) {
	sess := m.Orch.NewSession(m.NewID())
	meta := &pkg.Session{
		ID:         sess.ID(),
		CreatedAt:  sess.CreatedAt(),
		MessageCap: m.MessageCap,
		NextAction: sess.NextAction().String(),
	}
	if err := m.Store.CreateSession(ctx, meta); err != nil {
		return "", "", fmt.Errorf("create session: %w", err)
	}
	ls := &liveSession{sess: sess}
	if err := m.persist(ctx, ls); err != nil {
		return "", "", err
	}
	m.mu.Lock()
	m.live[sess.ID()] = ls
	m.mu.Unlock()
	m.log.Info("session created", "session", sess.ID())
	return sess.ID(), m.Orch.Start(sess), nil
}

// Send applies one patient input and returns the resulting turn.
func (m *Manager) Send(ctx context.Context, id string, in core.Input) (*pkg.TurnResponse, error) {
	ls, err := m.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	sess := ls.sess
	if sess.Done() {
		// an earlier turn finished the intake but could not be stored
		if !ls.finished {
			if err := m.persist(context.WithoutCancel(ctx), ls); err != nil {
				return nil, err
			}
			m.finish(context.WithoutCancel(ctx), ls)
		}
		return nil, core.ErrSessionClosed
	}
	before := sess.Len()
	turn, stepErr := m.Orch.Step(ctx, sess, in)
	if sess.Len() > before || ls.persisted < before || turn != nil {
		// a cancelled step may still have recorded the patient's input
		if err := m.persist(context.WithoutCancel(ctx), ls); err != nil {
			return nil, err
		}
	}
	if stepErr != nil {
		return nil, stepErr
	}
	if turn.Done {
		m.finish(context.WithoutCancel(ctx), ls)
	}
	return toResponse(sess.ID(), turn), nil
}

// Snapshot returns the current state of a session, loading it if needed.
func (m *Manager) Snapshot(ctx context.Context, id string) (core.Snapshot, error) {
	ls, err := m.acquire(ctx, id)
	if errors.Is(err, core.ErrSessionClosed) {
		return m.storedSnapshot(ctx, id)
	}
	if err != nil {
		return core.Snapshot{}, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.sess.Snapshot(), nil
}

// Live reports how many sessions are held in memory.
func (m *Manager) Live() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.live)
}

// acquire returns the live session for id, restoring it from the store when
// the process has not seen it yet.
func (m *Manager) acquire(ctx context.Context, id string) (*liveSession, error) {
	m.mu.RLock()
	ls, ok := m.live[id]
	m.mu.RUnlock()
	if ok {
		return ls, nil
	}

	snap, err := m.storedSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap.Done {
		return nil, core.ErrSessionClosed
	}
	sess, err := core.Restore(snap)
	if err != nil {
		return nil, fmt.Errorf("restore session %s: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ls, ok := m.live[id]; ok {
		return ls, nil
	}
	ls = &liveSession{sess: sess, persisted: sess.Len()}
	m.live[id] = ls
	m.log.Info("session resumed", "session", id, "history", sess.Len())
	return ls, nil
}

func (m *Manager) storedSnapshot(ctx context.Context, id string) (core.Snapshot, error) {
	raw, err := m.Store.LoadState(ctx, id)
	if err != nil {
		return core.Snapshot{}, err
	}
	if len(raw) == 0 {
		return core.Snapshot{}, fmt.Errorf("%w: %s has no saved state", ErrSessionNotFound, id)
	}
	var snap core.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return core.Snapshot{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return snap, nil
}

// persist appends the history entries the store has not seen yet and saves
// the snapshot.  The watermark only moves once the append succeeds, so a
// failed write is retried on the next call.
func (m *Manager) persist(ctx context.Context, ls *liveSession) error {
	sess := ls.sess
	history := sess.History()
	if ls.persisted < len(history) {
		msgs := make([]pkg.Message, 0, len(history)-ls.persisted)
		for _, r := range history[ls.persisted:] {
			msgs = append(msgs, pkg.Message{SessionID: sess.ID(), Role: r.Speaker, Content: r.Text, CreatedAt: r.Timestamp})
		}
		if err := m.Store.AppendMessages(ctx, sess.ID(), msgs); err != nil {
			return fmt.Errorf("append messages: %w", err)
		}
		ls.persisted = len(history)
	}
	state, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.Store.SaveState(ctx, sess.ID(), sess.NextAction().String(), state); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// finish stores the summary, closes the session and tells listeners.  Errors
// are logged; the patient already has the final turn.
func (m *Manager) finish(ctx context.Context, ls *liveSession) {
	ls.finished = true
	sess := ls.sess
	id := sess.ID()
	if sum := sess.Summary(); sum != nil {
		if err := m.Store.UpsertSummary(ctx, sum); err != nil {
			m.log.Error("failed to upsert summary", "session", id, "error", err)
		}
	}
	if err := m.Store.CloseSession(ctx, id, closedAt(sess)); err != nil {
		m.log.Error("failed to close session", "session", id, "error", err)
	}
	if m.Notifier != nil {
		if err := m.Notifier.Notify(ctx, id); err != nil {
			m.log.Warn("summary notification failed", "session", id, "error", err)
		}
	}
	m.mu.Lock()
	delete(m.live, id)
	m.mu.Unlock()
	m.log.Info("session closed", "session", id)
}

func closedAt(sess *core.Session) time.Time {
	if sum := sess.Summary(); sum != nil {
		return sum.UpdatedAt
	}
	return time.Now()
}

func toResponse(id string, t *core.Turn) *pkg.TurnResponse {
	return &pkg.TurnResponse{
		SessionID: id,
		Action:    t.Action.String(),
		Reply:     t.Reply,
		Prompt:    t.Prompt,
		Awaiting:  string(t.Awaiting),
		Done:      t.Done,
		Summary:   t.Summary,
	}
}
