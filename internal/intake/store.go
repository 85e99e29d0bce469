// Package intake owns the live intake sessions of a running service.  It
// serialises turns per session, persists every new transcript entry and the
// session snapshot, and announces finished summaries to doctors.
package intake

import (
	"context"
	"errors"
	"time"

	"waitroom-intake/pkg"
)

// ErrSessionNotFound is returned when a session ID is unknown to the store.
var ErrSessionNotFound = errors.New("session not found")

// Store persists sessions, their transcripts, snapshots and summaries.
// db.Repository implements it on Postgres; MemoryStore keeps everything in
// process.
type Store interface {
	CreateSession(ctx context.Context, s *pkg.Session) error
	AppendMessages(ctx context.Context, sessionID string, msgs []pkg.Message) error
	SaveState(ctx context.Context, sessionID, nextAction string, state []byte) error
	LoadState(ctx context.Context, sessionID string) ([]byte, error)
	UpsertSummary(ctx context.Context, sum *pkg.Summary) error
	CloseSession(ctx context.Context, sessionID string, at time.Time) error
	GetSession(ctx context.Context, sessionID string) (*pkg.Session, error)
	GetTranscript(ctx context.Context, sessionID string) ([]pkg.Message, error)
	// GetSummary returns nil without error when no summary exists yet.
	GetSummary(ctx context.Context, sessionID string) (*pkg.Summary, error)
	ListSessions(ctx context.Context) ([]pkg.DoctorSessionPreview, error)
}

// Notifier announces summary updates.  Listen delivers session IDs until ctx
// is cancelled, then closes the channel.
type Notifier interface {
	Notify(ctx context.Context, sessionID string) error
	Listen(ctx context.Context) (<-chan string, error)
}
