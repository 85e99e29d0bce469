package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"waitroom-intake/internal/intake"
	"waitroom-intake/internal/logging"
)

// Notifier wraps the LISTEN/NOTIFY mechanism in PostgreSQL.  Notify is called
// when a summary is stored; Listen feeds the doctor dashboard stream.
type Notifier struct {
	DB      *sql.DB
	DSN     string
	Channel string
	log     *slog.Logger
}

var _ intake.Notifier = (*Notifier)(nil)

// NewNotifier constructs a new Notifier.  dsn is used to open the dedicated
// listener connection.
func NewNotifier(db *sql.DB, dsn, channel string) *Notifier {
	return &Notifier{DB: db, DSN: dsn, Channel: channel, log: logging.New("notifier")}
}

// Notify sends the session ID on the channel.
func (n *Notifier) Notify(ctx context.Context, sessionID string) error {
	if _, err := n.DB.ExecContext(ctx, `SELECT pg_notify($1, $2)`, n.Channel, sessionID); err != nil {
		return fmt.Errorf("notify %s: %w", n.Channel, err)
	}
	return nil
}

// Listen subscribes to the channel on its own connection and yields session
// IDs until ctx is cancelled.
func (n *Notifier) Listen(ctx context.Context) (<-chan string, error) {
	report := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			n.log.Warn("listener event", "event", int(ev), "error", err)
		}
	}
	l := pq.NewListener(n.DSN, time.Second, time.Minute, report)
	if err := l.Listen(n.Channel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("listen %s: %w", pq.QuoteIdentifier(n.Channel), err)
	}

	ch := make(chan string)
	go func() {
		defer func() {
			_ = l.Close()
			close(ch)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case note := <-l.Notify:
				// nil after a reconnect; notifications may have been missed
				if note == nil {
					continue
				}
				select {
				case ch <- note.Extra:
				case <-ctx.Done():
					return
				}
			case <-time.After(90 * time.Second):
				if err := l.Ping(); err != nil {
					n.log.Warn("listener ping failed", "error", err)
				}
			}
		}
	}()
	return ch, nil
}
