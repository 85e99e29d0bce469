package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"waitroom-intake/internal/intake"
	"waitroom-intake/pkg"
)

// Repository stores sessions, transcripts and summaries in Postgres.  It
// implements intake.Store.
type Repository struct {
	DB *sql.DB
}

var _ intake.Store = (*Repository)(nil)

// NewRepository constructs a new Repository from an existing sql.DB.
// The caller is responsible for managing the DB connection lifecycle.
func NewRepository(db *sql.DB) *Repository { return &Repository{DB: db} }

func notFound(id string) error { return fmt.Errorf("%w: %s", intake.ErrSessionNotFound, id) }

func (r *Repository) CreateSession(ctx context.Context, s *pkg.Session) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, message_cap, next_action)
         VALUES ($1, $2, $3, $4)`,
		s.ID, s.CreatedAt, s.MessageCap, s.NextAction,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// AppendMessages inserts msgs in order within one transaction.
func (r *Repository) AppendMessages(ctx context.Context, sessionID string, msgs []pkg.Message) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at)
         VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, m := range msgs {
		if _, err := stmt.ExecContext(ctx, sessionID, m.Role, m.Content, m.CreatedAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

func (r *Repository) SaveState(ctx context.Context, sessionID, nextAction string, state []byte) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE sessions SET state = $2, next_action = $3 WHERE id = $1`,
		sessionID, string(state), nextAction,
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(sessionID)
	}
	return nil
}

func (r *Repository) LoadState(ctx context.Context, sessionID string) ([]byte, error) {
	var state []byte
	err := r.DB.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = $1`, sessionID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(sessionID)
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// UpsertSummary inserts or replaces the summary of a session and fills in
// its ID.
func (r *Repository) UpsertSummary(ctx context.Context, sum *pkg.Summary) error {
	clar, err := json.Marshal(sum.Clarifications)
	if err != nil {
		return err
	}
	keyPoints := sum.KeyPoints
	if keyPoints == nil {
		keyPoints = []string{}
	}
	err = r.DB.QueryRowContext(ctx,
		`INSERT INTO summaries (session_id, key_points, free_text, report_submitted, report_text, clarifications, document, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
         ON CONFLICT (session_id) DO UPDATE SET
             key_points = EXCLUDED.key_points,
             free_text = EXCLUDED.free_text,
             report_submitted = EXCLUDED.report_submitted,
             report_text = EXCLUDED.report_text,
             clarifications = EXCLUDED.clarifications,
             document = EXCLUDED.document,
             updated_at = EXCLUDED.updated_at
         RETURNING id`,
		sum.SessionID, pq.Array(keyPoints), sum.FreeText, sum.ReportSubmitted, sum.ReportText, string(clar), sum.Document, sum.UpdatedAt,
	).Scan(&sum.ID)
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

func (r *Repository) CloseSession(ctx context.Context, sessionID string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE sessions SET closed_at = $2 WHERE id = $1`, sessionID, at)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(sessionID)
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, sessionID string) (*pkg.Session, error) {
	var (
		s      pkg.Session
		closed sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, created_at, closed_at, message_cap, next_action
         FROM sessions WHERE id = $1`, sessionID,
	).Scan(&s.ID, &s.CreatedAt, &closed, &s.MessageCap, &s.NextAction)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(sessionID)
	}
	if err != nil {
		return nil, err
	}
	if closed.Valid {
		s.ClosedAt = &closed.Time
	}
	return &s, nil
}

// GetTranscript returns every message of a session in insertion order.
func (r *Repository) GetTranscript(ctx context.Context, sessionID string) ([]pkg.Message, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at
         FROM messages
         WHERE session_id = $1
         ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var transcript []pkg.Message
	for rows.Next() {
		var m pkg.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		transcript = append(transcript, m)
	}
	return transcript, rows.Err()
}

func (r *Repository) GetSummary(ctx context.Context, sessionID string) (*pkg.Summary, error) {
	var (
		sum  pkg.Summary
		clar []byte
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, session_id, key_points, free_text, report_submitted, report_text, clarifications, document, updated_at
         FROM summaries WHERE session_id = $1`, sessionID,
	).Scan(&sum.ID, &sum.SessionID, pq.Array(&sum.KeyPoints), &sum.FreeText, &sum.ReportSubmitted,
		&sum.ReportText, &clar, &sum.Document, &sum.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(clar, &sum.Clarifications); err != nil {
		return nil, fmt.Errorf("decode clarifications: %w", err)
	}
	return &sum, nil
}

// ListSessions returns a preview of every session, newest first.
func (r *Repository) ListSessions(ctx context.Context) ([]pkg.DoctorSessionPreview, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT s.id, s.next_action, s.created_at, s.closed_at,
                COALESCE(sm.key_points, '{}'),
                (SELECT MAX(m.created_at) FROM messages m WHERE m.session_id = s.id)
         FROM sessions s
         LEFT JOIN summaries sm ON sm.session_id = s.id
         ORDER BY s.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pkg.DoctorSessionPreview
	for rows.Next() {
		var (
			p            pkg.DoctorSessionPreview
			closed, last sql.NullTime
		)
		if err := rows.Scan(&p.SessionID, &p.NextAction, &p.CreatedAt, &closed, pq.Array(&p.KeyPoints), &last); err != nil {
			return nil, err
		}
		if closed.Valid {
			p.ClosedAt = &closed.Time
		}
		if last.Valid {
			p.LastMessage = &last.Time
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPatientMessages counts the patient turns stored for a session.
func (r *Repository) CountPatientMessages(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = $1 AND role = 'patient'`,
		sessionID,
	).Scan(&count)
	return count, err
}
