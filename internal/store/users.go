package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/whisper/comment-moderator/internal/ban"
)

const userColumns = `telegram_id, username, warnings_count, suspicious_edits_count,
	is_banned, ban_until, is_blacklisted, edit_restricted, last_activity, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*ban.Record, error) {
	var (
		r        ban.Record
		banUntil sql.NullTime
	)
	err := row.Scan(&r.UserID, &r.Handle, &r.WarningCount, &r.SuspiciousEditCount,
		&r.IsBanned, &banUntil, &r.IsBlacklisted, &r.EditRestricted, &r.LastActivityAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.BanExpiresAt = timePtr(banUntil)
	return &r, nil
}

// UpdateUser implements ban.Repository. The row is created when missing and
// locked with SELECT ... FOR UPDATE for the rest of the transaction.
func (s *Store) UpdateUser(ctx context.Context, userID int64, handle string, fn func(r *ban.Record) (ban.Change, error)) (*ban.Record, error) {
	var out *ban.Record
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		const ensure = `
			INSERT INTO users (telegram_id, username)
			VALUES ($1, $2)
			ON CONFLICT (telegram_id) DO NOTHING`
		if _, err := tx.ExecContext(ctx, ensure, userID, handle); err != nil {
			return fmt.Errorf("store: ensure user: %w", err)
		}

		rec, err := scanUser(tx.QueryRowContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE telegram_id = $1 FOR UPDATE`, userID))
		if err != nil {
			return fmt.Errorf("store: lock user: %w", err)
		}
		if handle != "" {
			rec.Handle = handle
		}

		change, err := fn(rec)
		if err != nil {
			return fmt.Errorf("store: update user %d: %w", userID, err)
		}

		const update = `
			UPDATE users SET
				username = $2,
				warnings_count = $3,
				suspicious_edits_count = $4,
				is_banned = $5,
				ban_until = $6,
				is_blacklisted = $7,
				edit_restricted = $8,
				last_activity = $9,
				updated_at = NOW()
			WHERE telegram_id = $1`
		_, err = tx.ExecContext(ctx, update, userID, rec.Handle, rec.WarningCount, rec.SuspiciousEditCount,
			rec.IsBanned, nullTime(rec.BanExpiresAt), rec.IsBlacklisted, rec.EditRestricted, rec.LastActivityAt)
		if err != nil {
			return fmt.Errorf("store: update user: %w", err)
		}

		if w := change.Warning; w != nil {
			const insertWarning = `
				INSERT INTO warnings (user_id, reason, expires_at)
				VALUES ($1, $2, $3)`
			if _, err := tx.ExecContext(ctx, insertWarning, userID, w.Reason, w.ExpiresAt); err != nil {
				return fmt.Errorf("store: insert warning: %w", err)
			}
		}
		for _, e := range change.Log {
			if err := insertLog(ctx, tx, e); err != nil {
				return err
			}
		}

		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetUser implements ban.Repository.
func (s *Store) GetUser(ctx context.Context, userID int64) (*ban.Record, error) {
	rec, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return rec, nil
}

// UserHistory is the moderation history of one user.
type UserHistory struct {
	TotalComments    int        `json:"total_comments"`
	RejectedComments int        `json:"rejected_comments"`
	ActiveWarnings   int        `json:"active_warnings"`
	SuspiciousEdits  int        `json:"suspicious_edits"`
	LastEditAt       *time.Time `json:"last_edit_at,omitempty"`
}

// UserHistory counts the comments, warnings and edits of a user.
func (s *Store) UserHistory(ctx context.Context, userID int64) (UserHistory, error) {
	const query = `
		SELECT
			(SELECT COUNT(*) FROM comments WHERE user_id = $1),
			(SELECT COUNT(*) FROM comments WHERE user_id = $1 AND status = 'rejected'),
			(SELECT COUNT(*) FROM warnings WHERE user_id = $1 AND expires_at > NOW()),
			(SELECT COUNT(*) FROM message_edits WHERE user_id = $1 AND is_suspicious),
			(SELECT MAX(created_at) FROM message_edits WHERE user_id = $1)`

	var (
		h        UserHistory
		lastEdit sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&h.TotalComments, &h.RejectedComments, &h.ActiveWarnings, &h.SuspiciousEdits, &lastEdit)
	if err != nil {
		return UserHistory{}, fmt.Errorf("store: user history: %w", err)
	}
	h.LastEditAt = timePtr(lastEdit)
	return h, nil
}
