package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/whisper/comment-moderator/internal/modlog"
)

func insertLog(ctx context.Context, tx *sql.Tx, e modlog.Entry) error {
	const query = `
		INSERT INTO moderator_logs (moderator_id, action, target_user_id, comment_id, details, analysis)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := tx.ExecContext(ctx, query,
		e.ModeratorID, string(e.Kind), e.TargetUserID, nullInt(e.CommentID), e.Details, nullJSON(e.Analysis))
	if err != nil {
		return fmt.Errorf("store: insert log %s: %w", e.Kind, err)
	}
	return nil
}

// CountByKind returns the number of log entries per kind, created at or
// after since when it is set. Kinds without entries are absent.
func (s *Store) CountByKind(ctx context.Context, since *time.Time) (map[modlog.Kind]int, error) {
	query := `SELECT action, COUNT(*) FROM moderator_logs`
	var args []any
	if since != nil {
		query += ` WHERE created_at >= $1`
		args = append(args, *since)
	}
	query += ` GROUP BY action`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: count by kind: %w", err)
	}
	defer rows.Close()

	counts := make(map[modlog.Kind]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("store: count by kind scan: %w", err)
		}
		counts[modlog.Kind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: count by kind rows: %w", err)
	}
	return counts, nil
}

// RecentLog returns the newest log entries about a user, newest first.
func (s *Store) RecentLog(ctx context.Context, userID int64, limit int) ([]modlog.Entry, error) {
	const query = `
		SELECT id, moderator_id, action, target_user_id, COALESCE(comment_id, 0), details, analysis, created_at
		FROM moderator_logs
		WHERE target_user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent log: %w", err)
	}
	defer rows.Close()

	var entries []modlog.Entry
	for rows.Next() {
		var (
			e        modlog.Entry
			kind     string
			analysis []byte
		)
		if err := rows.Scan(&e.ID, &e.ModeratorID, &kind, &e.TargetUserID, &e.CommentID,
			&e.Details, &analysis, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: recent log scan: %w", err)
		}
		e.Kind = modlog.Kind(kind)
		e.Analysis = analysis
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent log rows: %w", err)
	}
	return entries, nil
}
