package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/whisper/comment-moderator/internal/comment"
)

const commentColumns = `id, message_id, chat_id, post_id, user_id, text, sentiment_score, status,
	moderated_by, rejection_reason, created_at, moderated_at, is_edited, edit_count, last_edit_at`

func scanComment(row rowScanner) (*comment.Comment, error) {
	var (
		c           comment.Comment
		moderatedBy sql.NullInt64
		moderatedAt sql.NullTime
		lastEditAt  sql.NullTime
	)
	err := row.Scan(&c.ID, &c.MessageID, &c.ChatID, &c.PostID, &c.UserID, &c.Text, &c.SentimentScore,
		&c.Status, &moderatedBy, &c.RejectionReason, &c.CreatedAt, &moderatedAt, &c.IsEdited,
		&c.EditCount, &lastEditAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, comment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if moderatedBy.Valid {
		v := moderatedBy.Int64
		c.ModeratedBy = &v
	}
	c.ModeratedAt = timePtr(moderatedAt)
	c.LastEditAt = timePtr(lastEditAt)
	return &c, nil
}

// CreateComment implements comment.Repository.
func (s *Store) CreateComment(ctx context.Context, c *comment.Comment) error {
	const query = `
		INSERT INTO comments (message_id, chat_id, post_id, user_id, text, sentiment_score, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		c.MessageID, c.ChatID, c.PostID, c.UserID, c.Text, c.SentimentScore, c.Status,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert comment: %w", err)
	}
	return nil
}

// GetComment implements comment.Repository.
func (s *Store) GetComment(ctx context.Context, id int64) (*comment.Comment, error) {
	c, err := scanComment(s.db.QueryRowContext(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE id = $1`, id))
	if err != nil && !errors.Is(err, comment.ErrNotFound) {
		return nil, fmt.Errorf("store: get comment: %w", err)
	}
	return c, err
}

// GetCommentByMessage implements comment.Repository. The newest comment
// wins when a message id was reused.
func (s *Store) GetCommentByMessage(ctx context.Context, messageID int64) (*comment.Comment, error) {
	c, err := scanComment(s.db.QueryRowContext(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE message_id = $1 ORDER BY id DESC LIMIT 1`, messageID))
	if err != nil && !errors.Is(err, comment.ErrNotFound) {
		return nil, fmt.Errorf("store: get comment by message: %w", err)
	}
	return c, err
}

// ModerateComment implements comment.Repository. The status check and the
// update happen under the row lock, so two moderators racing on the same
// comment cannot both succeed.
func (s *Store) ModerateComment(ctx context.Context, id int64, m comment.Moderation) (*comment.Comment, error) {
	var out *comment.Comment
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var status comment.Status
		err := tx.QueryRowContext(ctx, `SELECT status FROM comments WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return comment.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("store: lock comment: %w", err)
		}
		if status != comment.StatusPending {
			return comment.ErrAlreadyModerated
		}

		var moderatedBy sql.NullInt64
		if m.ModeratorID != nil {
			moderatedBy = sql.NullInt64{Int64: *m.ModeratorID, Valid: true}
		}
		const update = `
			UPDATE comments
			SET status = $2, moderated_by = $3, rejection_reason = $4, moderated_at = NOW()
			WHERE id = $1
			RETURNING ` + commentColumns
		c, err := scanComment(tx.QueryRowContext(ctx, update, id, m.Status, moderatedBy, m.Reason))
		if err != nil {
			return fmt.Errorf("store: moderate comment: %w", err)
		}

		m.Log.CommentID = id
		if err := insertLog(ctx, tx, m.Log); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordCommentEdit implements comment.Repository.
func (s *Store) RecordCommentEdit(ctx context.Context, id int64, e comment.Edit) (*comment.Comment, error) {
	var out *comment.Comment
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var oldText string
		err := tx.QueryRowContext(ctx, `SELECT text FROM comments WHERE id = $1 FOR UPDATE`, id).Scan(&oldText)
		if errors.Is(err, sql.ErrNoRows) {
			return comment.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("store: lock comment: %w", err)
		}

		const insertEdit = `
			INSERT INTO message_edits (comment_id, user_id, old_text, new_text, sentiment_change, is_suspicious, analysis)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
		_, err = tx.ExecContext(ctx, insertEdit, id, e.UserID, oldText, e.NewText,
			e.SentimentDelta, e.IsSuspicious, nullJSON(e.Analysis))
		if err != nil {
			return fmt.Errorf("store: insert edit: %w", err)
		}

		const update = `
			UPDATE comments
			SET text = $2, is_edited = TRUE, edit_count = edit_count + 1, last_edit_at = NOW()
			WHERE id = $1
			RETURNING ` + commentColumns
		c, err := scanComment(tx.QueryRowContext(ctx, update, id, e.NewText))
		if err != nil {
			return fmt.Errorf("store: update comment text: %w", err)
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
