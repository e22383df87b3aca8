package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"fasting/backend/internal/model"
)

type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, user_id, plan_id, start_time, end_time, target_duration_hours,
	completion_status, manually_edited, merged_from_early_end, original_scheduled_start,
	notes, created_at`

// InsertSession assigns the session its id; callers pass sessions with an
// empty id.
func (r *SessionRepository) InsertSession(ctx context.Context, session *model.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	var planID interface{}
	if session.PlanID != nil {
		planID = *session.PlanID
	}
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.UserID,
		planID,
		formatTime(session.StartTime),
		formatTimePtr(session.EndTime),
		session.TargetDurationHours,
		session.CompletionStatus,
		boolToInt(session.ManuallyEdited),
		boolToInt(session.MergedFromEarlyEnd),
		formatTimePtr(session.OriginalScheduledStart),
		session.Notes,
		formatTime(session.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`,
		id,
	)
	return scanSession(row)
}

// ListSessions returns the user's sessions most-recent-first.
func (r *SessionRepository) ListSessions(ctx context.Context, userID string) ([]model.Session, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = ?
		 ORDER BY start_time DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		session, scanErr := scanSession(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// GetActiveSession returns the user's single active session, or ErrNotFound.
func (r *SessionRepository) GetActiveSession(ctx context.Context, userID string) (*model.Session, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = ? AND completion_status = ?
		 ORDER BY start_time DESC
		 LIMIT 1`,
		userID,
		model.StatusActive,
	)
	return scanSession(row)
}

func (r *SessionRepository) UpdateSession(ctx context.Context, session *model.Session) error {
	var planID interface{}
	if session.PlanID != nil {
		planID = *session.PlanID
	}
	_, err := r.db.ExecContext(
		ctx,
		`UPDATE sessions
		 SET plan_id = ?,
		     start_time = ?,
		     end_time = ?,
		     target_duration_hours = ?,
		     completion_status = ?,
		     manually_edited = ?,
		     merged_from_early_end = ?,
		     original_scheduled_start = ?,
		     notes = ?
		 WHERE id = ?`,
		planID,
		formatTime(session.StartTime),
		formatTimePtr(session.EndTime),
		session.TargetDurationHours,
		session.CompletionStatus,
		boolToInt(session.ManuallyEdited),
		boolToInt(session.MergedFromEarlyEnd),
		formatTimePtr(session.OriginalScheduledStart),
		session.Notes,
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func scanSession(s scanner) (*model.Session, error) {
	session := model.Session{}
	var planID sql.NullString
	var startTime string
	var endTime sql.NullString
	var manuallyEdited, merged int
	var originalStart sql.NullString
	var createdAt string
	err := s.Scan(
		&session.ID,
		&session.UserID,
		&planID,
		&startTime,
		&endTime,
		&session.TargetDurationHours,
		&session.CompletionStatus,
		&manuallyEdited,
		&merged,
		&originalStart,
		&session.Notes,
		&createdAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	if planID.Valid {
		value := planID.String
		session.PlanID = &value
	}
	session.ManuallyEdited = manuallyEdited != 0
	session.MergedFromEarlyEnd = merged != 0

	session.StartTime, err = parseTime(startTime)
	if err != nil {
		return nil, fmt.Errorf("parse session start_time: %w", err)
	}
	session.EndTime, err = parseTimePtr(endTime)
	if err != nil {
		return nil, fmt.Errorf("parse session end_time: %w", err)
	}
	session.OriginalScheduledStart, err = parseTimePtr(originalStart)
	if err != nil {
		return nil, fmt.Errorf("parse session original_scheduled_start: %w", err)
	}
	session.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse session created_at: %w", err)
	}
	return &session, nil
}
