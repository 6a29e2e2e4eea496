package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Recording is one uploaded voice recording and its processing state.
type Recording struct {
	ID           uuid.UUID `json:"id"`
	StorageKey   string    `json:"-"`
	OriginalName string    `json:"original_name"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	DurationSec  *float64  `json:"duration_sec,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// InsertRecording stores a new recording row with status "uploaded".
func (db *DB) InsertRecording(ctx context.Context, r *Recording) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO recordings (id, storage_key, original_name, mime_type, size_bytes, status)
		VALUES ($1, $2, $3, $4, $5, 'uploaded')
		RETURNING status, created_at, updated_at`,
		r.ID, r.StorageKey, r.OriginalName, r.MimeType, r.SizeBytes,
	)
	if err := row.Scan(&r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

// GetRecording fetches one recording by id.
func (db *DB) GetRecording(ctx context.Context, id uuid.UUID) (*Recording, error) {
	var r Recording
	err := db.Pool.QueryRow(ctx, `
		SELECT id, storage_key, original_name, mime_type, size_bytes, duration_sec, status, created_at, updated_at
		FROM recordings WHERE id = $1`, id,
	).Scan(&r.ID, &r.StorageKey, &r.OriginalName, &r.MimeType, &r.SizeBytes,
		&r.DurationSec, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recording: %w", err)
	}
	return &r, nil
}

// ListRecordings returns recordings newest first.
func (db *DB) ListRecordings(ctx context.Context, limit, offset int) ([]Recording, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, storage_key, original_name, mime_type, size_bytes, duration_sec, status, created_at, updated_at
		FROM recordings ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	recordings := []Recording{}
	for rows.Next() {
		var r Recording
		if err := rows.Scan(&r.ID, &r.StorageKey, &r.OriginalName, &r.MimeType, &r.SizeBytes,
			&r.DurationSec, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		recordings = append(recordings, r)
	}
	return recordings, rows.Err()
}

// UpdateRecordingStatus persists a status transition.
func (db *DB) UpdateRecordingStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE recordings SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update recording status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRecordingDuration stores the probed duration.
func (db *DB) SetRecordingDuration(ctx context.Context, id uuid.UUID, seconds float64) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE recordings SET duration_sec = $2, updated_at = now() WHERE id = $1`, id, seconds)
	if err != nil {
		return fmt.Errorf("set recording duration: %w", err)
	}
	return nil
}
