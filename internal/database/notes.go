package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Note is the transcript document produced for one recording.
type Note struct {
	ID          uuid.UUID `json:"id"`
	RecordingID uuid.UUID `json:"recording_id"`
	StorageKey  string    `json:"-"`
	Format      string    `json:"format"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// InsertNote stores a note metadata row. The note body lives in blob storage
// under StorageKey.
func (db *DB) InsertNote(ctx context.Context, n *Note) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO notes (id, recording_id, storage_key, format, size_bytes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		n.ID, n.RecordingID, n.StorageKey, n.Format, n.SizeBytes,
	)
	if err := row.Scan(&n.CreatedAt); err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

// GetNoteByRecording fetches the newest note for a recording.
func (db *DB) GetNoteByRecording(ctx context.Context, recordingID uuid.UUID) (*Note, error) {
	var n Note
	err := db.Pool.QueryRow(ctx, `
		SELECT id, recording_id, storage_key, format, size_bytes, created_at
		FROM notes WHERE recording_id = $1
		ORDER BY created_at DESC LIMIT 1`, recordingID,
	).Scan(&n.ID, &n.RecordingID, &n.StorageKey, &n.Format, &n.SizeBytes, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	return &n, nil
}
