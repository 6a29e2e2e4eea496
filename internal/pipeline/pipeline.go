// Package pipeline drives a recording through probe → segment → transcribe →
// merge → persist, owning the run's status field throughout.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/vn-engine/internal/database"
	"github.com/snarg/vn-engine/internal/merge"
	"github.com/snarg/vn-engine/internal/metrics"
	"github.com/snarg/vn-engine/internal/segment"
)

// ProbeFunc returns the duration in seconds of the audio file at path.
type ProbeFunc func(ctx context.Context, path string) (float64, error)

// Cutter splits a recording into re-encoded segment files.
type Cutter interface {
	Cut(ctx context.Context, srcPath string, duration float64) ([]segment.Segment, error)
}

// Transcriber resolves every segment to a terminal outcome.
type Transcriber interface {
	Run(ctx context.Context, segments []segment.Segment) []merge.Outcome
}

// Store persists recording state and note metadata.
type Store interface {
	UpdateRecordingStatus(ctx context.Context, id uuid.UUID, status string) error
	SetRecordingDuration(ctx context.Context, id uuid.UUID, seconds float64) error
	InsertNote(ctx context.Context, n *database.Note) error
}

// BlobStore persists note documents.
type BlobStore interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	LocalPath(key string) string
}

// Notifier publishes status transitions for external observers. May be nil.
type Notifier interface {
	PublishStatus(recordingID uuid.UUID, status string)
}

// Options configures a Processor. Everything is explicit: no ambient state,
// so tests can substitute every collaborator.
type Options struct {
	Store      Store
	Blobs      BlobStore
	Probe      ProbeFunc
	Cutter     Cutter
	Pool       Transcriber
	Notifier   Notifier
	NoteFormat string // "txt" or "md"
	Log        zerolog.Logger
}

// Processor runs the transcription pipeline for one recording at a time.
type Processor struct {
	opts Options
}

// New creates a Processor.
func New(opts Options) *Processor {
	if opts.NoteFormat == "" {
		opts.NoteFormat = "txt"
	}
	return &Processor{opts: opts}
}

// Process drives one recording from uploaded to a terminal status. The
// returned error is non-nil iff the run ended failed; segment-level
// transcription failures degrade into sentinels and never fail the run.
// Temp segment files are removed on every terminal transition.
func (p *Processor) Process(ctx context.Context, rec *database.Recording) error {
	log := p.opts.Log.With().Stringer("recording_id", rec.ID).Logger()
	start := time.Now()
	log.Info().Str("file", rec.OriginalName).Msg("processing started")

	if err := p.setStatus(ctx, log, rec, StatusProcessing); err != nil {
		return p.fail(ctx, log, rec, "start", err)
	}

	audioPath := p.opts.Blobs.LocalPath(rec.StorageKey)
	if audioPath == "" {
		return p.fail(ctx, log, rec, "probe", fmt.Errorf("audio file missing for key %q", rec.StorageKey))
	}

	duration, err := p.opts.Probe(ctx, audioPath)
	if err != nil {
		return p.fail(ctx, log, rec, "probe", err)
	}
	log.Info().Float64("duration_sec", duration).Msg("duration probed")
	if err := p.opts.Store.SetRecordingDuration(ctx, rec.ID, duration); err != nil {
		// Duration is advisory metadata; the run can still complete.
		log.Warn().Err(err).Msg("could not persist duration")
	}

	segments, err := p.opts.Cutter.Cut(ctx, audioPath, duration)
	if err != nil {
		// The segmenter already removed its partial output.
		return p.fail(ctx, log, rec, "segment", err)
	}
	metrics.SegmentsCutTotal.Add(float64(len(segments)))

	// Segment files are deleted whichever way the run ends.
	defer segment.Cleanup(segments, segment.TempDir(segments), log)

	outcomes := p.opts.Pool.Run(ctx, segments)
	for _, o := range outcomes {
		log.Info().
			Int("index", o.Index).
			Bool("ok", o.OK).
			Int("attempts", o.Attempts).
			Msg("segment outcome")
	}

	text := merge.Merge(outcomes)
	if failed := merge.FailedCount(outcomes); failed > 0 {
		log.Warn().Int("failed_segments", failed).Int("segments", len(outcomes)).Msg("note contains failure markers")
	}

	note, err := p.saveNote(ctx, rec, text)
	if err != nil {
		return p.fail(ctx, log, rec, "persist", err)
	}

	if err := p.setStatus(ctx, log, rec, StatusDone); err != nil {
		return p.fail(ctx, log, rec, "finish", err)
	}

	metrics.RunsTotal.WithLabelValues(StatusDone.String()).Inc()
	metrics.RunDuration.Observe(time.Since(start).Seconds())
	log.Info().
		Stringer("note_id", note.ID).
		Int64("note_bytes", note.SizeBytes).
		Int("segments", len(segments)).
		Dur("elapsed_ms", time.Since(start)).
		Msg("processing finished")
	return nil
}

// saveNote writes the merged document to blob storage and records its
// metadata row.
func (p *Processor) saveNote(ctx context.Context, rec *database.Recording, text string) (*database.Note, error) {
	base := strings.TrimSuffix(rec.OriginalName, filepath.Ext(rec.OriginalName))
	if base == "" {
		base = rec.ID.String()
	}
	key := fmt.Sprintf("notes/%s/%s_note.%s", time.Now().UTC().Format("2006/01/02"), base, p.opts.NoteFormat)

	body := []byte(text)
	if err := p.opts.Blobs.Save(ctx, key, body, "text/plain; charset=utf-8"); err != nil {
		return nil, fmt.Errorf("save note blob: %w", err)
	}

	note := &database.Note{
		RecordingID: rec.ID,
		StorageKey:  key,
		Format:      p.opts.NoteFormat,
		SizeBytes:   int64(len(body)),
	}
	if err := p.opts.Store.InsertNote(ctx, note); err != nil {
		return nil, fmt.Errorf("insert note row: %w", err)
	}
	return note, nil
}

// setStatus validates and persists a status transition, then notifies.
func (p *Processor) setStatus(ctx context.Context, log zerolog.Logger, rec *database.Recording, next Status) error {
	current, err := ParseStatus(rec.Status)
	if err != nil {
		return err
	}
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("invalid status transition %s → %s", current, next)
	}
	if err := p.opts.Store.UpdateRecordingStatus(ctx, rec.ID, next.String()); err != nil {
		return fmt.Errorf("persist status %s: %w", next, err)
	}
	rec.Status = next.String()
	log.Info().Str("from", current.String()).Str("to", next.String()).Msg("status changed")

	if p.opts.Notifier != nil {
		p.opts.Notifier.PublishStatus(rec.ID, next.String())
	}
	return nil
}

// fail moves the run to failed, recording the stage that broke it. Unlike
// setStatus it does not validate the transition: a run that never made it
// into processing still ends failed. If even the failed-status write breaks,
// that is logged; the run is failed either way.
func (p *Processor) fail(ctx context.Context, log zerolog.Logger, rec *database.Recording, stage string, cause error) error {
	log.Error().Err(cause).Str("stage", stage).Msg("processing failed")

	if cur, err := ParseStatus(rec.Status); err != nil || !cur.Terminal() {
		if err := p.opts.Store.UpdateRecordingStatus(ctx, rec.ID, StatusFailed.String()); err != nil {
			log.Error().Err(err).Msg("could not persist failed status")
		} else {
			rec.Status = StatusFailed.String()
			if p.opts.Notifier != nil {
				p.opts.Notifier.PublishStatus(rec.ID, rec.Status)
			}
		}
	}
	metrics.RunsTotal.WithLabelValues(StatusFailed.String()).Inc()
	return fmt.Errorf("%s: %w", stage, cause)
}
