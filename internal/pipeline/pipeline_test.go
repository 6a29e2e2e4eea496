package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/vn-engine/internal/database"
	"github.com/snarg/vn-engine/internal/merge"
	"github.com/snarg/vn-engine/internal/segment"
)

// ── fakes ────────────────────────────────────────────────────────────

type fakeStore struct {
	mu         sync.Mutex
	statuses   []string
	durations  map[uuid.UUID]float64
	notes      []*database.Note
	failStatus string // persisting this status fails
	failNote   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{durations: make(map[uuid.UUID]float64)}
}

func (s *fakeStore) UpdateRecordingStatus(ctx context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == s.failStatus {
		return errors.New("db down")
	}
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeStore) SetRecordingDuration(ctx context.Context, id uuid.UUID, seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durations[id] = seconds
	return nil
}

func (s *fakeStore) InsertNote(ctx context.Context, n *database.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNote {
		return errors.New("insert failed")
	}
	n.ID = uuid.New()
	s.notes = append(s.notes, n)
	return nil
}

type fakeBlobs struct {
	mu    sync.Mutex
	saved map[string][]byte
	audio map[string]string // storage key → local path
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{saved: make(map[string][]byte), audio: make(map[string]string)}
}

func (b *fakeBlobs) Save(ctx context.Context, key string, data []byte, ct string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saved[key] = data
	return nil
}

func (b *fakeBlobs) LocalPath(key string) string { return b.audio[key] }

func (b *fakeBlobs) noteText(t *testing.T) string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, data := range b.saved {
		if strings.HasPrefix(key, "notes/") {
			return string(data)
		}
	}
	t.Fatal("no note blob saved")
	return ""
}

// fakeCutter writes real files so cleanup is observable.
type fakeCutter struct {
	dir      string
	perSeg   float64
	err      error
	segments []segment.Segment
	called   bool
}

func (c *fakeCutter) Cut(ctx context.Context, srcPath string, duration float64) ([]segment.Segment, error) {
	c.called = true
	if c.err != nil {
		return nil, c.err
	}
	for _, r := range segment.Plan(duration, c.perSeg) {
		path := filepath.Join(c.dir, fmt.Sprintf("segment_%03d.mp3", r.Index))
		if err := os.WriteFile(path, []byte("seg"), 0o644); err != nil {
			return nil, err
		}
		c.segments = append(c.segments, segment.Segment{Range: r, Path: path})
	}
	return c.segments, nil
}

type fakePool struct {
	outcome func(seg segment.Segment) merge.Outcome
}

func (p *fakePool) Run(ctx context.Context, segments []segment.Segment) []merge.Outcome {
	outcomes := make([]merge.Outcome, len(segments))
	for i, seg := range segments {
		outcomes[i] = p.outcome(seg)
	}
	return outcomes
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) PublishStatus(id uuid.UUID, status string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, status)
}

// ── helpers ──────────────────────────────────────────────────────────

type fixture struct {
	store    *fakeStore
	blobs    *fakeBlobs
	cutter   *fakeCutter
	notifier *fakeNotifier
	rec      *database.Recording
	proc     *Processor
}

func newFixture(t *testing.T, duration float64, probeErr error, outcome func(segment.Segment) merge.Outcome) *fixture {
	t.Helper()

	audioDir := t.TempDir()
	audioPath := filepath.Join(audioDir, "lecture.m4a")
	if err := os.WriteFile(audioPath, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		store:    newFakeStore(),
		blobs:    newFakeBlobs(),
		cutter:   &fakeCutter{dir: t.TempDir(), perSeg: 150},
		notifier: &fakeNotifier{},
		rec: &database.Recording{
			ID:           uuid.New(),
			StorageKey:   "voices/2026/08/29/lecture.m4a",
			OriginalName: "lecture.m4a",
			MimeType:     "audio/m4a",
			Status:       "uploaded",
		},
	}
	f.blobs.audio[f.rec.StorageKey] = audioPath

	f.proc = New(Options{
		Store: f.store,
		Blobs: f.blobs,
		Probe: func(ctx context.Context, path string) (float64, error) {
			if probeErr != nil {
				return 0, probeErr
			}
			return duration, nil
		},
		Cutter:   f.cutter,
		Pool:     &fakePool{outcome: outcome},
		Notifier: f.notifier,
		Log:      zerolog.Nop(),
	})
	return f
}

func okOutcome(seg segment.Segment) merge.Outcome {
	return merge.Outcome{Index: seg.Index, Text: fmt.Sprintf("text-%d", seg.Index), OK: true, Attempts: 1}
}

func failedOutcome(seg segment.Segment) merge.Outcome {
	return merge.Outcome{Index: seg.Index, OK: false, Attempts: 3}
}

func assertSegmentsRemoved(t *testing.T, segs []segment.Segment) {
	t.Helper()
	for _, seg := range segs {
		if _, err := os.Stat(seg.Path); !os.IsNotExist(err) {
			t.Errorf("segment file %s not cleaned up", seg.Path)
		}
	}
}

// ── tests ────────────────────────────────────────────────────────────

func TestProcessSuccess(t *testing.T) {
	f := newFixture(t, 310, nil, okOutcome)

	if err := f.proc.Process(context.Background(), f.rec); err != nil {
		t.Fatalf("Process: %v", err)
	}

	wantStatuses := []string{"processing", "done"}
	if len(f.store.statuses) != 2 || f.store.statuses[0] != wantStatuses[0] || f.store.statuses[1] != wantStatuses[1] {
		t.Errorf("status sequence = %v, want %v", f.store.statuses, wantStatuses)
	}
	if f.rec.Status != "done" {
		t.Errorf("recording status = %q, want done", f.rec.Status)
	}
	if got := f.store.durations[f.rec.ID]; got != 310 {
		t.Errorf("persisted duration = %v, want 310", got)
	}

	// 310s / 150s → 3 segments, merged in order.
	want := "text-0\n\ntext-1\n\ntext-2"
	if got := f.blobs.noteText(t); got != want {
		t.Errorf("note = %q, want %q", got, want)
	}
	if len(f.store.notes) != 1 {
		t.Fatalf("%d note rows, want 1", len(f.store.notes))
	}
	if f.store.notes[0].RecordingID != f.rec.ID {
		t.Error("note row references wrong recording")
	}
	if f.store.notes[0].SizeBytes != int64(len(want)) {
		t.Errorf("note size = %d, want %d", f.store.notes[0].SizeBytes, len(want))
	}

	assertSegmentsRemoved(t, f.cutter.segments)

	if len(f.notifier.events) != 2 || f.notifier.events[1] != "done" {
		t.Errorf("notifier events = %v", f.notifier.events)
	}
}

func TestProcessProbeFailure(t *testing.T) {
	f := newFixture(t, 0, errors.New("ffprobe: corrupt header"), okOutcome)

	err := f.proc.Process(context.Background(), f.rec)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.HasPrefix(err.Error(), "probe:") {
		t.Errorf("error = %v, want probe stage", err)
	}
	if f.rec.Status != "failed" {
		t.Errorf("status = %q, want failed", f.rec.Status)
	}
	if f.cutter.called {
		t.Error("segmenter must not run after probe failure")
	}
	if len(f.store.notes) != 0 {
		t.Error("no note should be persisted")
	}
}

func TestProcessSegmentationFailure(t *testing.T) {
	f := newFixture(t, 310, nil, okOutcome)
	f.cutter.err = &segment.Error{Index: 1, Err: errors.New("ffmpeg exploded")}

	err := f.proc.Process(context.Background(), f.rec)
	if err == nil {
		t.Fatal("expected error")
	}
	var segErr *segment.Error
	if !errors.As(err, &segErr) {
		t.Errorf("error should wrap *segment.Error, got %v", err)
	}
	if f.rec.Status != "failed" {
		t.Errorf("status = %q, want failed", f.rec.Status)
	}
}

func TestProcessAllSegmentsFailStillDone(t *testing.T) {
	// Segment-level failures degrade to sentinels; even an all-sentinel
	// document ends the run as done.
	f := newFixture(t, 310, nil, failedOutcome)

	if err := f.proc.Process(context.Background(), f.rec); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if f.rec.Status != "done" {
		t.Errorf("status = %q, want done", f.rec.Status)
	}
	want := "[SEGMENT FAILED]\n\n[SEGMENT FAILED]\n\n[SEGMENT FAILED]"
	if got := f.blobs.noteText(t); got != want {
		t.Errorf("note = %q, want %q", got, want)
	}
	assertSegmentsRemoved(t, f.cutter.segments)
}

func TestProcessMixedOutcomes(t *testing.T) {
	f := newFixture(t, 310, nil, func(seg segment.Segment) merge.Outcome {
		if seg.Index == 1 {
			return merge.Outcome{Index: 1, OK: false, Attempts: 3}
		}
		return merge.Outcome{Index: seg.Index, Text: string(rune('A' + seg.Index)), OK: true, Attempts: 1}
	})

	if err := f.proc.Process(context.Background(), f.rec); err != nil {
		t.Fatalf("Process: %v", err)
	}
	want := "A\n\n[SEGMENT FAILED]\n\nC"
	if got := f.blobs.noteText(t); got != want {
		t.Errorf("note = %q, want %q", got, want)
	}
	if f.rec.Status != "done" {
		t.Errorf("status = %q, want done", f.rec.Status)
	}
}

func TestProcessNotePersistFailure(t *testing.T) {
	f := newFixture(t, 150, nil, okOutcome)
	f.store.failNote = true

	err := f.proc.Process(context.Background(), f.rec)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.HasPrefix(err.Error(), "persist:") {
		t.Errorf("error = %v, want persist stage", err)
	}
	if f.rec.Status != "failed" {
		t.Errorf("status = %q, want failed", f.rec.Status)
	}
	assertSegmentsRemoved(t, f.cutter.segments)
}

func TestProcessStatusPersistFailureAborts(t *testing.T) {
	f := newFixture(t, 150, nil, okOutcome)
	f.store.failStatus = "processing"

	err := f.proc.Process(context.Background(), f.rec)
	if err == nil {
		t.Fatal("expected error")
	}
	if f.cutter.called {
		t.Error("pipeline must not proceed when the processing transition cannot be persisted")
	}
	// The failed state is still recorded even though the run never entered processing.
	if len(f.store.statuses) != 1 || f.store.statuses[0] != "failed" {
		t.Errorf("statuses = %v, want [failed]", f.store.statuses)
	}
}

func TestProcessMissingAudio(t *testing.T) {
	f := newFixture(t, 310, nil, okOutcome)
	f.rec.StorageKey = "voices/ghost.m4a"

	err := f.proc.Process(context.Background(), f.rec)
	if err == nil {
		t.Fatal("expected error")
	}
	if f.rec.Status != "failed" {
		t.Errorf("status = %q, want failed", f.rec.Status)
	}
	if f.cutter.called {
		t.Error("segmenter must not run for a missing file")
	}
}
