package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/vn-engine/internal/database"
)

type fakeStore struct {
	mu       sync.Mutex
	inserted []*database.Recording
	err      error
}

func (s *fakeStore) InsertRecording(_ context.Context, rec *database.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, rec)
	return nil
}

type fakeBlobs struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (b *fakeBlobs) Save(_ context.Context, key string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saved == nil {
		b.saved = make(map[string][]byte)
	}
	b.saved[key] = data
	return nil
}

type fakeProcessor struct {
	mu        sync.Mutex
	processed []*database.Recording
}

func (p *fakeProcessor) Process(_ context.Context, rec *database.Recording) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = append(p.processed, rec)
	return nil
}

func newTestWatcher(t *testing.T) (*Watcher, *fakeStore, *fakeBlobs, *fakeProcessor) {
	t.Helper()
	store := &fakeStore{}
	blobs := &fakeBlobs{}
	proc := &fakeProcessor{}
	w := New(Options{
		WatchDir:  t.TempDir(),
		Store:     store,
		Blobs:     blobs,
		Processor: proc,
		Log:       zerolog.Nop(),
	})
	return w, store, blobs, proc
}

func TestIngestFile(t *testing.T) {
	w, store, blobs, proc := newTestWatcher(t)

	src := filepath.Join(w.watchDir, "memo.m4a")
	if err := os.WriteFile(src, []byte("fake audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	w.ingestFile(context.Background(), src)

	if n := len(store.inserted); n != 1 {
		t.Fatalf("inserted %d recordings, want 1", n)
	}
	rec := store.inserted[0]
	if rec.MimeType != "audio/x-m4a" {
		t.Errorf("mime = %q, want audio/x-m4a", rec.MimeType)
	}
	if rec.OriginalName != "memo.m4a" {
		t.Errorf("original name = %q, want memo.m4a", rec.OriginalName)
	}
	if rec.SizeBytes != int64(len("fake audio")) {
		t.Errorf("size = %d, want %d", rec.SizeBytes, len("fake audio"))
	}
	if !strings.HasPrefix(rec.StorageKey, "voices/") || !strings.HasSuffix(rec.StorageKey, ".m4a") {
		t.Errorf("unexpected storage key %q", rec.StorageKey)
	}

	if string(blobs.saved[rec.StorageKey]) != "fake audio" {
		t.Error("blob content not saved under storage key")
	}

	if len(proc.processed) != 1 || proc.processed[0].ID != rec.ID {
		t.Error("recording not handed to processor")
	}

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source file not removed after ingest")
	}
}

func TestIngestFileSkipsUnknownExtension(t *testing.T) {
	w, store, _, _ := newTestWatcher(t)

	src := filepath.Join(w.watchDir, "notes.txt")
	if err := os.WriteFile(src, []byte("not audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	w.ingestFile(context.Background(), src)

	if len(store.inserted) != 0 {
		t.Error("non-audio file was ingested")
	}
	if got := w.filesSkipped.Load(); got != 1 {
		t.Errorf("filesSkipped = %d, want 1", got)
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("skipped file should be left in place")
	}
}

func TestIngestFileSkipsEmpty(t *testing.T) {
	w, store, _, _ := newTestWatcher(t)

	src := filepath.Join(w.watchDir, "empty.mp3")
	if err := os.WriteFile(src, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	w.ingestFile(context.Background(), src)

	if len(store.inserted) != 0 {
		t.Error("empty file was ingested")
	}
}

func TestIngestFileStoreFailureKeepsSource(t *testing.T) {
	w, store, _, proc := newTestWatcher(t)
	store.err = context.DeadlineExceeded

	src := filepath.Join(w.watchDir, "memo.ogg")
	if err := os.WriteFile(src, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	w.ingestFile(context.Background(), src)

	if len(proc.processed) != 0 {
		t.Error("processor should not run when insert fails")
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("source file should survive a failed insert")
	}
}

func TestScheduleIngestDebounces(t *testing.T) {
	w, store, _, _ := newTestWatcher(t)
	w.debounce = 30 * time.Millisecond

	src := filepath.Join(w.watchDir, "memo.wav")
	if err := os.WriteFile(src, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	w.scheduleIngest(ctx, src)
	w.scheduleIngest(ctx, src)
	w.scheduleIngest(ctx, src)

	deadline := time.Now().Add(2 * time.Second)
	for {
		store.mu.Lock()
		n := len(store.inserted)
		store.mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Allow any stray timers to fire.
	time.Sleep(3 * w.debounce)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.inserted) != 1 {
		t.Errorf("coalesced events produced %d ingests, want 1", len(store.inserted))
	}
}

func TestSweepExisting(t *testing.T) {
	w, store, _, _ := newTestWatcher(t)

	for _, name := range []string{"a.mp3", "b.m4a", "ignore.txt"} {
		if err := os.WriteFile(filepath.Join(w.watchDir, name), []byte("audio"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	w.sweepExisting(context.Background())

	if len(store.inserted) != 2 {
		t.Errorf("sweep ingested %d files, want 2", len(store.inserted))
	}
}
