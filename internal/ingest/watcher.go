// Package ingest watches a drop directory for audio files and feeds them into
// the processing pipeline. This provides an alternative to HTTP upload for
// devices that sync recordings to a shared folder.
package ingest

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/vn-engine/internal/database"
)

// mimeByExt maps accepted drop-folder extensions to the MIME type recorded on
// the voice row. Files with other extensions are skipped.
var mimeByExt = map[string]string{
	".m4a": "audio/x-m4a",
	".mp4": "audio/mp4",
	".aac": "audio/aac",
	".ogg": "audio/ogg",
	".wav": "audio/wav",
	".mp3": "audio/mpeg",
}

// Store is the subset of database operations the watcher needs.
type Store interface {
	InsertRecording(ctx context.Context, rec *database.Recording) error
}

// Blobs persists the ingested audio under a storage key.
type Blobs interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
}

// Processor runs the transcription pipeline for a stored recording.
type Processor interface {
	Process(ctx context.Context, rec *database.Recording) error
}

// Watcher monitors a single directory for new audio files. Events are
// debounced so a file is only picked up after writes to it have settled.
type Watcher struct {
	watchDir  string
	store     Store
	blobs     Blobs
	processor Processor
	log       zerolog.Logger

	watcher  *fsnotify.Watcher
	debounce time.Duration

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	filesIngested atomic.Int64
	filesSkipped  atomic.Int64
}

// Options configures a Watcher.
type Options struct {
	WatchDir  string
	Store     Store
	Blobs     Blobs
	Processor Processor
	Log       zerolog.Logger
}

func New(opts Options) *Watcher {
	return &Watcher{
		watchDir:       opts.WatchDir,
		store:          opts.Store,
		blobs:          opts.Blobs,
		processor:      opts.Processor,
		log:            opts.Log.With().Str("component", "watcher").Logger(),
		debounce:       500 * time.Millisecond,
		debounceTimers: make(map[string]*time.Timer),
	}
}

// Start begins watching. Files already present in the directory are ingested
// first, oldest plausible writes included, so a restart does not lose drops.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.watchDir, 0o755); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.watchDir); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw

	w.log.Info().Str("watch_dir", w.watchDir).Msg("watch-folder ingest started")

	go w.watchLoop(ctx)
	go w.sweepExisting(ctx)

	return nil
}

// Stop closes the fsnotify watcher.
func (w *Watcher) Stop() {
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.log.Info().
		Int64("files_ingested", w.filesIngested.Load()).
		Int64("files_skipped", w.filesSkipped.Load()).
		Msg("watch-folder ingest stopped")
}

// sweepExisting ingests files that were dropped while the service was down.
func (w *Watcher) sweepExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.watchDir)
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to list watch directory")
		return
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		if e.IsDir() {
			continue
		}
		w.ingestFile(ctx, filepath.Join(w.watchDir, e.Name()))
	}
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if _, ok := mimeByExt[strings.ToLower(filepath.Ext(event.Name))]; !ok {
				continue
			}
			w.scheduleIngest(ctx, event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleIngest coalesces rapid Create+Write events on the same file and
// waits for writes to settle before reading it.
func (w *Watcher) scheduleIngest(ctx context.Context, path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(w.debounce)
		return
	}

	w.debounceTimers[path] = time.AfterFunc(w.debounce, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.ingestFile(ctx, path)
	})
}

// ingestFile stores the audio, creates the recording row, and runs the
// pipeline. The source file is removed once it has been ingested so the drop
// directory does not accumulate processed audio.
func (w *Watcher) ingestFile(ctx context.Context, srcPath string) {
	mimeType, ok := mimeByExt[strings.ToLower(filepath.Ext(srcPath))]
	if !ok {
		w.filesSkipped.Add(1)
		return
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		w.log.Warn().Err(err).Str("path", srcPath).Msg("failed to read dropped file")
		w.filesSkipped.Add(1)
		return
	}
	if len(data) == 0 {
		w.filesSkipped.Add(1)
		return
	}

	id := uuid.New()
	now := time.Now().UTC()
	key := path.Join("voices", now.Format("2006/01/02"), id.String()+strings.ToLower(filepath.Ext(srcPath)))

	if err := w.blobs.Save(ctx, key, data, mimeType); err != nil {
		w.log.Error().Err(err).Str("path", srcPath).Msg("failed to store dropped file")
		return
	}

	rec := &database.Recording{
		ID:           id,
		StorageKey:   key,
		OriginalName: filepath.Base(srcPath),
		MimeType:     mimeType,
		SizeBytes:    int64(len(data)),
	}
	if err := w.store.InsertRecording(ctx, rec); err != nil {
		w.log.Error().Err(err).Str("path", srcPath).Msg("failed to insert recording")
		return
	}

	if err := os.Remove(srcPath); err != nil {
		w.log.Warn().Err(err).Str("path", srcPath).Msg("failed to remove ingested file")
	}

	w.filesIngested.Add(1)
	w.log.Info().
		Str("recording_id", id.String()).
		Str("file", filepath.Base(srcPath)).
		Int("size_bytes", len(data)).
		Msg("ingested dropped file")

	if err := w.processor.Process(ctx, rec); err != nil {
		w.log.Error().Err(err).Str("recording_id", id.String()).Msg("processing failed")
	}
}
