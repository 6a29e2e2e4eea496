package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/vn-engine/internal/database"
)

// allowedMimeTypes is the accepted upload content-type set. Extensions back
// the fallback lookup when a client sends a generic content type.
var allowedMimeTypes = map[string]bool{
	"audio/m4a":   true,
	"audio/mp4":   true,
	"audio/aac":   true,
	"audio/ogg":   true,
	"audio/wav":   true,
	"audio/x-m4a": true,
	"audio/mpeg":  true,
}

var extMimeTypes = map[string]string{
	".m4a": "audio/x-m4a",
	".mp4": "audio/mp4",
	".aac": "audio/aac",
	".ogg": "audio/ogg",
	".wav": "audio/wav",
	".mp3": "audio/mpeg",
}

// VoiceStore is the subset of database operations the voice endpoints need.
type VoiceStore interface {
	InsertRecording(ctx context.Context, rec *database.Recording) error
	GetRecording(ctx context.Context, id uuid.UUID) (*database.Recording, error)
	ListRecordings(ctx context.Context, limit, offset int) ([]database.Recording, error)
	GetNoteByRecording(ctx context.Context, recordingID uuid.UUID) (*database.Note, error)
}

// VoiceBlobs is the storage surface the voice endpoints need.
type VoiceBlobs interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// VoiceProcessor runs the transcription pipeline for a stored recording.
type VoiceProcessor interface {
	Process(ctx context.Context, rec *database.Recording) error
}

// VoicesHandler serves the recording upload and retrieval endpoints.
type VoicesHandler struct {
	store     VoiceStore
	blobs     VoiceBlobs
	processor VoiceProcessor
	maxBytes  int64
	log       zerolog.Logger
}

func NewVoicesHandler(store VoiceStore, blobs VoiceBlobs, processor VoiceProcessor, maxUploadMB int64, log zerolog.Logger) *VoicesHandler {
	return &VoicesHandler{
		store:     store,
		blobs:     blobs,
		processor: processor,
		maxBytes:  maxUploadMB << 20,
		log:       log.With().Str("handler", "voices").Logger(),
	}
}

// Routes registers the voice endpoints.
func (h *VoicesHandler) Routes(r chi.Router) {
	r.Post("/voices", h.Upload)
	r.Get("/voices", h.List)
	r.Get("/voices/{id}", h.Get)
	r.Get("/voices/{id}/note", h.Note)
}

// Upload handles POST /api/v1/voices. The audio arrives as a multipart form
// with a single "audio" file field. Transcription runs synchronously; the
// response carries the final recording state.
func (h *VoicesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteErrorWithCode(w, http.StatusRequestEntityTooLarge, ErrTooLarge, "audio file exceeds upload limit")
			return
		}
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, `missing "audio" file field`)
		return
	}
	defer file.Close()

	if header.Size > h.maxBytes {
		WriteErrorWithCode(w, http.StatusRequestEntityTooLarge, ErrTooLarge, "audio file exceeds upload limit")
		return
	}

	mimeType := uploadMimeType(header.Header.Get("Content-Type"), header.Filename)
	if !allowedMimeTypes[mimeType] {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidMime, "unsupported audio type: "+mimeType)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "failed to read audio file")
		return
	}
	if len(data) == 0 {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "empty audio file")
		return
	}

	id := uuid.New()
	key := path.Join("voices", time.Now().UTC().Format("2006/01/02"), id.String()+storageExt(header.Filename, mimeType))

	log := hlog.FromRequest(r).With().Str("recording_id", id.String()).Logger()

	if err := h.blobs.Save(r.Context(), key, data, mimeType); err != nil {
		log.Error().Err(err).Msg("failed to store upload")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrProcessingError, "failed to store audio")
		return
	}

	rec := &database.Recording{
		ID:           id,
		StorageKey:   key,
		OriginalName: filepath.Base(header.Filename),
		MimeType:     mimeType,
		SizeBytes:    int64(len(data)),
	}
	if err := h.store.InsertRecording(r.Context(), rec); err != nil {
		log.Error().Err(err).Msg("failed to insert recording")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrProcessingError, "failed to record upload")
		return
	}

	log.Info().
		Str("file", rec.OriginalName).
		Str("mime", mimeType).
		Int64("size_bytes", rec.SizeBytes).
		Msg("upload accepted")

	if err := h.processor.Process(r.Context(), rec); err != nil {
		// The pipeline already persisted the failed status; the client gets
		// a generic error without internal detail.
		log.Error().Err(err).Msg("processing failed")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrProcessingError, "transcription failed")
		return
	}

	w.Header().Set("Location", "/api/v1/voices/"+id.String())
	WriteJSON(w, http.StatusCreated, rec)
}

// List handles GET /api/v1/voices.
func (h *VoicesHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParam, err.Error())
		return
	}

	recs, err := h.store.ListRecordings(r.Context(), p.Limit, p.Offset)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to list recordings")
		WriteError(w, http.StatusInternalServerError, "failed to list recordings")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"recordings": recs,
		"limit":      p.Limit,
		"offset":     p.Offset,
	})
}

// Get handles GET /api/v1/voices/{id}.
func (h *VoicesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParam, err.Error())
		return
	}

	rec, err := h.store.GetRecording(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, "recording not found")
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("failed to get recording")
		WriteError(w, http.StatusInternalServerError, "failed to get recording")
		return
	}

	WriteJSON(w, http.StatusOK, rec)
}

// Note handles GET /api/v1/voices/{id}/note, streaming the note text.
func (h *VoicesHandler) Note(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParam, err.Error())
		return
	}

	note, err := h.store.GetNoteByRecording(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, "no note for recording")
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("failed to get note")
		WriteError(w, http.StatusInternalServerError, "failed to get note")
		return
	}

	rc, err := h.blobs.Open(r.Context(), note.StorageKey)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("key", note.StorageKey).Msg("failed to open note blob")
		WriteError(w, http.StatusInternalServerError, "failed to open note")
		return
	}
	defer rc.Close()

	contentType := "text/plain; charset=utf-8"
	if note.Format == "md" {
		contentType = "text/markdown; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	io.Copy(w, rc)
}

// uploadMimeType normalizes the client-supplied content type, falling back to
// the filename extension for generic types like application/octet-stream.
func uploadMimeType(contentType, filename string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		mt = strings.ToLower(mt)
		if allowedMimeTypes[mt] {
			return mt
		}
	}
	if mt, ok := extMimeTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return mt
	}
	if contentType == "" {
		return "application/octet-stream"
	}
	return strings.ToLower(contentType)
}

// storageExt picks the blob extension from the upload filename, falling back
// to one derived from the MIME type.
func storageExt(filename, mimeType string) string {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		return ext
	}
	for ext, mt := range extMimeTypes {
		if mt == mimeType {
			return ext
		}
	}
	return ".bin"
}
