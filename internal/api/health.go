package api

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

// DBChecker is satisfied by *database.DB.
type DBChecker interface {
	HealthCheck(ctx context.Context) error
}

// ToolChecker reports whether the external audio tools are on PATH.
type ToolChecker func() bool

type HealthHandler struct {
	db        DBChecker
	tools     ToolChecker
	version   string
	startTime time.Time
}

func NewHealthHandler(db DBChecker, tools ToolChecker, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		tools:     tools,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.HealthCheck(r.Context()); err != nil {
		checks["database"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// Missing ffmpeg/ffprobe means uploads will fail at the probe stage but
	// the API itself still serves reads.
	if h.tools != nil {
		if h.tools() {
			checks["audio_tools"] = "ok"
		} else {
			checks["audio_tools"] = "missing"
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}
