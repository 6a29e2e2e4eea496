package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Client transcribes one audio file to text. Implementations may fail with
// *TransientError for retryable conditions; any other error is permanent.
type Client interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// WhisperOptions configures the Whisper HTTP client.
type WhisperOptions struct {
	URL      string // full endpoint, e.g. https://api.openai.com/v1/audio/transcriptions
	APIKey   string
	Model    string
	Language string
	Prompt   string // fixed guidance prompt, passed unchanged on every call
	Timeout  time.Duration
}

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint.
type WhisperClient struct {
	opts   WhisperOptions
	client *http.Client
}

type whisperResponse struct {
	Text string `json:"text"`
}

// NewWhisperClient creates a Whisper HTTP client. The per-call timeout also
// serves as the upper bound on one transcription attempt.
func NewWhisperClient(opts WhisperOptions) *WhisperClient {
	return &WhisperClient{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// Transcribe sends an audio file to the Whisper API and returns the text.
// Uses multipart/form-data. HTTP 408/429 and 5xx responses, as well as
// transport-level failures, are reported as *TransientError.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("copy audio data: %w", err)
	}

	if wc.opts.Model != "" {
		w.WriteField("model", wc.opts.Model)
	}
	if wc.opts.Language != "" {
		w.WriteField("language", wc.opts.Language)
	}
	if wc.opts.Prompt != "" {
		w.WriteField("prompt", wc.opts.Prompt)
	}
	w.WriteField("response_format", "json")
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.opts.URL, &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if wc.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+wc.opts.APIKey)
	}

	resp, err := wc.client.Do(req)
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("whisper request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, string(body))
		if retryableStatus(resp.StatusCode) {
			return "", &TransientError{Err: apiErr}
		}
		return "", apiErr
	}

	var result whisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}
