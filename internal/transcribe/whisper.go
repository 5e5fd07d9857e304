package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"video-rag/internal/config"
)

const (
	// whisperMaxBytes is the upload cap of /audio/transcriptions.
	whisperMaxBytes = 25 << 20
	// whisperMaxSegment keeps a 16 kHz mono WAV under whisperMaxBytes.
	whisperMaxSegment = 10 * time.Minute
)

// Whisper calls an OpenAI-compatible /audio/transcriptions endpoint.
type Whisper struct {
	baseURL  string
	key      string
	model    string
	language string
	segment  time.Duration
	maxBytes int64
	client   *http.Client
}

func NewWhisper(cfg *config.TranscriptionConfig) *Whisper {
	return &Whisper{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		key:      strings.TrimPrefix(cfg.Key, "Bearer "),
		model:    cfg.Model,
		language: whisperLanguage(cfg.Language),
		segment:  segmentFor(cfg.SegmentDuration, whisperMaxSegment),
		maxBytes: whisperMaxBytes,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

func (w *Whisper) Name() string { return "whisper" }

func (w *Whisper) MaxSegment() time.Duration { return w.segment }

func (w *Whisper) TranscribeWAV(ctx context.Context, wavPath string) (string, error) {
	if err := checkSize(wavPath, w.maxBytes); err != nil {
		return "", err
	}
	f, err := os.Open(wavPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	fields := [][2]string{{"model", w.model}, {"response_format", "text"}}
	if w.language != "" {
		fields = append(fields, [2]string{"language", w.language})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if w.key != "" {
		req.Header.Set("Authorization", "Bearer "+w.key)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// whisperLanguage reduces a BCP-47 tag such as en-US to the ISO-639-1 code
// the endpoint expects.
func whisperLanguage(tag string) string {
	lang, _, _ := strings.Cut(strings.TrimSpace(tag), "-")
	return strings.ToLower(lang)
}
