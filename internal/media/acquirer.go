package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"video-rag/internal/config"
	"video-rag/internal/logging"
	"video-rag/internal/models"
)

var ErrTooLarge = errors.New("media exceeds size limit")

// Artifact is a readable local media file plus whatever metadata could be
// probed from it. Metadata fields stay nil when unknown.
type Artifact struct {
	Path       string
	Title      *string
	Duration   *float64
	Resolution *string

	cleanup func()
}

// Cleanup removes files the acquirer created for this artifact.
func (a *Artifact) Cleanup() {
	if a.cleanup != nil {
		a.cleanup()
	}
}

// Acquirer resolves a MediaSource into an Artifact. Failures are returned to
// the caller and never retried here.
type Acquirer struct {
	policy  Policy
	tools   *Tools
	workDir string
	client  *http.Client
	logger  zerolog.Logger
}

func NewAcquirer(cfg *config.MediaConfig, tools *Tools) *Acquirer {
	return &Acquirer{
		policy:  NewPolicy(cfg),
		tools:   tools,
		workDir: cfg.WorkDir,
		client:  &http.Client{Timeout: cfg.DownloadTimeout},
		logger:  logging.NewLogger("acquirer"),
	}
}

func (a *Acquirer) Acquire(ctx context.Context, videoID uuid.UUID, src models.MediaSource) (*Artifact, error) {
	var (
		art *Artifact
		err error
	)
	switch {
	case src.LocalPath != "" && src.URL != "":
		return nil, errors.New("media source has both a file and a url")
	case src.LocalPath != "":
		art, err = a.local(src.LocalPath)
	case src.URL != "":
		art, err = a.remote(ctx, videoID, src.URL)
	default:
		return nil, errors.New("media source is empty")
	}
	if err != nil {
		return nil, err
	}

	a.probe(ctx, art)
	if err := a.policy.CheckDuration(art.Duration); err != nil {
		art.Cleanup()
		return nil, err
	}
	return art, nil
}

func (a *Acquirer) local(path string) (*Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open media: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("media path %s is a directory", path)
	}
	if info.Size() > a.policy.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())
	}
	return &Artifact{Path: path}, nil
}

func (a *Acquirer) remote(ctx context.Context, videoID uuid.UUID, raw string) (*Artifact, error) {
	u, err := ValidateURL(raw)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(a.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	ext := URLExtension(u)
	direct := a.policy.AllowsExtension(ext)
	if !direct && a.tools.HasDownloader() {
		out := filepath.Join(a.workDir, videoID.String()+".mp4")
		if err := a.tools.Download(ctx, u.String(), out, a.policy.MaxBytes); err != nil {
			os.Remove(out)
			return nil, err
		}
		return &Artifact{Path: out, cleanup: func() { os.Remove(out) }}, nil
	}

	if ext == "" {
		ext = ".bin"
	}
	out := filepath.Join(a.workDir, videoID.String()+ext)
	if err := a.download(ctx, u.String(), out, direct); err != nil {
		os.Remove(out)
		return nil, err
	}
	return &Artifact{Path: out, cleanup: func() { os.Remove(out) }}, nil
}

// download streams url into out. Unless trustExt is set the response must
// carry an allowed content type.
func (a *Acquirer) download(ctx context.Context, url, out string, trustExt bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch media: unexpected status %d", resp.StatusCode)
	}
	if !trustExt && !a.policy.AllowsMIME(resp.Header.Get("Content-Type")) {
		return fmt.Errorf("unsupported media type %q", resp.Header.Get("Content-Type"))
	}
	if resp.ContentLength > a.policy.MaxBytes {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(resp.Body, a.policy.MaxBytes+1))
	if err != nil {
		return fmt.Errorf("fetch media: %w", err)
	}
	if n > a.policy.MaxBytes {
		return fmt.Errorf("%w: more than %d bytes", ErrTooLarge, a.policy.MaxBytes)
	}
	if n == 0 {
		return errors.New("fetch media: empty body")
	}
	a.logger.Debug().Str("url", url).Int64("bytes", n).Msg("Downloaded media")
	return nil
}

// probe fills metadata on a best-effort basis.
func (a *Acquirer) probe(ctx context.Context, art *Artifact) {
	res, err := a.tools.Probe(ctx, art.Path)
	if err != nil {
		a.logger.Debug().Err(err).Str("path", art.Path).Msg("Probe failed, metadata left empty")
		return
	}
	art.Title = res.Title
	art.Duration = res.Duration
	art.Resolution = res.Resolution
	if art.Title == nil {
		if stem := strings.TrimSuffix(filepath.Base(art.Path), filepath.Ext(art.Path)); stem != "" && !isGeneratedName(stem) {
			art.Title = &stem
		}
	}
}

// isGeneratedName reports whether stem is one of our own uuid file names.
func isGeneratedName(stem string) bool {
	_, err := uuid.Parse(stem)
	return err == nil
}
