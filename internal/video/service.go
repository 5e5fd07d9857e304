package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"video-rag/internal/apperr"
	"video-rag/internal/db"
	"video-rag/internal/embedding"
	"video-rag/internal/logging"
	"video-rag/internal/media"
	"video-rag/internal/models"
)

type Store interface {
	CreateVideo(ctx context.Context, v *db.Video) error
	GetVideo(ctx context.Context, id uuid.UUID) (*db.Video, error)
	ListChunks(ctx context.Context, videoID uuid.UUID, withVectors bool) ([]db.VideoChunk, error)
	DeleteVideo(ctx context.Context, id uuid.UUID) error
}

type Scheduler interface {
	Submit(id uuid.UUID) error
}

type Searcher interface {
	Search(ctx context.Context, videoID uuid.UUID, query string, limit int) ([]db.ChunkHit, error)
	Ask(ctx context.Context, videoID uuid.UUID, query string) (*models.PromptResponse, error)
}

// Upload is a media file received at intake.
type Upload struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// IntakeRequest carries exactly one of File and URL.
type IntakeRequest struct {
	UserID *int64
	URL    string
	File   *Upload
}

// Service validates intake, creates the video row and schedules its job.
// Reads check that the caller owns the video.
type Service struct {
	store     Store
	scheduler Scheduler
	searcher  Searcher
	policy    media.Policy
	uploadDir string
	logger    zerolog.Logger
}

func NewService(store Store, scheduler Scheduler, searcher Searcher, policy media.Policy, uploadDir string) *Service {
	return &Service{
		store:     store,
		scheduler: scheduler,
		searcher:  searcher,
		policy:    policy,
		uploadDir: uploadDir,
		logger:    logging.NewLogger("video"),
	}
}

// Intake accepts a video for ingestion. Validation errors are returned before
// any row is written.
func (s *Service) Intake(ctx context.Context, req IntakeRequest) (*db.Video, error) {
	rawURL := strings.TrimSpace(req.URL)
	switch {
	case req.File != nil && rawURL != "":
		return nil, apperr.Validation("ambiguous_source", "provide either a file or a url, not both")
	case req.File == nil && rawURL == "":
		return nil, apperr.Validation("missing_source", "a file or a url is required")
	}

	v := &db.Video{ID: uuid.New(), UserID: req.UserID, Status: models.StatusProcessing}

	if rawURL != "" {
		u, err := media.ValidateURL(rawURL)
		if err != nil {
			return nil, apperr.Validation("invalid_url", err.Error())
		}
		normalized := u.String()
		v.OriginalURL = &normalized
	} else {
		path, err := s.stage(v.ID, req.File)
		if err != nil {
			return nil, err
		}
		v.LocalPath = &path
		if title := titleFromFilename(req.File.Filename); title != "" {
			v.Title = &title
		}
	}

	if err := s.store.CreateVideo(ctx, v); err != nil {
		if v.LocalPath != nil {
			os.Remove(*v.LocalPath)
		}
		return nil, apperr.Internal(fmt.Errorf("create video: %w", err))
	}

	logger := s.logger.With().Str("video_id", v.ID.String()).Logger()
	if err := s.scheduler.Submit(v.ID); err != nil {
		// the scheduler has already failed the row
		msg := "scheduling: " + err.Error()
		v.Status = models.StatusFailed
		v.ErrorMessage = &msg
		logger.Warn().Err(err).Msg("Video accepted but not scheduled")
		return v, nil
	}
	logger.Info().Bool("upload", v.LocalPath != nil).Msg("Video accepted")
	return v, nil
}

// stage copies an upload into the upload dir as <id><ext>.
func (s *Service) stage(id uuid.UUID, f *Upload) (string, error) {
	if !s.policy.AllowsExtension(f.Filename) {
		return "", apperr.Validation("unsupported_format", fmt.Sprintf("file type %q is not allowed", filepath.Ext(f.Filename)))
	}
	if f.Size > s.policy.MaxBytes {
		return "", apperr.Validation("file_too_large", fmt.Sprintf("file exceeds %d bytes", s.policy.MaxBytes))
	}
	if f.Size == 0 {
		return "", apperr.Validation("empty_file", "file is empty")
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", apperr.Internal(err)
	}
	path := filepath.Join(s.uploadDir, id.String()+strings.ToLower(filepath.Ext(f.Filename)))
	out, err := os.Create(path)
	if err != nil {
		return "", apperr.Internal(err)
	}

	n, err := io.Copy(out, io.LimitReader(f.Body, s.policy.MaxBytes+1))
	closeErr := out.Close()
	switch {
	case err != nil:
		err = apperr.Internal(fmt.Errorf("store upload: %w", err))
	case closeErr != nil:
		err = apperr.Internal(fmt.Errorf("store upload: %w", closeErr))
	case n > s.policy.MaxBytes:
		err = apperr.Validation("file_too_large", fmt.Sprintf("file exceeds %d bytes", s.policy.MaxBytes))
	case n == 0:
		err = apperr.Validation("empty_file", "file is empty")
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// Get returns a video visible to caller.
func (s *Service) Get(ctx context.Context, caller *int64, id uuid.UUID) (*db.Video, error) {
	v, err := s.store.GetVideo(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("video not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !visible(v, caller) {
		return nil, apperr.NotFound("video not found")
	}
	return v, nil
}

func (s *Service) Chunks(ctx context.Context, caller *int64, id uuid.UUID, withVectors bool) ([]db.VideoChunk, error) {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	chunks, err := s.store.ListChunks(ctx, id, withVectors)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return chunks, nil
}

// Delete removes the video, its chunks and its staged upload. Only the
// owner may delete; videos without an owner are removed through Purge.
func (s *Service) Delete(ctx context.Context, caller *int64, id uuid.UUID) error {
	v, err := s.Get(ctx, caller, id)
	if err != nil {
		return err
	}
	if !owns(v, caller) {
		return apperr.NotFound("video not found")
	}
	return s.remove(ctx, v)
}

// Purge deletes a video regardless of its owner.
func (s *Service) Purge(ctx context.Context, id uuid.UUID) error {
	v, err := s.store.GetVideo(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return apperr.NotFound("video not found")
	}
	if err != nil {
		return apperr.Internal(err)
	}
	return s.remove(ctx, v)
}

func (s *Service) remove(ctx context.Context, v *db.Video) error {
	id := v.ID
	if err := s.store.DeleteVideo(ctx, id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return apperr.NotFound("video not found")
		}
		return apperr.Internal(err)
	}
	if v.LocalPath != nil && s.ownsUpload(*v.LocalPath) {
		if err := os.Remove(*v.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", *v.LocalPath).Msg("Could not remove upload")
		}
	}
	s.logger.Info().Str("video_id", id.String()).Msg("Video deleted")
	return nil
}

func (s *Service) Search(ctx context.Context, caller *int64, id uuid.UUID, query string, limit int) ([]db.ChunkHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Validation("empty_query", "query must not be empty")
	}
	if _, err := s.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	hits, err := s.searcher.Search(ctx, id, query, limit)
	if err != nil {
		return nil, searchError(err)
	}
	return hits, nil
}

// Ask answers query from a completed video's transcript.
func (s *Service) Ask(ctx context.Context, caller *int64, id uuid.UUID, query string) (*models.PromptResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Validation("empty_query", "query must not be empty")
	}
	v, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if v.Status != models.StatusCompleted {
		return nil, apperr.Validation("video_not_ready", fmt.Sprintf("video is %s", v.Status))
	}
	resp, err := s.searcher.Ask(ctx, id, query)
	if err != nil {
		return nil, searchError(err)
	}
	return resp, nil
}

func (s *Service) ownsUpload(path string) bool {
	dir, err := filepath.Abs(s.uploadDir)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(dir, abs)
	return err == nil && !strings.HasPrefix(rel, "..")
}

func searchError(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, embedding.ErrDimensionMismatch) {
		return embedding.ServiceError(err)
	}
	return apperr.Service("search_failed", "search failed", err)
}

// visible reports whether caller may see v. Videos without an owner are
// visible to everyone.
func visible(v *db.Video, caller *int64) bool {
	if v.UserID == nil {
		return true
	}
	return caller != nil && *caller == *v.UserID
}

// owns reports whether caller is the recorded owner of v.
func owns(v *db.Video, caller *int64) bool {
	return caller != nil && v.UserID != nil && *caller == *v.UserID
}

func titleFromFilename(name string) string {
	base := filepath.Base(name)
	return strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
}
