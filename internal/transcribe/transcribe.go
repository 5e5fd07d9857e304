package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"video-rag/internal/config"
	"video-rag/internal/logging"
)

// wavHeaderSize is the length of the canonical RIFF header ffmpeg writes.
// A file no bigger than this carries no samples.
const wavHeaderSize = 44

// wavBytesPerSecond is the data rate of 16 kHz mono 16-bit PCM.
const wavBytesPerSecond = 32000

// ErrAudioTooLarge is returned by a provider handed more audio than its API
// accepts in one request.
var ErrAudioTooLarge = errors.New("audio exceeds provider request limit")

// Transcriber turns a media file into plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath string) (string, error)
}

// Provider transcribes a 16 kHz mono PCM WAV file no longer than
// MaxSegment.
type Provider interface {
	TranscribeWAV(ctx context.Context, wavPath string) (string, error)
	MaxSegment() time.Duration
	Name() string
}

// AudioExtractor pulls the audio track out of a video as WAV files of at
// most segment each, in playback order.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath, outDir string, segment time.Duration) ([]string, error)
}

// AudioTranscriber extracts audio with ffmpeg, cut to the provider's
// segment size, and joins the per-segment transcripts.
type AudioTranscriber struct {
	extractor AudioExtractor
	provider  Provider
	workDir   string
	logger    zerolog.Logger
}

var _ Transcriber = (*AudioTranscriber)(nil)

func NewAudioTranscriber(extractor AudioExtractor, provider Provider, workDir string) *AudioTranscriber {
	return &AudioTranscriber{
		extractor: extractor,
		provider:  provider,
		workDir:   workDir,
		logger:    logging.NewLogger("transcriber"),
	}
}

// Transcribe returns an empty transcript without calling the provider when
// the media has no audio samples.
func (t *AudioTranscriber) Transcribe(ctx context.Context, mediaPath string) (string, error) {
	if err := os.MkdirAll(t.workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	dir, err := os.MkdirTemp(t.workDir, "audio-*")
	if err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	defer os.RemoveAll(dir)

	parts, err := t.extractor.ExtractAudio(ctx, mediaPath, dir, t.provider.MaxSegment())
	if err != nil {
		return "", err
	}

	texts := make([]string, 0, len(parts))
	for i, part := range parts {
		info, err := os.Stat(part)
		if err != nil {
			return "", fmt.Errorf("stat audio: %w", err)
		}
		if info.Size() <= wavHeaderSize {
			continue
		}
		text, err := t.provider.TranscribeWAV(ctx, part)
		if err != nil {
			return "", fmt.Errorf("%s: segment %d of %d: %w", t.provider.Name(), i+1, len(parts), err)
		}
		if text = strings.TrimSpace(text); text != "" {
			texts = append(texts, text)
		}
	}

	if len(texts) == 0 {
		t.logger.Info().Str("path", mediaPath).Msg("No speech found, transcript is empty")
		return "", nil
	}
	transcript := strings.Join(texts, " ")
	t.logger.Debug().
		Str("provider", t.provider.Name()).
		Int("segments", len(parts)).
		Int("chars", len(transcript)).
		Msg("Transcribed audio")
	return transcript, nil
}

// segmentFor clamps the configured segment length to limit.
func segmentFor(configured, limit time.Duration) time.Duration {
	if configured <= 0 || configured > limit {
		return limit
	}
	return configured
}

// checkSize rejects a WAV file larger than maxBytes before it is uploaded.
func checkSize(wavPath string, maxBytes int64) error {
	info, err := os.Stat(wavPath)
	if err != nil {
		return err
	}
	if info.Size() > maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrAudioTooLarge, info.Size(), maxBytes)
	}
	return nil
}

// NewProvider builds the provider named in cfg.
func NewProvider(ctx context.Context, cfg *config.TranscriptionConfig) (Provider, error) {
	switch cfg.Provider {
	case "whisper", "":
		return NewWhisper(cfg), nil
	case "gcp":
		return NewGCPSpeech(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", cfg.Provider)
	}
}
