package transcribe

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"video-rag/internal/config"
)

const (
	// gcpMaxInlineBytes is the cap on inline RecognitionAudio content.
	gcpMaxInlineBytes = 10_000_000
	// gcpMaxSegment keeps a 16 kHz mono WAV under gcpMaxInlineBytes.
	gcpMaxSegment = 4 * time.Minute
)

// GCPSpeech transcribes through Google Cloud Speech-to-Text long-running
// recognition with inline audio.
type GCPSpeech struct {
	client   *speech.Client
	language string
	segment  time.Duration
	timeout  time.Duration
}

func NewGCPSpeech(ctx context.Context, cfg *config.TranscriptionConfig) (*GCPSpeech, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	lang := cfg.Language
	if lang == "" {
		lang = "en-US"
	}
	return &GCPSpeech{
		client:   c,
		language: lang,
		segment:  segmentFor(cfg.SegmentDuration, gcpMaxSegment),
		timeout:  cfg.Timeout,
	}, nil
}

func (g *GCPSpeech) Name() string { return "gcp_speech" }

func (g *GCPSpeech) MaxSegment() time.Duration { return g.segment }

func (g *GCPSpeech) Close() error {
	return g.client.Close()
}

func (g *GCPSpeech) TranscribeWAV(ctx context.Context, wavPath string) (string, error) {
	if err := checkSize(wavPath, gcpMaxInlineBytes); err != nil {
		return "", err
	}
	audio, err := os.ReadFile(wavPath)
	if err != nil {
		return "", err
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	op, err := g.client.LongRunningRecognize(ctx, &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            16000,
			AudioChannelCount:          1,
			LanguageCode:               g.language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", fmt.Errorf("longrunningrecognize: %w", err)
	}
	resp, err := op.Wait(ctx)
	if err != nil {
		return "", fmt.Errorf("longrunningrecognize wait: %w", err)
	}
	return joinResults(resp), nil
}

func joinResults(resp *speechpb.LongRunningRecognizeResponse) string {
	if resp == nil {
		return ""
	}
	parts := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		if t := strings.TrimSpace(r.Alternatives[0].Transcript); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
