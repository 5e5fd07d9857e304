package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-rag/internal/config"
)

// fakeExtractor cuts a clip of the given length into WAV segments the way
// ffmpeg would, scaled down to bytesPerSecond.
type fakeExtractor struct {
	length        time.Duration
	bytesPerSec   int
	err           error
	segmentsAsked []time.Duration
}

func (f *fakeExtractor) ExtractAudio(ctx context.Context, videoPath, outDir string, segment time.Duration) ([]string, error) {
	f.segmentsAsked = append(f.segmentsAsked, segment)
	if f.err != nil {
		return nil, f.err
	}
	var parts []string
	remaining := f.length
	for i := 0; ; i++ {
		d := min(remaining, segment)
		path := filepath.Join(outDir, fmt.Sprintf("part-%04d.wav", i))
		size := wavHeaderSize + int(d.Seconds())*f.bytesPerSec
		if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
			return nil, err
		}
		parts = append(parts, path)
		remaining -= d
		if remaining <= 0 {
			return parts, nil
		}
	}
}

// fakeProvider rejects segments above maxBytes and answers with the
// segment file name.
type fakeProvider struct {
	text     string
	err      error
	segment  time.Duration
	maxBytes int64
	calls    int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) MaxSegment() time.Duration {
	if f.segment == 0 {
		return time.Hour
	}
	return f.segment
}

func (f *fakeProvider) TranscribeWAV(ctx context.Context, wavPath string) (string, error) {
	f.calls++
	if f.maxBytes > 0 {
		if err := checkSize(wavPath, f.maxBytes); err != nil {
			return "", err
		}
	}
	if f.err != nil {
		return "", f.err
	}
	if f.text != "" {
		return f.text, nil
	}
	return strings.TrimSuffix(filepath.Base(wavPath), ".wav"), nil
}

func TestTranscribe_EmptyAudioSkipsProvider(t *testing.T) {
	p := &fakeProvider{text: "should not be used"}
	tr := NewAudioTranscriber(&fakeExtractor{length: 0, bytesPerSec: 10}, p, t.TempDir())

	text, err := tr.Transcribe(context.Background(), "silent.mp4")
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Zero(t, p.calls)
}

func TestTranscribe_CallsProvider(t *testing.T) {
	p := &fakeProvider{text: "  hello there \n"}
	workDir := t.TempDir()
	tr := NewAudioTranscriber(&fakeExtractor{length: time.Minute, bytesPerSec: 10}, p, workDir)

	text, err := tr.Transcribe(context.Background(), "talk.mp4")
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
	assert.Equal(t, 1, p.calls)

	// scratch audio is removed
	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTranscribe_LongAudioIsSegmented(t *testing.T) {
	const bytesPerSec = 10
	segment := 4 * time.Minute
	p := &fakeProvider{
		segment:  segment,
		maxBytes: wavHeaderSize + int64(segment.Seconds())*bytesPerSec,
	}
	ex := &fakeExtractor{length: 30 * time.Minute, bytesPerSec: bytesPerSec}
	tr := NewAudioTranscriber(ex, p, t.TempDir())

	text, err := tr.Transcribe(context.Background(), "lecture.mp4")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{segment}, ex.segmentsAsked)
	assert.Equal(t, 8, p.calls)
	assert.True(t, strings.HasPrefix(text, "part-0000 part-0001 "), text)
	assert.True(t, strings.HasSuffix(text, " part-0007"), text)
}

func TestTranscribe_OversizedSegmentFails(t *testing.T) {
	p := &fakeProvider{segment: time.Hour, maxBytes: wavHeaderSize + 100}
	tr := NewAudioTranscriber(&fakeExtractor{length: time.Minute, bytesPerSec: 10}, p, t.TempDir())

	_, err := tr.Transcribe(context.Background(), "x.mp4")
	assert.ErrorIs(t, err, ErrAudioTooLarge)
	assert.ErrorContains(t, err, "fake: segment 1 of 1")
}

func TestTranscribe_Errors(t *testing.T) {
	ctx := context.Background()

	tr := NewAudioTranscriber(&fakeExtractor{err: errors.New("no audio stream")}, &fakeProvider{}, t.TempDir())
	_, err := tr.Transcribe(ctx, "x.mp4")
	assert.ErrorContains(t, err, "no audio stream")

	tr = NewAudioTranscriber(&fakeExtractor{length: time.Minute, bytesPerSec: 10}, &fakeProvider{err: errors.New("quota")}, t.TempDir())
	_, err = tr.Transcribe(ctx, "x.mp4")
	assert.ErrorContains(t, err, "fake: segment 1 of 1: quota")
}

func TestSegmentFor(t *testing.T) {
	assert.Equal(t, 4*time.Minute, segmentFor(0, 4*time.Minute))
	assert.Equal(t, 4*time.Minute, segmentFor(10*time.Minute, 4*time.Minute))
	assert.Equal(t, 2*time.Minute, segmentFor(2*time.Minute, 4*time.Minute))

	w := NewWhisper(&config.TranscriptionConfig{SegmentDuration: time.Hour})
	assert.Equal(t, whisperMaxSegment, w.MaxSegment())
	assert.LessOrEqual(t, int64(whisperMaxSegment.Seconds())*wavBytesPerSecond+wavHeaderSize, int64(whisperMaxBytes))
	assert.LessOrEqual(t, int64(gcpMaxSegment.Seconds())*wavBytesPerSecond+wavHeaderSize, int64(gcpMaxInlineBytes))
}

func TestWhisper_RejectsOversizedAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("oversized audio must not be uploaded")
	}))
	defer srv.Close()

	wav := t.TempDir() + "/a.wav"
	require.NoError(t, os.WriteFile(wav, make([]byte, 64), 0o644))

	w := NewWhisper(&config.TranscriptionConfig{BaseURL: srv.URL})
	w.maxBytes = 32
	_, err := w.TranscribeWAV(context.Background(), wav)
	assert.ErrorIs(t, err, ErrAudioTooLarge)
}

func TestWhisper_TranscribeWAV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "text", r.FormValue("response_format"))
		assert.Equal(t, "en", r.FormValue("language"))

		f, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(f)
		assert.Equal(t, "RIFFDATA", string(data))

		w.Write([]byte("transcribed text\n"))
	}))
	defer srv.Close()

	wav := t.TempDir() + "/a.wav"
	require.NoError(t, os.WriteFile(wav, []byte("RIFFDATA"), 0o644))

	w := NewWhisper(&config.TranscriptionConfig{
		BaseURL:  srv.URL + "/v1/",
		Key:      "sk-test",
		Model:    "whisper-1",
		Language: "en-US",
	})
	text, err := w.TranscribeWAV(context.Background(), wav)
	require.NoError(t, err)
	assert.Equal(t, "transcribed text\n", text)
}

func TestWhisper_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	wav := t.TempDir() + "/a.wav"
	require.NoError(t, os.WriteFile(wav, []byte("RIFF"), 0o644))

	_, err := NewWhisper(&config.TranscriptionConfig{BaseURL: srv.URL}).TranscribeWAV(context.Background(), wav)
	assert.ErrorContains(t, err, "401")
}

func TestJoinResults(t *testing.T) {
	resp := &speechpb.LongRunningRecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "first part"}}},
			{},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: " second part "}}},
		},
	}
	assert.Equal(t, "first part second part", joinResults(resp))
	assert.Empty(t, joinResults(nil))
}

func TestNewProvider_Unknown(t *testing.T) {
	_, err := NewProvider(context.Background(), &config.TranscriptionConfig{Provider: "nope"})
	assert.Error(t, err)
}
