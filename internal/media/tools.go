package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"video-rag/internal/config"
)

// Tools wraps the ffmpeg, ffprobe and yt-dlp binaries. Every invocation is
// bounded by a timeout.
type Tools struct {
	ffmpeg  string
	ffprobe string
	ytdlp   string
	timeout time.Duration
}

type ProbeResult struct {
	Title      *string
	Duration   *float64
	Resolution *string
}

func NewTools(cfg *config.MediaConfig) *Tools {
	timeout := cfg.DownloadTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Tools{
		ffmpeg:  cfg.FFmpegPath,
		ffprobe: cfg.FFprobePath,
		ytdlp:   cfg.YTDLPPath,
		timeout: timeout,
	}
}

func (t *Tools) HasDownloader() bool {
	return t.ytdlp != ""
}

// Probe reads container metadata with ffprobe.
func (t *Tools) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}
	return parseProbe(out)
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string            `json:"duration"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var po probeOutput
	if err := json.Unmarshal(data, &po); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}

	res := &ProbeResult{}
	if d, err := strconv.ParseFloat(po.Format.Duration, 64); err == nil && d >= 0 {
		res.Duration = &d
	}
	for _, s := range po.Streams {
		if s.CodecType == "video" && s.Width > 0 && s.Height > 0 {
			r := fmt.Sprintf("%dx%d", s.Width, s.Height)
			res.Resolution = &r
			break
		}
	}
	for k, v := range po.Format.Tags {
		if strings.EqualFold(k, "title") && strings.TrimSpace(v) != "" {
			title := strings.TrimSpace(v)
			res.Title = &title
			break
		}
	}
	return res, nil
}

// ExtractAudio writes the audio track of videoPath into outDir as 16 kHz
// mono PCM WAV files of at most segment each, and returns them in playback
// order. A non-positive segment produces a single file.
func (t *Tools) ExtractAudio(ctx context.Context, videoPath, outDir string, segment time.Duration) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir audio dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.ffmpeg, audioArgs(videoPath, outDir, segment)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg extract audio: %w; out=%s", err, tail(out))
	}

	parts, err := filepath.Glob(filepath.Join(outDir, "part-*.wav"))
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("audio output missing in %s", outDir)
	}
	sort.Strings(parts)
	return parts, nil
}

func audioArgs(videoPath, outDir string, segment time.Duration) []string {
	args := []string{
		"-y",
		"-i", videoPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-acodec", "pcm_s16le",
	}
	if segment <= 0 {
		return append(args, "-f", "wav", filepath.Join(outDir, "part-0000.wav"))
	}
	seconds := int(segment / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return append(args,
		"-f", "segment",
		"-segment_time", strconv.Itoa(seconds),
		"-segment_format", "wav",
		"-reset_timestamps", "1",
		filepath.Join(outDir, "part-%04d.wav"),
	)
}

// Download fetches a page-hosted video with yt-dlp.
func (t *Tools) Download(ctx context.Context, url, outPath string, maxBytes int64) error {
	if t.ytdlp == "" {
		return fmt.Errorf("no downloader configured")
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.ytdlp,
		"--no-playlist",
		"--quiet",
		"-f", "best[ext=mp4]/best",
		"--max-filesize", strconv.FormatInt(maxBytes, 10),
		"-o", outPath,
		url,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("yt-dlp: %w; out=%s", err, tail(out))
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("download output missing (size limit %d bytes?)", maxBytes)
	}
	return nil
}

func tail(out []byte) string {
	const max = 512
	s := strings.TrimSpace(string(out))
	if len(s) > max {
		return s[len(s)-max:]
	}
	return s
}
