package media

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"video-rag/internal/config"
)

// Policy holds the intake rules for uploads and remote sources.
type Policy struct {
	MaxBytes     int64
	Extensions   []string
	MIMEPrefixes []string
	MaxDuration  float64
}

func NewPolicy(cfg *config.MediaConfig) Policy {
	exts := make([]string, len(cfg.AllowedExtensions))
	for i, e := range cfg.AllowedExtensions {
		exts[i] = normalizeExt(e)
	}
	return Policy{
		MaxBytes:     cfg.MaxUploadBytes,
		Extensions:   exts,
		MIMEPrefixes: cfg.AllowedMIMEPrefixes,
		MaxDuration:  cfg.MaxDurationSeconds,
	}
}

// AllowsExtension reports whether name has an allowed extension.
func (p Policy) AllowsExtension(name string) bool {
	return slices.Contains(p.Extensions, normalizeExt(filepath.Ext(name)))
}

func (p Policy) AllowsMIME(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	for _, prefix := range p.MIMEPrefixes {
		if prefix != "" && strings.HasPrefix(contentType, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

// CheckDuration fails when a known duration exceeds the configured limit.
func (p Policy) CheckDuration(d *float64) error {
	if d == nil || p.MaxDuration <= 0 || *d <= p.MaxDuration {
		return nil
	}
	return fmt.Errorf("duration %.0fs exceeds limit of %.0fs", *d, p.MaxDuration)
}

// ValidateURL accepts absolute http(s) URLs with a host.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("malformed url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url has no host")
	}
	return u, nil
}

// URLExtension returns the lower-cased extension of the URL path.
func URLExtension(u *url.URL) string {
	return normalizeExt(path.Ext(u.Path))
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
