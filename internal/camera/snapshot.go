// Package camera captures still frames from kiosk cameras.
package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/victornm/eventdraw/internal/domain"
	"github.com/victornm/eventdraw/internal/errors"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultMaxBytes = 8 << 20
)

type Config struct {
	// URL returns a single JPEG frame per GET, e.g. an IP camera snapshot endpoint.
	URL        string
	Timeout    time.Duration
	MaxBytes   int64
	HTTPClient *http.Client
}

// Snapshot grabs one frame per Capture call.
type Snapshot struct {
	url      string
	maxBytes int64
	http     *http.Client
}

func NewSnapshot(c Config) *Snapshot {
	s := &Snapshot{
		url:      c.URL,
		maxBytes: c.MaxBytes,
		http:     c.HTTPClient,
	}

	if s.maxBytes <= 0 {
		s.maxBytes = defaultMaxBytes
	}
	if s.http == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		s.http = &http.Client{Timeout: timeout}
	}

	return s
}

func (s *Snapshot) Capture(ctx context.Context) (domain.Frame, error) {
	if s.url == "" {
		return domain.Frame{}, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("camera not configured"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return domain.Frame{}, fmt.Errorf("new request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return domain.Frame{}, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("camera unreachable"),
			errors.WithCause(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Frame{}, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("camera returned status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return domain.Frame{}, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("read camera frame"),
			errors.WithCause(err))
	}
	if int64(len(data)) > s.maxBytes {
		return domain.Frame{}, errors.New(errors.CodeResourceExhausted,
			errors.WithMessagef("camera frame exceeds %d bytes", s.maxBytes))
	}
	if len(data) == 0 {
		return domain.Frame{}, errors.New(errors.CodeUnavailable, errors.WithMessagef("camera returned an empty frame"))
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}

	return domain.Frame{Data: data, ContentType: ct}, nil
}
