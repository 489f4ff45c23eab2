// Package recognition talks to the remote face recognition service.
package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/victornm/eventdraw/internal/domain"
	"github.com/victornm/eventdraw/internal/errors"
)

type Mode string

const (
	ModeJSON      Mode = "json"
	ModeMultipart Mode = "multipart"

	defaultTimeout = 10 * time.Second

	// tokenSeparator splits "<token>+<display name>" entries; only the first one counts.
	tokenSeparator = "+"
)

type Config struct {
	// Endpoint returns the recognition URL; read on every call so runtime settings apply.
	Endpoint func() string
	Mode     Mode
	// Resize, when set, is forwarded as the resize query parameter.
	Resize     *bool
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	endpoint func() string
	mode     Mode
	resize   *bool
	http     *http.Client
}

func NewClient(c Config) *Client {
	cl := &Client{
		endpoint: c.Endpoint,
		mode:     c.Mode,
		resize:   c.Resize,
		http:     c.HTTPClient,
	}

	if cl.mode == "" {
		cl.mode = ModeJSON
	}
	if cl.http == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		cl.http = &http.Client{Timeout: timeout}
	}

	return cl
}

type response struct {
	PotentialIDs []string `json:"potential_ids"`
}

// Identify submits a frame and returns the candidates, most likely first.
// An empty slice means no face was recognized.
func (c *Client) Identify(ctx context.Context, f domain.Frame) ([]domain.Identity, error) {
	req, err := c.newRequest(ctx, c.mode, f, c.resize)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("recognition service unreachable"),
			errors.WithCause(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("recognition service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("recognition service returned an invalid response"),
			errors.WithCause(err))
	}

	ids := make([]domain.Identity, 0, len(r.PotentialIDs))
	for _, raw := range r.PotentialIDs {
		if id, ok := ParseIdentity(raw); ok {
			ids = append(ids, id)
		}
	}

	return ids, nil
}

// Test posts a 1x1 black JPEG without resizing, to check the endpoint is alive.
func (c *Client) Test(ctx context.Context) error {
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.Black)
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		return fmt.Errorf("encode test image: %w", err)
	}

	noResize := false
	req, err := c.newRequest(ctx, ModeMultipart, domain.Frame{Data: buf.Bytes(), ContentType: "image/jpeg"}, &noResize)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("recognition service unreachable"),
			errors.WithCause(err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("recognition service test failed with status %d", resp.StatusCode))
	}

	return nil
}

// ParseIdentity splits "<token>+<display name>" on the first separator. An entry
// without a separator uses the token as display name.
func ParseIdentity(raw string) (domain.Identity, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Identity{}, false
	}

	token, name, found := strings.Cut(raw, tokenSeparator)
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Identity{}, false
	}

	name = strings.TrimSpace(name)
	if !found || name == "" {
		name = token
	}

	return domain.Identity{Token: token, DisplayName: name}, true
}

func (c *Client) newRequest(ctx context.Context, mode Mode, f domain.Frame, resize *bool) (*http.Request, error) {
	if c.endpoint == nil || c.endpoint() == "" {
		return nil, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("recognition endpoint not configured"))
	}

	u, err := url.Parse(c.endpoint())
	if err != nil {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid recognition endpoint %q", c.endpoint()),
			errors.WithCause(err))
	}
	if resize != nil {
		q := u.Query()
		q.Set("resize", strconv.FormatBool(*resize))
		u.RawQuery = q.Encode()
	}

	contentType := f.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}

	var (
		body        bytes.Buffer
		bodyHeaders string
	)

	switch mode {
	case ModeMultipart:
		w := multipart.NewWriter(&body)
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("create multipart: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("write multipart: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("close multipart: %w", err)
		}
		bodyHeaders = w.FormDataContentType()

	case ModeJSON:
		dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(f.Data))
		if err := json.NewEncoder(&body).Encode(map[string]string{"image": dataURL}); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		bodyHeaders = "application/json"

	default:
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown recognition mode %q", mode))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", bodyHeaders)
	req.Header.Set("Accept", "application/json")

	return req, nil
}
