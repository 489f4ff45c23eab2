package camera_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/victornm/eventdraw/internal/camera"
	"github.com/victornm/eventdraw/internal/errors"
)

func TestSnapshot_Capture(t *testing.T) {
	tests := map[string]struct {
		handler  http.HandlerFunc
		maxBytes int64
		wantData string
		wantType string
		wantCode errors.Code
	}{
		"returns frame": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "image/jpeg")
				_, _ = w.Write([]byte("frame"))
			},
			wantData: "frame",
			wantType: "image/jpeg",
		},
		"sniffs content type": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header()["Content-Type"] = nil
				_, _ = w.Write([]byte("\xFF\xD8\xFFrest"))
			},
			wantData: "\xFF\xD8\xFFrest",
			wantType: "image/jpeg",
		},
		"camera error": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			wantCode: errors.CodeUnavailable,
		},
		"empty frame": {
			handler:  func(w http.ResponseWriter, r *http.Request) {},
			wantCode: errors.CodeUnavailable,
		},
		"frame too large": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("0123456789"))
			},
			maxBytes: 4,
			wantCode: errors.CodeResourceExhausted,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)

			s := camera.NewSnapshot(camera.Config{URL: srv.URL, MaxBytes: tt.maxBytes})
			f, err := s.Capture(context.Background())

			if tt.wantCode != 0 {
				require.True(t, errors.Is(err, tt.wantCode), "got %v", err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantData, string(f.Data))
			require.Equal(t, tt.wantType, f.ContentType)
		})
	}
}

func TestSnapshot_NotConfigured(t *testing.T) {
	_, err := camera.NewSnapshot(camera.Config{}).Capture(context.Background())
	require.True(t, errors.Is(err, errors.CodeFailedPrecondition), "got %v", err)
}
