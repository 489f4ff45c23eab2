package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/victornm/eventdraw/internal/errors"
)

func TestConvert(t *testing.T) {
	tests := map[string]struct {
		err      error
		wantCode errors.Code
		wantHTTP int
	}{
		"plain error becomes internal": {
			err:      stderrors.New("boom"),
			wantCode: errors.CodeInternal,
			wantHTTP: http.StatusInternalServerError,
		},
		"wrapped typed error keeps its code": {
			err:      fmt.Errorf("draw: %w", errors.New(errors.CodeFailedPrecondition)),
			wantCode: errors.CodeFailedPrecondition,
			wantHTTP: http.StatusPreconditionFailed,
		},
		"not found": {
			err:      errors.New(errors.CodeNotFound, errors.WithMessagef("participant not found: empid=%s", "E1")),
			wantCode: errors.CodeNotFound,
			wantHTTP: http.StatusNotFound,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			e := errors.Convert(tt.err)
			require.Equal(t, tt.wantCode, e.Code)
			require.Equal(t, tt.wantHTTP, e.HTTPStatusCode())
			require.Equal(t, codes.Code(tt.wantCode), e.GRPCStatus().Code())
		})
	}
}

func TestIs(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := fmt.Errorf("check in: %w", errors.New(errors.CodeUnavailable, errors.WithCause(cause)))

	require.True(t, errors.Is(err, errors.CodeUnavailable))
	require.False(t, errors.Is(err, errors.CodeNotFound))
	require.ErrorIs(t, err, cause)
}
