package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

type panickingGatherer struct{}

func (panickingGatherer) Gather() ([]*dto.MetricFamily, error) {
	panic("gather failed")
}

func TestNewEngine(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("metrics route recovers from panics", func(t *testing.T) {
		e := newEngine(panickingGatherer{})

		rec := httptest.NewRecorder()
		require.NotPanics(t, func() {
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		})
		require.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("pprof is served", func(t *testing.T) {
		e := newEngine(panickingGatherer{})

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})
}
