package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/biliarchive/biliarchive/internal/metrics"
)

func TestMetricsHandler_ServeHTTP_ExposesPrometheusFormat(t *testing.T) {
	reg := metrics.New()
	reg.DownloadBytes.Add(42)

	handler := NewMetricsHandler(reg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "biliarchive_download_bytes_total 42")
}
