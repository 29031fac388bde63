package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/cinesense/internal/services"
)

type stubChecker struct {
	status string
}

func (s stubChecker) CheckHealth(context.Context) *services.HealthStatus {
	return &services.HealthStatus{
		Status:     s.status,
		Components: map[string]string{"model": s.status},
	}
}

func TestHealthHandler(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	tests := []struct {
		status string
		code   int
	}{
		{services.HealthStatusHealthy, http.StatusOK},
		{services.HealthStatusDegraded, http.StatusOK},
		{services.HealthStatusUnhealthy, http.StatusServiceUnavailable},
		{"unknown", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			handler := NewHealthHandler(logger, stubChecker{status: tt.status})
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body services.HealthStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body.Status)
		})
	}
}
