package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/carmatch/internal/services"
	"github.com/temcen/carmatch/pkg/models"
)

type stubEngine struct{ status models.EngineStatus }

func (e stubEngine) Status() models.EngineStatus { return e.status }

func TestHealthHandler_Check(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	tests := []struct {
		name       string
		checks     map[string]bool // name -> critical
		failing    string
		wantCode   int
		wantStatus string
	}{
		{name: "healthy", checks: map[string]bool{"postgresql": true}, wantCode: http.StatusOK, wantStatus: "healthy"},
		{name: "degraded", checks: map[string]bool{"postgresql": true, "redis": false}, failing: "redis", wantCode: http.StatusOK, wantStatus: "degraded"},
		{name: "unhealthy", checks: map[string]bool{"postgresql": true}, failing: "postgresql", wantCode: http.StatusServiceUnavailable, wantStatus: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			healthService := services.NewHealthService(logger, nil, prometheus.NewRegistry())
			for name, critical := range tt.checks {
				failing := name == tt.failing
				healthService.AddCheck(name, critical, func(context.Context) error {
					if failing {
						return errors.New("connection refused")
					}
					return nil
				})
			}

			router := gin.New()
			router.GET("/health", NewHealthHandler(logger, healthService).Check)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			var status services.HealthStatus
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
			assert.Equal(t, tt.wantStatus, status.Status)
		})
	}
}

func TestHealthHandler_EngineHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	healthService := services.NewHealthService(logger, nil, prometheus.NewRegistry())
	router := gin.New()
	router.GET("/health", NewHealthHandler(logger, healthService).Check)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, w.Header().Get("X-Engine-Initialized"))

	healthService.WatchEngine(stubEngine{models.EngineStatus{Initialized: false}})
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "false", w.Header().Get("X-Engine-Initialized"))
}

func TestHealthHandler_Ready(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	tests := []struct {
		name        string
		initialized bool
		dbDown      bool
		wantCode    int
		wantReady   bool
	}{
		{name: "engine warming up", initialized: false, wantCode: http.StatusServiceUnavailable},
		{name: "engine ready", initialized: true, wantCode: http.StatusOK, wantReady: true},
		{name: "critical dependency down", initialized: true, dbDown: true, wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			healthService := services.NewHealthService(logger, nil, prometheus.NewRegistry())
			dbDown := tt.dbDown
			healthService.AddCheck("postgresql", true, func(context.Context) error {
				if dbDown {
					return errors.New("connection refused")
				}
				return nil
			})
			healthService.WatchEngine(stubEngine{models.EngineStatus{Initialized: tt.initialized, TotalCars: 12}})

			router := gin.New()
			router.GET("/ready", NewHealthHandler(logger, healthService).Ready)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			var resp ReadinessResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantReady, resp.Ready)
			require.NotNil(t, resp.Engine)
			assert.Equal(t, 12, resp.Engine.TotalCars)
			assert.Equal(t, strconv.FormatBool(tt.initialized), w.Header().Get("X-Engine-Initialized"))
		})
	}
}
