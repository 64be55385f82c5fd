package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/carmatch/internal/services"
	"github.com/temcen/carmatch/pkg/models"
)

const engineInitializedHeader = "X-Engine-Initialized"

type HealthHandler struct {
	logger        *logrus.Logger
	healthService *services.HealthService
}

func NewHealthHandler(logger *logrus.Logger, healthService *services.HealthService) *HealthHandler {
	return &HealthHandler{
		logger:        logger,
		healthService: healthService,
	}
}

// ReadinessResponse is served by /ready.
type ReadinessResponse struct {
	Ready  bool                 `json:"ready"`
	Status string               `json:"status"`
	Engine *models.EngineStatus `json:"engine,omitempty"`
}

// Check reports dependency health. An engine that has not vectorized the
// catalog yet still answers 200 since it initializes on the first request.
func (h *HealthHandler) Check(c *gin.Context) {
	status := h.healthService.CheckHealth(c.Request.Context())

	var httpStatus int
	switch status.Status {
	case "healthy", "degraded":
		httpStatus = http.StatusOK
	case "unhealthy":
		httpStatus = http.StatusServiceUnavailable
	default:
		httpStatus = http.StatusInternalServerError
	}

	if engine, ok := h.healthService.EngineStatus(); ok {
		c.Header(engineInitializedHeader, strconv.FormatBool(engine.Initialized))
	}

	c.JSON(httpStatus, status)
}

// Ready answers 200 only once critical dependencies are up and the vector
// indexes are built, so load balancers hold traffic during warm-up.
func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.healthService.CheckHealth(c.Request.Context())
	resp := ReadinessResponse{Status: status.Status, Ready: status.Status != "unhealthy"}

	if engine, ok := h.healthService.EngineStatus(); ok {
		resp.Engine = &engine
		resp.Ready = resp.Ready && engine.Initialized
		c.Header(engineInitializedHeader, strconv.FormatBool(engine.Initialized))
	}

	if !resp.Ready {
		h.logger.WithFields(logrus.Fields{
			"status": status.Status,
		}).Debug("Readiness check failed")
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}
