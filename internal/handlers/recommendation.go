package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/carmatch/internal/services"
	"github.com/temcen/carmatch/pkg/models"
)

type RecommendationHandler struct {
	orchestrator services.RecommendationOrchestratorInterface
	validate     *validator.Validate
	logger       *logrus.Logger
}

func NewRecommendationHandler(
	orchestrator services.RecommendationOrchestratorInterface,
	logger *logrus.Logger,
) *RecommendationHandler {
	return &RecommendationHandler{
		orchestrator: orchestrator,
		validate:     validator.New(),
		logger:       logger,
	}
}

// Get serves GET /users/:userId/recommendations.
func (h *RecommendationHandler) Get(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	userID := c.Param("userId")
	result, err := h.orchestrator.GetRecommendations(c.Request.Context(), userID, limit)
	if err != nil {
		h.fail(c, err, logrus.Fields{"user_id": userID})
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetByName serves GET /recommendations/by-name?name=.
func (h *RecommendationHandler) GetByName(c *gin.Context) {
	name := strings.TrimSpace(c.Query("name"))
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "MISSING_NAME",
				"message": "Query parameter 'name' is required",
			},
		})
		return
	}

	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	result, err := h.orchestrator.GetRecommendationsByName(c.Request.Context(), name, limit)
	if err != nil {
		h.fail(c, err, logrus.Fields{"name": name})
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetCustom serves POST /recommendations/custom.
func (h *RecommendationHandler) GetCustom(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	var criteria models.CustomCriteria
	if err := c.ShouldBindJSON(&criteria); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST_BODY",
				"message": "Invalid request body format",
			},
		})
		return
	}

	if err := h.validate.Struct(criteria); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_CRITERIA",
				"message": err.Error(),
			},
		})
		return
	}

	result, err := h.orchestrator.GetRecommendationsForProfile(c.Request.Context(), criteria, limit)
	if err != nil {
		h.fail(c, err, logrus.Fields{"operation": "custom"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetAll serves GET /recommendations/all.
func (h *RecommendationHandler) GetAll(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	results, err := h.orchestrator.GetAllUserRecommendations(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err, logrus.Fields{"operation": "all_users"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"users":   len(results),
	})
}

// GetBreakdown serves GET /users/:userId/vehicles/:vehicleId/breakdown.
func (h *RecommendationHandler) GetBreakdown(c *gin.Context) {
	userID, vehicleID := c.Param("userId"), c.Param("vehicleId")

	breakdown, err := h.orchestrator.GetSimilarityBreakdown(c.Request.Context(), userID, vehicleID)
	if err != nil {
		h.fail(c, err, logrus.Fields{"user_id": userID, "vehicle_id": vehicleID})
		return
	}

	c.JSON(http.StatusOK, breakdown)
}

// Status serves GET /recommendations/status.
func (h *RecommendationHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.orchestrator.Status())
}

func (h *RecommendationHandler) fail(c *gin.Context, err error, fields logrus.Fields) {
	var nf *services.NotFoundError
	if errors.As(err, &nf) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"code":    strings.ToUpper(nf.Kind) + "_NOT_FOUND",
				"message": nf.Error(),
			},
		})
		return
	}

	h.logger.WithError(err).WithFields(fields).Error("Failed to generate recommendations")
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    "RECOMMENDATION_GENERATION_FAILED",
			"message": "Failed to generate recommendations",
		},
	})
}

// parseLimit reads ?limit=. Absent means the engine default; anything but a
// positive integer is rejected.
func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_LIMIT",
				"message": "Limit must be a positive integer",
			},
		})
		return 0, false
	}
	return limit, true
}
