package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tatamihub/dojo-api/internal/models"
	"github.com/tatamihub/dojo-api/internal/service"
	appErrors "github.com/tatamihub/dojo-api/pkg/errors"
	"github.com/tatamihub/dojo-api/pkg/response"
)

type promotionEngine interface {
	EvaluateEligibility(ctx context.Context, studentID string) (*models.EligibilityResult, error)
	EvaluateRoster(ctx context.Context) ([]models.EligibilityResult, error)
	History(ctx context.Context, studentID string) ([]models.PromotionDetail, error)
	Promote(ctx context.Context, studentID, actorID string, req service.PromoteRequest) (*models.Promotion, error)
}

// PromotionHandler exposes the promotion rule engine over HTTP.
type PromotionHandler struct {
	promotions promotionEngine
	metrics    *service.MetricsService
}

// NewPromotionHandler constructs PromotionHandler.
func NewPromotionHandler(promotions promotionEngine, metrics *service.MetricsService) *PromotionHandler {
	return &PromotionHandler{promotions: promotions, metrics: metrics}
}

// Eligibility godoc
// @Summary Evaluate promotion eligibility for one student
// @Tags Promotions
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /promotions/eligibility/{id} [get]
func (h *PromotionHandler) Eligibility(c *gin.Context) {
	result, err := h.promotions.EvaluateEligibility(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordEvaluation()
	response.JSON(c, http.StatusOK, result, nil)
}

// Roster godoc
// @Summary Evaluate promotion eligibility for all active students
// @Tags Promotions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /promotions/eligibility [get]
func (h *PromotionHandler) Roster(c *gin.Context) {
	results, err := h.promotions.EvaluateRoster(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordEvaluation()
	response.JSON(c, http.StatusOK, results, nil)
}

// History godoc
// @Summary Promotion ledger for a student
// @Tags Promotions
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /promotions/history/{id} [get]
func (h *PromotionHandler) History(c *gin.Context) {
	history, err := h.promotions.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// Promote godoc
// @Summary Promote a student to a target rank
// @Tags Promotions
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.PromoteRequest true "Promotion payload"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /promotions/{id} [post]
func (h *PromotionHandler) Promote(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.PromoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	promotion, err := h.promotions.Promote(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		h.metrics.RecordPromotion("rejected")
		response.Error(c, err)
		return
	}
	h.metrics.RecordPromotion("granted")
	response.Created(c, promotion)
}
