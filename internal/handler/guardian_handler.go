package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tatamihub/dojo-api/internal/models"
	"github.com/tatamihub/dojo-api/internal/service"
	appErrors "github.com/tatamihub/dojo-api/pkg/errors"
	"github.com/tatamihub/dojo-api/pkg/response"
)

// GuardianHandler exposes guardian endpoints.
type GuardianHandler struct {
	guardians *service.GuardianService
}

// NewGuardianHandler constructs GuardianHandler.
func NewGuardianHandler(guardians *service.GuardianService) *GuardianHandler {
	return &GuardianHandler{guardians: guardians}
}

// List godoc
// @Summary List guardians
// @Tags Guardians
// @Produce json
// @Param search query string false "Search by name or email"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /guardians [get]
func (h *GuardianHandler) List(c *gin.Context) {
	var filter models.GuardianFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	guardians, total, err := h.guardians.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, guardians, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total})
}

// Get godoc
// @Summary Get guardian detail
// @Tags Guardians
// @Produce json
// @Param id path string true "Guardian ID"
// @Success 200 {object} response.Envelope
// @Router /guardians/{id} [get]
func (h *GuardianHandler) Get(c *gin.Context) {
	guardian, err := h.guardians.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, guardian, nil)
}

// Create godoc
// @Summary Register guardian
// @Tags Guardians
// @Accept json
// @Produce json
// @Param payload body service.CreateGuardianRequest true "Guardian payload"
// @Success 201 {object} response.Envelope
// @Router /guardians [post]
func (h *GuardianHandler) Create(c *gin.Context) {
	var req service.CreateGuardianRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	guardian, err := h.guardians.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, guardian)
}

// Update godoc
// @Summary Update guardian
// @Tags Guardians
// @Accept json
// @Produce json
// @Param id path string true "Guardian ID"
// @Param payload body service.UpdateGuardianRequest true "Guardian payload"
// @Success 200 {object} response.Envelope
// @Router /guardians/{id} [put]
func (h *GuardianHandler) Update(c *gin.Context) {
	var req service.UpdateGuardianRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	guardian, err := h.guardians.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, guardian, nil)
}

// Delete godoc
// @Summary Delete guardian
// @Tags Guardians
// @Produce json
// @Param id path string true "Guardian ID"
// @Success 204
// @Router /guardians/{id} [delete]
func (h *GuardianHandler) Delete(c *gin.Context) {
	if err := h.guardians.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListByStudent godoc
// @Summary List guardians linked to a student
// @Tags Guardians
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/guardians [get]
func (h *GuardianHandler) ListByStudent(c *gin.Context) {
	guardians, err := h.guardians.ListByStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, guardians, nil)
}

// Attach godoc
// @Summary Link a guardian to a student
// @Tags Guardians
// @Produce json
// @Param id path string true "Student ID"
// @Param guardianId path string true "Guardian ID"
// @Success 204
// @Router /students/{id}/guardians/{guardianId} [post]
func (h *GuardianHandler) Attach(c *gin.Context) {
	if err := h.guardians.Attach(c.Request.Context(), c.Param("id"), c.Param("guardianId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Detach godoc
// @Summary Unlink a guardian from a student
// @Tags Guardians
// @Produce json
// @Param id path string true "Student ID"
// @Param guardianId path string true "Guardian ID"
// @Success 204
// @Router /students/{id}/guardians/{guardianId} [delete]
func (h *GuardianHandler) Detach(c *gin.Context) {
	if err := h.guardians.Detach(c.Request.Context(), c.Param("id"), c.Param("guardianId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
