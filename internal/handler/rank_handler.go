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

// RankHandler exposes belt ladder endpoints.
type RankHandler struct {
	ranks *service.RankService
}

// NewRankHandler constructs RankHandler.
func NewRankHandler(ranks *service.RankService) *RankHandler {
	return &RankHandler{ranks: ranks}
}

// List godoc
// @Summary List ranks
// @Tags Ranks
// @Produce json
// @Param track query string false "Filter by track (YOUTH or ADULT)"
// @Param search query string false "Search by name"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /ranks [get]
func (h *RankHandler) List(c *gin.Context) {
	var filter models.RankFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	switch strings.ToUpper(c.Query("track")) {
	case string(models.TrackYouth):
		track := models.TrackYouth
		filter.Track = &track
	case string(models.TrackAdult):
		track := models.TrackAdult
		filter.Track = &track
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.PageSize = size
	}

	ranks, total, err := h.ranks.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ranks, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total})
}

// Get godoc
// @Summary Get rank detail
// @Tags Ranks
// @Produce json
// @Param id path string true "Rank ID"
// @Success 200 {object} response.Envelope
// @Router /ranks/{id} [get]
func (h *RankHandler) Get(c *gin.Context) {
	rank, err := h.ranks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rank, nil)
}

// Create godoc
// @Summary Create rank
// @Tags Ranks
// @Accept json
// @Produce json
// @Param payload body service.CreateRankRequest true "Rank payload"
// @Success 201 {object} response.Envelope
// @Router /ranks [post]
func (h *RankHandler) Create(c *gin.Context) {
	var req service.CreateRankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rank, err := h.ranks.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rank)
}

// Update godoc
// @Summary Update rank
// @Tags Ranks
// @Accept json
// @Produce json
// @Param id path string true "Rank ID"
// @Param payload body service.UpdateRankRequest true "Rank payload"
// @Success 200 {object} response.Envelope
// @Router /ranks/{id} [put]
func (h *RankHandler) Update(c *gin.Context) {
	var req service.UpdateRankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rank, err := h.ranks.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rank, nil)
}

// Delete godoc
// @Summary Delete rank
// @Tags Ranks
// @Produce json
// @Param id path string true "Rank ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /ranks/{id} [delete]
func (h *RankHandler) Delete(c *gin.Context) {
	if err := h.ranks.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListRequirements godoc
// @Summary List promotion requirements
// @Tags Ranks
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /ranks/requirements [get]
func (h *RankHandler) ListRequirements(c *gin.Context) {
	reqs, err := h.ranks.ListRequirements(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reqs, nil)
}

// UpsertRequirement godoc
// @Summary Create or replace a promotion requirement
// @Tags Ranks
// @Accept json
// @Produce json
// @Param payload body service.UpsertRequirementRequest true "Requirement payload"
// @Success 200 {object} response.Envelope
// @Router /ranks/requirements [put]
func (h *RankHandler) UpsertRequirement(c *gin.Context) {
	var req service.UpsertRequirementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	requirement, err := h.ranks.UpsertRequirement(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requirement, nil)
}
