package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/tatamihub/dojo-api/internal/middleware"
	"github.com/tatamihub/dojo-api/internal/models"
	"github.com/tatamihub/dojo-api/internal/service"
	appErrors "github.com/tatamihub/dojo-api/pkg/errors"
)

type promotionEngineMock struct {
	eligibility    *models.EligibilityResult
	eligibilityErr error
	roster         []models.EligibilityResult
	rosterErr      error
	history        []models.PromotionDetail
	historyErr     error
	promotion      *models.Promotion
	promoteErr     error
	gotActorID     string
}

func (m *promotionEngineMock) EvaluateEligibility(ctx context.Context, studentID string) (*models.EligibilityResult, error) {
	return m.eligibility, m.eligibilityErr
}

func (m *promotionEngineMock) EvaluateRoster(ctx context.Context) ([]models.EligibilityResult, error) {
	return m.roster, m.rosterErr
}

func (m *promotionEngineMock) History(ctx context.Context, studentID string) ([]models.PromotionDetail, error) {
	return m.history, m.historyErr
}

func (m *promotionEngineMock) Promote(ctx context.Context, studentID, actorID string, req service.PromoteRequest) (*models.Promotion, error) {
	m.gotActorID = actorID
	return m.promotion, m.promoteErr
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func TestPromotionHandlerEligibility(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &promotionEngineMock{
		eligibility: &models.EligibilityResult{StudentID: "s1", Eligible: true, AttendedClasses: 32, RequiredClasses: 30},
	}
	h := NewPromotionHandler(mockSvc, nil)

	c, w := newGinContext(http.MethodGet, "/promotions/eligibility/s1", nil)
	c.Params = gin.Params{{Key: "id", Value: "s1"}}

	h.Eligibility(c)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestPromotionHandlerEligibilityNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &promotionEngineMock{eligibilityErr: appErrors.Clone(appErrors.ErrNotFound, "student not found")}
	h := NewPromotionHandler(mockSvc, nil)

	c, w := newGinContext(http.MethodGet, "/promotions/eligibility/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	h.Eligibility(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPromotionHandlerPromote(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &promotionEngineMock{
		promotion: &models.Promotion{ID: "p1", StudentID: "s1", RankID: "r2"},
	}
	h := NewPromotionHandler(mockSvc, nil)

	payload, _ := json.Marshal(service.PromoteRequest{RankID: "r2"})
	c, w := newGinContext(http.MethodPost, "/promotions/s1", payload)
	c.Params = gin.Params{{Key: "id", Value: "s1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	h.Promote(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "admin", mockSvc.gotActorID)
}

func TestPromotionHandlerPromoteRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewPromotionHandler(&promotionEngineMock{}, nil)

	payload, _ := json.Marshal(service.PromoteRequest{RankID: "r2"})
	c, w := newGinContext(http.MethodPost, "/promotions/s1", payload)
	c.Params = gin.Params{{Key: "id", Value: "s1"}}

	h.Promote(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPromotionHandlerPromoteRuleViolation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &promotionEngineMock{
		promoteErr: appErrors.RuleViolation("ATTENDANCE", "attendance threshold not met", nil),
	}
	h := NewPromotionHandler(mockSvc, nil)

	payload, _ := json.Marshal(service.PromoteRequest{RankID: "r2"})
	c, w := newGinContext(http.MethodPost, "/promotions/s1", payload)
	c.Params = gin.Params{{Key: "id", Value: "s1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	h.Promote(c)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
