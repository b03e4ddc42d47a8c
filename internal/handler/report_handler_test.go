package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/tatamihub/dojo-api/internal/dto"
	"github.com/tatamihub/dojo-api/internal/middleware"
	"github.com/tatamihub/dojo-api/internal/models"
	"github.com/tatamihub/dojo-api/internal/service"
	appErrors "github.com/tatamihub/dojo-api/pkg/errors"
)

type reportServiceMock struct {
	createResp  *dto.ReportJobResponse
	createErr   error
	statusResp  *dto.ReportStatusResponse
	statusErr   error
	download    *service.ReportDownload
	downloadErr error
}

func (m *reportServiceMock) CreateJob(ctx context.Context, req dto.ReportRequest, actorID string) (*dto.ReportJobResponse, error) {
	return m.createResp, m.createErr
}

func (m *reportServiceMock) GetStatus(ctx context.Context, id string, actorID string, role models.UserRole) (*dto.ReportStatusResponse, error) {
	return m.statusResp, m.statusErr
}

func (m *reportServiceMock) ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error) {
	return m.download, m.downloadErr
}

func TestReportHandlerGenerate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		createResp: &dto.ReportJobResponse{ID: "job-1", Status: models.ReportStatusQueued, Progress: 0},
	}
	h := NewReportHandler(mockSvc)

	payload, _ := json.Marshal(dto.ReportRequest{Type: models.ReportTypeAttendance, Format: models.ReportFormatCSV})
	c, w := newGinContext(http.MethodPost, "/reports/generate", payload)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	h.Generate(c)
	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestReportHandlerGenerateRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewReportHandler(&reportServiceMock{})

	payload, _ := json.Marshal(dto.ReportRequest{Type: models.ReportTypeAttendance, Format: models.ReportFormatCSV})
	c, w := newGinContext(http.MethodPost, "/reports/generate", payload)

	h.Generate(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReportHandlerStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		statusResp: &dto.ReportStatusResponse{ID: "job-1", Status: models.ReportStatusFinished, Progress: 100},
	}
	h := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/job-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	h.Status(c)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestReportHandlerDownload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	file, err := os.CreateTemp("", "report*.csv")
	require.NoError(t, err)
	defer os.Remove(file.Name())
	_, _ = file.WriteString("Date,Class,Student,Mark\n")
	_, _ = file.Seek(0, 0)

	mockSvc := &reportServiceMock{
		download: &service.ReportDownload{
			File:      file,
			Filename:  "attendance.csv",
			Format:    models.ReportFormatCSV,
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	h := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/download/token", nil)
	c.Params = gin.Params{{Key: "token", Value: "token"}}

	h.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Disposition"), "attendance.csv")
}

func TestReportHandlerDownloadInvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{downloadErr: appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")}
	h := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/download/bad", nil)
	c.Params = gin.Params{{Key: "token", Value: "bad"}}

	h.Download(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}
