package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tatamihub/dojo-api/internal/models"
	"github.com/tatamihub/dojo-api/internal/repository"
	"github.com/tatamihub/dojo-api/pkg/export"
	"github.com/tatamihub/dojo-api/pkg/storage"
)

type exportAttendanceRepository interface {
	ClassReport(ctx context.Context, classID string, from, to *time.Time) ([]repository.ClassReportRow, error)
}

type exportPromotionRepository interface {
	ListBetween(ctx context.Context, from, to *time.Time) ([]models.PromotionDetail, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService builds report datasets and persists rendered files.
type ExportService struct {
	attendance exportAttendanceRepository
	promotions exportPromotionRepository
	storage    fileStorage
	csv        csvRenderer
	pdf        pdfRenderer
	signer     *storage.SignedURLSigner
	logger     *zap.Logger
	cfg        ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(attendance exportAttendanceRepository, promotions exportPromotionRepository, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		attendance: attendance,
		promotions: promotions,
		storage:    store,
		csv:        csv,
		pdf:        pdf,
		signer:     signer,
		logger:     logger,
		cfg:        cfg,
	}
}

// Generate builds the dataset for the job definition and stores the rendered file.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := strings.TrimRight(s.cfg.APIPrefix, "/")
	if signedURL == "" {
		signedURL = "/api/v1"
	}
	signedURL = fmt.Sprintf("%s/reports/download/%s", signedURL, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	scope := "all"
	if job.Params.ClassID != nil && *job.Params.ClassID != "" {
		scope = sanitizeFilename(*job.Params.ClassID)
	}
	return fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(job.Type)), scope, timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ReportTypeAttendance:
		return s.buildAttendanceDataset(ctx, job.Params)
	case models.ReportTypePromotions:
		return s.buildPromotionsDataset(ctx, job.Params)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ExportService) buildAttendanceDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	rows, err := s.attendance.ClassReport(ctx, deref(params.ClassID), params.From, params.To)
	if err != nil {
		return export.Dataset{}, "", err
	}
	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		mark := "absent"
		if row.Present {
			mark = "present"
		}
		dataRows = append(dataRows, map[string]string{
			"Date":    row.SessionDate.Format("2006-01-02"),
			"Class":   row.ClassName,
			"Student": row.StudentName,
			"Mark":    mark,
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Date", "Class", "Student", "Mark"},
		Rows:    dataRows,
	}
	return dataset, "Attendance Report", nil
}

func (s *ExportService) buildPromotionsDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	entries, err := s.promotions.ListBetween(ctx, params.From, params.To)
	if err != nil {
		return export.Dataset{}, "", err
	}
	dataRows := make([]map[string]string, 0, len(entries))
	for _, entry := range entries {
		approvedBy := ""
		if entry.ApprovedBy != nil {
			approvedBy = *entry.ApprovedBy
		}
		dataRows = append(dataRows, map[string]string{
			"Promoted At": entry.PromotedAt.UTC().Format(time.RFC3339),
			"Student ID":  entry.StudentID,
			"Rank":        entry.RankName,
			"Order":       fmt.Sprintf("%d", entry.RankOrder),
			"Degree":      fmt.Sprintf("%d", entry.Degree),
			"Approved By": approvedBy,
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Promoted At", "Student ID", "Rank", "Order", "Degree", "Approved By"},
		Rows:    dataRows,
	}
	return dataset, "Promotions Report", nil
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
