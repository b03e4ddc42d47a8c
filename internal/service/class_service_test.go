package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tatamihub/dojo-api/internal/models"
	appErrors "github.com/tatamihub/dojo-api/pkg/errors"
)

type mockClassRepo struct {
	classes  map[string]*models.ClassGroup
	sessions map[string]*models.ClassSession
	created  *models.ClassSession
}

func (m *mockClassRepo) List(ctx context.Context, filter models.ClassGroupFilter) ([]models.ClassGroup, int, error) {
	return nil, 0, nil
}

func (m *mockClassRepo) FindByID(ctx context.Context, id string) (*models.ClassGroup, error) {
	class, ok := m.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return class, nil
}

func (m *mockClassRepo) Create(ctx context.Context, class *models.ClassGroup) error {
	class.ID = "new-class"
	return nil
}

func (m *mockClassRepo) Update(ctx context.Context, class *models.ClassGroup) error {
	return nil
}

func (m *mockClassRepo) Deactivate(ctx context.Context, id string) error {
	return nil
}

func (m *mockClassRepo) CreateSession(ctx context.Context, session *models.ClassSession) error {
	session.ID = "new-session"
	m.created = session
	return nil
}

func (m *mockClassRepo) FindSessionByID(ctx context.Context, id string) (*models.ClassSession, error) {
	session, ok := m.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return session, nil
}

func (m *mockClassRepo) ListSessions(ctx context.Context, classID string, from, to *time.Time) ([]models.ClassSession, error) {
	return nil, nil
}

type mockBulkMarker struct {
	rows      []models.Attendance
	result    *models.BulkAttendanceResult
	err       error
	gotAtomic bool
	gotCount  int
}

func (m *mockBulkMarker) ListBySession(ctx context.Context, sessionID string) ([]models.Attendance, error) {
	return m.rows, nil
}

func (m *mockBulkMarker) BulkMark(ctx context.Context, sessionID string, entries []models.AttendanceEntry, atomic bool) (*models.BulkAttendanceResult, error) {
	m.gotAtomic = atomic
	m.gotCount = len(entries)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func TestClassServiceCreateSession(t *testing.T) {
	repo := &mockClassRepo{classes: map[string]*models.ClassGroup{"c1": {ID: "c1", Name: "Adults Evening", Active: true}}}
	svc := NewClassService(repo, &mockBulkMarker{}, nil, validator.New(), zap.NewNop())

	session, err := svc.CreateSession(context.Background(), "c1", CreateSessionRequest{Date: "2026-03-14", Notes: "sparring"})
	require.NoError(t, err)
	assert.Equal(t, "new-session", session.ID)
	assert.Equal(t, "c1", session.ClassID)
	assert.Equal(t, 2026, session.Date.Year())
}

func TestClassServiceCreateSessionUnknownClass(t *testing.T) {
	repo := &mockClassRepo{classes: map[string]*models.ClassGroup{}}
	svc := NewClassService(repo, &mockBulkMarker{}, nil, validator.New(), zap.NewNop())

	_, err := svc.CreateSession(context.Background(), "missing", CreateSessionRequest{Date: "2026-03-14"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestClassServiceMarkAttendanceRejectsDuplicateStudents(t *testing.T) {
	studentID := "3f2a1b4c-5d6e-4f70-8a9b-0c1d2e3f4a5b"
	repo := &mockClassRepo{sessions: map[string]*models.ClassSession{"s1": {ID: "s1", ClassID: "c1"}}}
	marker := &mockBulkMarker{}
	svc := NewClassService(repo, marker, nil, validator.New(), zap.NewNop())

	_, err := svc.MarkAttendance(context.Background(), "s1", BulkAttendanceRequest{
		Entries: []models.AttendanceEntry{
			{StudentID: studentID, Present: true},
			{StudentID: studentID, Present: false},
		},
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Zero(t, marker.gotCount)
}

func TestClassServiceMarkAttendancePassesThroughConflict(t *testing.T) {
	repo := &mockClassRepo{sessions: map[string]*models.ClassSession{"s1": {ID: "s1"}}}
	marker := &mockBulkMarker{err: appErrors.Clone(appErrors.ErrConflict, "attendance already recorded")}
	svc := NewClassService(repo, marker, nil, validator.New(), zap.NewNop())

	_, err := svc.MarkAttendance(context.Background(), "s1", BulkAttendanceRequest{
		Entries: []models.AttendanceEntry{{StudentID: "3f2a1b4c-5d6e-4f70-8a9b-0c1d2e3f4a5b", Present: true}},
		Atomic:  true,
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.True(t, marker.gotAtomic)
}

func TestClassServiceMarkAttendanceInvalidatesEligibility(t *testing.T) {
	repo := &mockClassRepo{sessions: map[string]*models.ClassSession{"s1": {ID: "s1"}}}
	marker := &mockBulkMarker{result: &models.BulkAttendanceResult{Marked: 2}}
	cache := newMockCache()
	cache.entries["eligibility:student-1"] = []byte(`{}`)
	svc := NewClassService(repo, marker, cache, validator.New(), zap.NewNop())

	result, err := svc.MarkAttendance(context.Background(), "s1", BulkAttendanceRequest{
		Entries: []models.AttendanceEntry{
			{StudentID: "3f2a1b4c-5d6e-4f70-8a9b-0c1d2e3f4a5b", Present: true},
			{StudentID: "4a3b2c5d-6e7f-4081-9bac-1d2e3f4a5b6c", Present: false},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Marked)
	assert.Contains(t, cache.deleted, "eligibility:*")
	assert.Empty(t, cache.entries)
}

func TestClassServiceSessionAttendanceUnknownSession(t *testing.T) {
	repo := &mockClassRepo{sessions: map[string]*models.ClassSession{}}
	svc := NewClassService(repo, &mockBulkMarker{}, nil, validator.New(), zap.NewNop())

	_, err := svc.SessionAttendance(context.Background(), "missing")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
