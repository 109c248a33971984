package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"attendance_srv/internal/cache"
	"attendance_srv/internal/database"
	"attendance_srv/internal/document"
	"attendance_srv/internal/document/doctest"
	"attendance_srv/internal/downloads"
	"attendance_srv/internal/models"
	"attendance_srv/internal/report"
	"attendance_srv/internal/session"
	"attendance_srv/internal/storage"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// MockAuthenticator is a mock implementation of session.Authenticator
type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) EnsureSignedIn(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type testEnv struct {
	service *ReportServiceImpl
	bucket  string
	cache   *cache.Fetcher
	repo    *GormReportRepository
	saver   *downloads.Saver
}

func setupTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := database.NewDatabase(database.Config{Driver: database.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.CachedReport{})
	require.NoError(t, err)

	return db
}

func setupTestEnv(t *testing.T, auth session.Authenticator) *testEnv {
	logger := setupTestLogger()
	root := t.TempDir()

	bucket := filepath.Join(root, "bucket")
	store, err := storage.NewLocalStorage(bucket, logger)
	require.NoError(t, err)

	fetcher, err := cache.New(store, cache.Options{Dir: filepath.Join(root, "cache"), Logger: logger})
	require.NoError(t, err)

	if auth == nil {
		auth = session.NewSilent(nil, logger)
	}
	repo := NewGormReportRepository(setupTestDB(t), logger)
	saver := downloads.NewSaver(filepath.Join(root, "Downloads"))

	svc := NewReportService(Deps{
		Auth:       auth,
		Cache:      fetcher,
		Lister:     store,
		Saver:      saver,
		Repository: repo,
		Logger:     logger,
	})
	return &testEnv{service: svc, bucket: bucket, cache: fetcher, repo: repo, saver: saver}
}

func (e *testEnv) put(t *testing.T, key string, data []byte) {
	t.Helper()
	path := filepath.Join(e.bucket, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := report.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestFetchDailyReport(t *testing.T) {
	env := setupTestEnv(t, nil)
	req := report.NewRequest(report.Daily, mustDate(t, "2024-03-05"))
	env.put(t, "reports/daily/2024-03-05.pdf", doctest.MinimalPDF(2))

	result, err := env.service.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "reports/daily/2024-03-05.pdf", result.Key)
	assert.Equal(t, "2024-03-05", result.Label)
	assert.Equal(t, 2, result.Pages)
	assert.False(t, result.Cached)
	assert.FileExists(t, result.Path)

	again, err := env.service.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, result.Path, again.Path)

	record, err := env.repo.GetByKey(context.Background(), result.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), record.FetchCount)
	assert.Equal(t, 2, record.Pages)
	assert.True(t, record.IsCached())
}

func TestFetchWeeklyReportAcrossYearBoundary(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.put(t, "reports/weekly/2025-W01.pdf", doctest.MinimalPDF(1))

	result, err := env.service.Fetch(context.Background(), report.NewRequest(report.Weekly, mustDate(t, "2024-12-30")))
	require.NoError(t, err)
	assert.Equal(t, "2025-W01", result.Label)
	assert.Equal(t, "weekly", result.Mode)
}

func TestFetchMissingReport(t *testing.T) {
	env := setupTestEnv(t, nil)

	_, err := env.service.Fetch(context.Background(), report.NewRequest(report.Daily, mustDate(t, "2024-03-06")))

	var retrievalErr *cache.RetrievalError
	require.ErrorAs(t, err, &retrievalErr)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	_, err = env.repo.GetByKey(context.Background(), "reports/daily/2024-03-06.pdf")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestFetchAuthFailureSkipsRemote(t *testing.T) {
	auth := new(MockAuthenticator)
	auth.On("EnsureSignedIn", mock.Anything).Return(&session.AuthError{Err: errors.New("offline")})

	env := setupTestEnv(t, auth)
	env.put(t, "reports/daily/2024-03-05.pdf", doctest.MinimalPDF(1))
	req := report.NewRequest(report.Daily, mustDate(t, "2024-03-05"))

	_, err := env.service.Fetch(context.Background(), req)

	var authErr *session.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.NoFileExists(t, env.cache.Path(req.Key()))
	auth.AssertExpectations(t)
}

func TestFetchInvalidDocument(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.put(t, "reports/daily/2024-03-05.pdf", []byte("<html>error page</html>"))
	req := report.NewRequest(report.Daily, mustDate(t, "2024-03-05"))

	_, err := env.service.Fetch(context.Background(), req)

	var renderErr *document.RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.NoFileExists(t, env.cache.Path(req.Key()))
}

func TestSaveReport(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.put(t, "reports/weekly/2024-W10.pdf", doctest.MinimalPDF(3))
	req := report.NewRequest(report.Weekly, mustDate(t, "2024-03-05"))

	saved, err := env.service.Save(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.saver.Dir(), "attendance_report_2024-W10.pdf"), saved.SavedTo)
	assert.FileExists(t, saved.SavedTo)
	assert.Equal(t, 3, saved.Pages)
}

func TestInvalidateReport(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.put(t, "reports/daily/2024-03-05.pdf", doctest.MinimalPDF(1))
	req := report.NewRequest(report.Daily, mustDate(t, "2024-03-05"))
	ctx := context.Background()

	_, err := env.service.Fetch(ctx, req)
	require.NoError(t, err)

	removed, err := env.service.Invalidate(ctx, req)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoFileExists(t, env.cache.Path(req.Key()))

	record, err := env.repo.GetByKey(ctx, req.Key())
	require.NoError(t, err)
	assert.True(t, record.IsEvicted())
	assert.Empty(t, record.LocalPath)
	assert.Equal(t, int64(1), record.FetchCount)

	_, err = env.service.Fetch(ctx, req)
	require.NoError(t, err)
	record, err = env.repo.GetByKey(ctx, req.Key())
	require.NoError(t, err)
	assert.True(t, record.IsCached())
	assert.Equal(t, int64(2), record.FetchCount)

	removed, err = env.service.Invalidate(ctx, report.NewRequest(report.Daily, mustDate(t, "2020-01-01")))
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestReportPage(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.put(t, "reports/daily/2024-03-05.pdf", doctest.MinimalPDF(3))
	req := report.NewRequest(report.Daily, mustDate(t, "2024-03-05"))

	var buf bytes.Buffer
	page, err := env.service.Page(context.Background(), req, 2, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 1, page.Prev)
	assert.Equal(t, 3, page.Next)
	assert.Equal(t, 3, page.Pages)

	extracted := filepath.Join(t.TempDir(), "page.pdf")
	require.NoError(t, os.WriteFile(extracted, buf.Bytes(), 0o644))
	doc, err := document.Open(extracted)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.PageCount())
}

func TestReportPageOutOfRange(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.put(t, "reports/daily/2024-03-05.pdf", doctest.MinimalPDF(2))
	req := report.NewRequest(report.Daily, mustDate(t, "2024-03-05"))

	for _, n := range []int{0, 3, -1} {
		var buf bytes.Buffer
		page, err := env.service.Page(context.Background(), req, n, &buf)
		require.NoError(t, err)
		assert.Equal(t, n, page.Requested)
		assert.Equal(t, 1, page.Page)
		assert.Zero(t, page.Prev)
		assert.Equal(t, 2, page.Next)
		assert.NotZero(t, buf.Len())
	}
}

func TestReportPageMissingReport(t *testing.T) {
	env := setupTestEnv(t, nil)
	req := report.NewRequest(report.Daily, mustDate(t, "2024-03-05"))

	var buf bytes.Buffer
	_, err := env.service.Page(context.Background(), req, 1, &buf)
	var retrievalErr *cache.RetrievalError
	assert.ErrorAs(t, err, &retrievalErr)
	assert.Zero(t, buf.Len())
}

func TestCatalogEntry(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.put(t, "reports/weekly/2025-W01.pdf", doctest.MinimalPDF(1))
	req := report.NewRequest(report.Weekly, mustDate(t, "2024-12-30"))
	ctx := context.Background()

	_, err := env.service.CatalogEntry(ctx, req)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	_, err = env.service.Fetch(ctx, req)
	require.NoError(t, err)

	record, err := env.service.CatalogEntry(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "reports/weekly/2025-W01.pdf", record.StorageKey)
	assert.Equal(t, "2025-W01", record.Label)
	assert.Equal(t, int64(1), record.FetchCount)
}

func TestRemoteURL(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.put(t, "reports/daily/2024-03-05.pdf", doctest.MinimalPDF(1))

	u, err := env.service.RemoteURL(context.Background(), report.NewRequest(report.Daily, mustDate(t, "2024-03-05")))
	require.NoError(t, err)
	assert.Contains(t, u, "2024-03-05.pdf")

	_, err = env.service.RemoteURL(context.Background(), report.NewRequest(report.Daily, mustDate(t, "2024-03-06")))
	var retrievalErr *cache.RetrievalError
	assert.ErrorAs(t, err, &retrievalErr)
}

func TestListReports(t *testing.T) {
	env := setupTestEnv(t, nil)
	ctx := context.Background()
	for _, d := range []string{"2024-03-04", "2024-03-05", "2024-03-06"} {
		env.put(t, "reports/daily/"+d+".pdf", doctest.MinimalPDF(1))
		_, err := env.service.Fetch(ctx, report.NewRequest(report.Daily, mustDate(t, d)))
		require.NoError(t, err)
	}
	env.put(t, "reports/weekly/2024-W10.pdf", doctest.MinimalPDF(1))
	_, err := env.service.Fetch(ctx, report.NewRequest(report.Weekly, mustDate(t, "2024-03-05")))
	require.NoError(t, err)

	list, err := env.service.ListReports(ctx, ListReportParams{Page: 1, PageSize: 2, Mode: "daily"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), list.Total)
	assert.Len(t, list.Reports, 2)
	assert.Equal(t, 2, list.TotalPages)

	list, err = env.service.ListReports(ctx, ListReportParams{SortBy: "label"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), list.Total)
	assert.Equal(t, defaultPageSize, list.PageSize)
	assert.Equal(t, "2024-03-04", list.Reports[0].Label)
}

func TestExportReports(t *testing.T) {
	env := setupTestEnv(t, nil)
	ctx := context.Background()
	env.put(t, "reports/daily/2024-03-05.pdf", doctest.MinimalPDF(1))
	_, err := env.service.Fetch(ctx, report.NewRequest(report.Daily, mustDate(t, "2024-03-05")))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, env.service.ExportReports(ctx, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(catalogSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "daily", rows[1][0])
	assert.Equal(t, "2024-03-05", rows[1][1])
	assert.Equal(t, "reports/daily/2024-03-05.pdf", rows[1][2])
}

func TestAvailable(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.put(t, "reports/weekly/2024-W10.pdf", doctest.MinimalPDF(1))
	env.put(t, "reports/weekly/2024-W11.pdf", doctest.MinimalPDF(1))
	env.put(t, "reports/weekly/notes.txt", []byte("x"))
	env.put(t, "reports/daily/2024-03-05.pdf", doctest.MinimalPDF(1))

	available, err := env.service.Available(context.Background(), report.Weekly)
	require.NoError(t, err)
	require.Len(t, available, 2)

	labels := []string{available[0].Label, available[1].Label}
	assert.ElementsMatch(t, []string{"2024-W10", "2024-W11"}, labels)
	for _, a := range available {
		if a.Label == "2024-W10" {
			assert.Equal(t, "2024-03-04", a.Date)
		}
	}
}
