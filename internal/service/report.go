package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"attendance_srv/internal/cache"
	"attendance_srv/internal/document"
	"attendance_srv/internal/downloads"
	"attendance_srv/internal/metrics"
	"attendance_srv/internal/models"
	"attendance_srv/internal/report"
	"attendance_srv/internal/session"
	"attendance_srv/internal/storage"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ReportService интерфейс для работы с отчетами о посещаемости
type ReportService interface {
	Fetch(ctx context.Context, req report.Request) (*FetchResult, error)
	RemoteURL(ctx context.Context, req report.Request) (string, error)
	Page(ctx context.Context, req report.Request, n int, w io.Writer) (*PageResult, error)
	Save(ctx context.Context, req report.Request) (*SaveResult, error)
	Invalidate(ctx context.Context, req report.Request) (bool, error)
	CatalogEntry(ctx context.Context, req report.Request) (*models.CachedReport, error)
	ListReports(ctx context.Context, params ListReportParams) (*ReportList, error)
	ExportReports(ctx context.Context, w io.Writer) error
	Available(ctx context.Context, mode report.Mode) ([]AvailableReport, error)
}

// ReportCache локальный кэш файлов отчетов
type ReportCache interface {
	Get(ctx context.Context, key string) (cache.Entry, error)
	RemoteURL(ctx context.Context, key string) (string, error)
	Invalidate(key string) (bool, error)
}

// ReportLister перечисляет отчеты в удаленном хранилище
type ReportLister interface {
	List(ctx context.Context, prefix string) ([]storage.FileInfo, error)
}

// ReportSaver сохраняет файл отчета в каталог загрузок
type ReportSaver interface {
	Save(src, displayName string) (string, error)
}

// FetchResult результат получения отчета
type FetchResult struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Mode   string `json:"mode"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Pages  int    `json:"pages"`
	Cached bool   `json:"cached"`
}

// PageResult страница отчета; номера страниц с 1, 0 означает отсутствие соседней
type PageResult struct {
	FetchResult
	Requested int `json:"requested"`
	Page      int `json:"page"`
	Prev      int `json:"prev,omitempty"`
	Next      int `json:"next,omitempty"`
}

// SaveResult результат сохранения отчета в загрузки
type SaveResult struct {
	FetchResult
	SavedTo string `json:"saved_to"`
}

// AvailableReport отчет, доступный в удаленном хранилище
type AvailableReport struct {
	Key          string    `json:"key"`
	Label        string    `json:"label"`
	Date         string    `json:"date"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ListReportParams параметры для получения списка отчетов
type ListReportParams struct {
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Mode     string `json:"mode,omitempty"`
	Status   string `json:"status,omitempty"`
	SortBy   string `json:"sort_by,omitempty"`
	SortDesc bool   `json:"sort_desc,omitempty"`
}

// ReportList результат получения списка отчетов с пагинацией
type ReportList struct {
	Reports    []models.CachedReport `json:"reports"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}

// Deps зависимости сервиса отчетов
type Deps struct {
	Auth       session.Authenticator
	Cache      ReportCache
	Lister     ReportLister
	Saver      ReportSaver
	Repository ReportRepository
	Exporter   *ExcelCatalogExporter
	Metrics    *metrics.Metrics
	Logger     *logrus.Logger
}

// ReportServiceImpl реализация сервиса отчетов
type ReportServiceImpl struct {
	auth       session.Authenticator
	cache      ReportCache
	lister     ReportLister
	saver      ReportSaver
	repository ReportRepository
	exporter   *ExcelCatalogExporter
	metrics    *metrics.Metrics
	logger     *logrus.Logger
}

// NewReportService создает новый сервис отчетов
func NewReportService(deps Deps) *ReportServiceImpl {
	if deps.Exporter == nil {
		deps.Exporter = NewExcelCatalogExporter(deps.Logger)
	}
	return &ReportServiceImpl{
		auth:       deps.Auth,
		cache:      deps.Cache,
		lister:     deps.Lister,
		saver:      deps.Saver,
		repository: deps.Repository,
		exporter:   deps.Exporter,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
}

// Fetch возвращает локальный файл отчета, загружая его при промахе кэша
func (s *ReportServiceImpl) Fetch(ctx context.Context, req report.Request) (*FetchResult, error) {
	key, label := req.Key(), req.Label()
	logger := s.logger.WithFields(logrus.Fields{
		"mode":  req.Mode.String(),
		"key":   key,
		"label": label,
	})
	s.metrics.Fetch(req.Mode.String())

	if err := s.auth.EnsureSignedIn(ctx); err != nil {
		s.metrics.Failure("auth")
		logger.WithError(err).Error("Ошибка входа в хранилище отчетов")
		return nil, err
	}

	entry, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.WithError(err).Error("Ошибка получения отчета")
		return nil, err
	}

	doc, err := document.Open(entry.Path)
	if err != nil {
		s.metrics.Failure("render")
		logger.WithError(err).Error("Файл отчета не является корректным документом")
		// Повреждённый файл не должен обслуживаться из кэша повторно
		if _, invErr := s.cache.Invalidate(key); invErr != nil {
			logger.WithError(invErr).Warn("Ошибка удаления повреждённого файла из кэша")
		}
		return nil, err
	}

	result := &FetchResult{
		Key:    key,
		Label:  label,
		Mode:   req.Mode.String(),
		Path:   entry.Path,
		Size:   entry.Size,
		Pages:  doc.PageCount(),
		Cached: entry.Hit,
	}

	if s.repository != nil {
		record := &models.CachedReport{
			StorageKey: key,
			Mode:       result.Mode,
			Label:      label,
			LocalPath:  entry.Path,
			Size:       entry.Size,
			Pages:      result.Pages,
		}
		// Каталог вспомогательный: ошибка записи не мешает показать отчет
		if err := s.repository.RecordFetch(ctx, record); err != nil {
			logger.WithError(err).Warn("Ошибка записи отчета в каталог")
		}
	}

	logger.WithFields(logrus.Fields{
		"pages":  result.Pages,
		"cached": result.Cached,
	}).Info("Отчет получен")
	return result, nil
}

// RemoteURL возвращает временную ссылку на отчет в хранилище
func (s *ReportServiceImpl) RemoteURL(ctx context.Context, req report.Request) (string, error) {
	key := req.Key()
	logger := s.logger.WithField("key", key)

	if err := s.auth.EnsureSignedIn(ctx); err != nil {
		s.metrics.Failure("auth")
		logger.WithError(err).Error("Ошибка входа в хранилище отчетов")
		return "", err
	}

	u, err := s.cache.RemoteURL(ctx, key)
	if err != nil {
		logger.WithError(err).Error("Ошибка получения ссылки на отчет")
		return "", err
	}
	return u, nil
}

// Page получает отчет и пишет в w страницу n отдельным PDF. Номер вне
// диапазона не меняет текущую страницу: отдается первая.
func (s *ReportServiceImpl) Page(ctx context.Context, req report.Request, n int, w io.Writer) (*PageResult, error) {
	result, err := s.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	logger := s.logger.WithFields(logrus.Fields{
		"key":  result.Key,
		"page": n,
	})

	doc, err := document.Open(result.Path)
	if err != nil {
		s.metrics.Failure("render")
		logger.WithError(err).Error("Файл отчета не является корректным документом")
		return nil, err
	}
	if !doc.ShowPage(n - 1) {
		logger.WithField("pages", doc.PageCount()).Debug("Номер страницы вне диапазона")
	}

	current := doc.Current()
	page := &PageResult{FetchResult: *result, Requested: n, Page: current + 1}
	if doc.Prev() {
		page.Prev = doc.Current() + 1
		doc.ShowPage(current)
	}
	if doc.Next() {
		page.Next = doc.Current() + 1
		doc.ShowPage(current)
	}

	if err := doc.WritePage(w); err != nil {
		s.metrics.Failure("render")
		logger.WithError(err).Error("Ошибка извлечения страницы отчета")
		return nil, err
	}
	return page, nil
}

// Save получает отчет и копирует его в каталог загрузок
func (s *ReportServiceImpl) Save(ctx context.Context, req report.Request) (*SaveResult, error) {
	if s.saver == nil {
		return nil, &downloads.SaveError{Path: req.Label(), Err: errors.New("downloads directory is not configured")}
	}

	result, err := s.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	dst, err := s.saver.Save(result.Path, downloads.DefaultName(result.Label))
	if err != nil {
		s.metrics.Failure("save")
		s.logger.WithError(err).WithField("key", result.Key).Error("Ошибка сохранения отчета в загрузки")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"key":      result.Key,
		"saved_to": dst,
	}).Info("Отчет сохранен в загрузки")
	return &SaveResult{FetchResult: *result, SavedTo: dst}, nil
}

// Invalidate удаляет отчет из локального кэша
func (s *ReportServiceImpl) Invalidate(ctx context.Context, req report.Request) (bool, error) {
	key := req.Key()

	removed, err := s.cache.Invalidate(key)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Ошибка удаления отчета из кэша")
		return false, err
	}

	if s.repository != nil {
		if err := s.repository.MarkEvicted(ctx, key); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.WithError(err).WithField("key", key).Warn("Ошибка обновления статуса отчета в каталоге")
		}
	}
	return removed, nil
}

// CatalogEntry возвращает запись каталога об отчете
func (s *ReportServiceImpl) CatalogEntry(ctx context.Context, req report.Request) (*models.CachedReport, error) {
	if s.repository == nil {
		return nil, errors.New("каталог отчетов не настроен")
	}

	record, err := s.repository.GetByKey(ctx, req.Key())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		s.logger.WithError(err).WithField("key", req.Key()).Error("Ошибка получения записи каталога")
		return nil, fmt.Errorf("ошибка получения записи каталога: %w", err)
	}
	return record, nil
}

// ListReports получает список отчетов каталога с пагинацией
func (s *ReportServiceImpl) ListReports(ctx context.Context, params ListReportParams) (*ReportList, error) {
	if s.repository == nil {
		return nil, errors.New("каталог отчетов не настроен")
	}

	// Валидация параметров пагинации
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = defaultPageSize
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}

	reports, total, err := s.repository.List(ctx, params)
	if err != nil {
		s.logger.WithError(err).Error("Ошибка получения списка отчетов")
		return nil, fmt.Errorf("ошибка получения списка отчетов: %w", err)
	}

	totalPages := int((total + int64(params.PageSize) - 1) / int64(params.PageSize))

	return &ReportList{
		Reports:    reports,
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalPages: totalPages,
	}, nil
}

// ExportReports выгружает весь каталог в Excel
func (s *ReportServiceImpl) ExportReports(ctx context.Context, w io.Writer) error {
	if s.repository == nil {
		return errors.New("каталог отчетов не настроен")
	}

	reports, err := s.repository.All(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Ошибка получения каталога для выгрузки")
		return fmt.Errorf("ошибка получения каталога: %w", err)
	}
	return s.exporter.Export(ctx, reports, w)
}

// Available перечисляет отчеты режима mode в удаленном хранилище
func (s *ReportServiceImpl) Available(ctx context.Context, mode report.Mode) ([]AvailableReport, error) {
	if err := s.auth.EnsureSignedIn(ctx); err != nil {
		s.metrics.Failure("auth")
		return nil, err
	}

	prefix := report.KeyPrefix(mode)
	files, err := s.lister.List(ctx, prefix)
	if err != nil {
		s.logger.WithError(err).WithField("prefix", prefix).Error("Ошибка получения списка отчетов из хранилища")
		return nil, &cache.RetrievalError{Key: prefix, Err: err}
	}

	available := make([]AvailableReport, 0, len(files))
	for _, f := range files {
		req, err := report.ParseKey(f.Key)
		if err != nil || req.Mode != mode {
			continue
		}
		// Ключи в нестандартной записи пропускаются
		if req.Key() != f.Key {
			continue
		}
		available = append(available, AvailableReport{
			Key:          f.Key,
			Label:        req.Label(),
			Date:         req.Date.Format(report.DateLayout),
			Size:         f.Size,
			LastModified: f.LastModified,
		})
	}
	return available, nil
}
