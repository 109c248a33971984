package service

import (
	"context"
	"errors"
	"time"

	"attendance_srv/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReportRepository интерфейс для работы с каталогом полученных отчетов
type ReportRepository interface {
	RecordFetch(ctx context.Context, report *models.CachedReport) error
	GetByKey(ctx context.Context, key string) (*models.CachedReport, error)
	List(ctx context.Context, params ListReportParams) ([]models.CachedReport, int64, error)
	All(ctx context.Context) ([]models.CachedReport, error)
	MarkEvicted(ctx context.Context, key string) error
}

// Допустимые поля сортировки списка
var sortColumns = map[string]string{
	"":                "last_fetched_at",
	"last_fetched_at": "last_fetched_at",
	"label":           "label",
	"fetch_count":     "fetch_count",
	"size":            "size",
	"created_at":      "created_at",
}

// GormReportRepository реализация репозитория отчетов для GORM
type GormReportRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewGormReportRepository создает новый GORM репозиторий отчетов
func NewGormReportRepository(db *gorm.DB, logger *logrus.Logger) *GormReportRepository {
	return &GormReportRepository{
		db:     db,
		logger: logger,
	}
}

// RecordFetch создает запись об отчете или обновляет существующую
func (r *GormReportRepository) RecordFetch(ctx context.Context, report *models.CachedReport) error {
	now := time.Now().UTC()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.CachedReport
		err := tx.Where("storage_key = ?", report.StorageKey).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			report.FetchCount = 1
			report.LastFetchedAt = now
			report.SetStatus(models.StatusCached)
			return tx.Create(report).Error
		case err != nil:
			return err
		}

		updates := map[string]interface{}{
			"mode":            report.Mode,
			"label":           report.Label,
			"local_path":      report.LocalPath,
			"size":            report.Size,
			"pages":           report.Pages,
			"fetch_count":     gorm.Expr("fetch_count + ?", 1),
			"last_fetched_at": now,
			"status":          models.StatusCached,
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(report, existing.ID).Error
	})
}

// GetByKey получает отчет по ключу хранилища
func (r *GormReportRepository) GetByKey(ctx context.Context, key string) (*models.CachedReport, error) {
	var report models.CachedReport
	err := r.db.WithContext(ctx).Where("storage_key = ?", key).First(&report).Error
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// List получает список отчетов с фильтрацией и пагинацией
func (r *GormReportRepository) List(ctx context.Context, params ListReportParams) ([]models.CachedReport, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.CachedReport{})

	// Фильтрация
	if params.Mode != "" {
		query = query.Where("mode = ?", params.Mode)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}

	// Подсчет общего количества
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Сортировка
	order, ok := sortColumns[params.SortBy]
	if !ok {
		order = sortColumns[""]
	}
	if params.SortDesc || params.SortBy == "" {
		order += " DESC"
	}
	query = query.Order(order).Order("id")

	// Пагинация
	offset := (params.Page - 1) * params.PageSize
	query = query.Offset(offset).Limit(params.PageSize)

	var reports []models.CachedReport
	err := query.Find(&reports).Error

	return reports, total, err
}

// All возвращает весь каталог
func (r *GormReportRepository) All(ctx context.Context) ([]models.CachedReport, error) {
	var reports []models.CachedReport
	err := r.db.WithContext(ctx).Order("mode").Order("label").Find(&reports).Error
	return reports, err
}

// MarkEvicted помечает отчет удаленным из кэша
func (r *GormReportRepository) MarkEvicted(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var report models.CachedReport
		if err := tx.Where("storage_key = ?", key).First(&report).Error; err != nil {
			return err
		}
		if report.IsEvicted() {
			return nil
		}

		report.SetStatus(models.StatusEvicted)
		report.LocalPath = ""
		return tx.Save(&report).Error
	})
}
