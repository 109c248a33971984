package service

import (
	"context"
	"fmt"
	"io"

	"attendance_srv/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

const catalogSheet = "Reports"

// ExcelCatalogExporter выгрузка каталога отчетов в Excel
type ExcelCatalogExporter struct {
	logger *logrus.Logger
}

// NewExcelCatalogExporter создает новый экспортер каталога
func NewExcelCatalogExporter(logger *logrus.Logger) *ExcelCatalogExporter {
	return &ExcelCatalogExporter{logger: logger}
}

// Export записывает каталог в w в формате xlsx
func (g *ExcelCatalogExporter) Export(ctx context.Context, reports []models.CachedReport, w io.Writer) error {
	logger := g.logger.WithField("rows", len(reports))
	logger.Info("Выгрузка каталога отчетов в Excel")

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", catalogSheet); err != nil {
		return fmt.Errorf("ошибка создания листа: %w", err)
	}

	// Стиль для заголовков
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
			Size: 12,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6E6FA"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		logger.WithError(err).Warn("Ошибка создания стиля заголовка")
	}

	headers := []string{"Режим", "Период", "Ключ", "Страниц", "Размер, байт", "Загрузок", "Последняя загрузка", "Статус"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(catalogSheet, cell, header)
		if headerStyle != 0 {
			f.SetCellStyle(catalogSheet, cell, cell, headerStyle)
		}
	}

	for i, r := range reports {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := []interface{}{
			r.Mode,
			r.Label,
			r.StorageKey,
			r.Pages,
			r.Size,
			r.FetchCount,
			r.LastFetchedAt.Format("2006-01-02 15:04:05"),
			r.Status,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(catalogSheet, cell, &row); err != nil {
			return fmt.Errorf("ошибка записи строки %d: %w", i+2, err)
		}
	}

	f.SetColWidth(catalogSheet, "A", "B", 12)
	f.SetColWidth(catalogSheet, "C", "C", 40)
	f.SetColWidth(catalogSheet, "D", "H", 20)

	if err := f.Write(w); err != nil {
		logger.WithError(err).Error("Ошибка записи Excel файла")
		return fmt.Errorf("ошибка генерации Excel файла: %w", err)
	}
	return nil
}

// MimeType возвращает MIME тип для Excel файлов
func (g *ExcelCatalogExporter) MimeType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// FileExtension возвращает расширение файла для Excel
func (g *ExcelCatalogExporter) FileExtension() string {
	return "xlsx"
}
