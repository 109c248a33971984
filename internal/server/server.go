package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"attendance_srv/internal/cache"
	"attendance_srv/internal/config"
	"attendance_srv/internal/document"
	"attendance_srv/internal/downloads"
	"attendance_srv/internal/report"
	"attendance_srv/internal/service"
	"attendance_srv/internal/session"
	"attendance_srv/internal/storage"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Response headers describing a served report
const (
	HeaderReportLabel = "X-Report-Label"
	HeaderReportPages = "X-Report-Pages"
	HeaderCache       = "X-Cache"

	HeaderReportPage     = "X-Report-Page"
	HeaderReportPrevPage = "X-Report-Prev-Page"
	HeaderReportNextPage = "X-Report-Next-Page"
)

// HTTPServer is the part of Server the lifecycle hooks need
type HTTPServer interface {
	Start(address string) error
	Shutdown(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	echo     *echo.Echo
	service  service.ReportService
	gatherer prometheus.Gatherer
	logger   *logrus.Logger
}

// NewServer creates a new HTTP server. A nil gatherer disables /metrics.
func NewServer(cfg config.Config, reportService service.ReportService, gatherer prometheus.Gatherer, logger *logrus.Logger) *Server {
	e := echo.New()
	e.Debug = cfg.Server.Debug
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())

	if cfg.Server.Debug {
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Format: "${time_rfc3339} ${method} ${uri} ${status} ${latency_human} ${error}\n",
		}))
	} else {
		e.Use(middleware.Logger())
	}

	server := &Server{
		echo:     e,
		service:  reportService,
		gatherer: gatherer,
		logger:   logger,
	}

	server.setupRoutes()
	return server
}

// Start starts the HTTP server
func (s *Server) Start(address string) error {
	s.logger.WithField("address", address).Info("Starting HTTP server")
	err := s.echo.Start(address)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// setupRoutes configures the server routes
func (s *Server) setupRoutes() {
	// Health check
	s.echo.GET("/health", s.healthCheck)
	if s.gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	// REST variant of the report store
	methods := []string{http.MethodGet, http.MethodHead}
	s.echo.Match(methods, "/daily_report/:date", s.dailyReport)
	s.echo.Match(methods, "/weekly_report/:year/:week", s.weeklyReport)

	// API routes
	api := s.echo.Group("/api/v1")
	{
		reports := api.Group("/reports")
		{
			reports.GET("", s.listReports)
			reports.GET("/export", s.exportReports)
			reports.GET("/available", s.availableReports)
			reports.Match(methods, "/:mode/:date", s.getReport)
			reports.GET("/:mode/:date/meta", s.getReportMeta)
			reports.GET("/:mode/:date/url", s.getReportURL)
			reports.POST("/:mode/:date/save", s.saveReport)
			reports.DELETE("/:mode/:date", s.invalidateReport)
		}
	}
}

// healthCheck handles health check requests
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "attendance-reports",
	})
}

// dailyReport serves GET /daily_report/{date}
func (s *Server) dailyReport(c echo.Context) error {
	date, err := report.ParseDate(c.Param("date"))
	if err != nil {
		return badRequest(c, err)
	}
	return s.serveReport(c, report.NewRequest(report.Daily, date))
}

// weeklyReport serves GET /weekly_report/{year}/{week}
func (s *Server) weeklyReport(c echo.Context) error {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		return badRequest(c, errors.New("invalid year"))
	}
	week, err := strconv.Atoi(c.Param("week"))
	if err != nil {
		return badRequest(c, errors.New("invalid week"))
	}
	monday, err := report.WeekStart(year, week)
	if err != nil {
		return badRequest(c, err)
	}
	return s.serveReport(c, report.NewRequest(report.Weekly, monday))
}

// getReport fetches a report and streams the PDF
func (s *Server) getReport(c echo.Context) error {
	req, err := requestFromPath(c)
	if err != nil {
		return badRequest(c, err)
	}
	return s.serveReport(c, req)
}

func (s *Server) serveReport(c echo.Context, req report.Request) error {
	result, err := s.service.Fetch(c.Request().Context(), req)
	if err != nil {
		return s.errorResponse(c, err)
	}

	h := c.Response().Header()
	h.Set(HeaderReportLabel, result.Label)
	h.Set(HeaderReportPages, strconv.Itoa(result.Pages))
	if result.Cached {
		h.Set(HeaderCache, "HIT")
	} else {
		h.Set(HeaderCache, "MISS")
	}
	return c.Inline(result.Path, downloads.DefaultName(result.Label))
}

// getReportMeta returns the fetch result without the document body
func (s *Server) getReportMeta(c echo.Context) error {
	req, err := requestFromPath(c)
	if err != nil {
		return badRequest(c, err)
	}

	result, err := s.service.Fetch(c.Request().Context(), req)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// getReportPage streams page :n (1-based) as a single-page PDF. A page
// outside the document serves the first page instead of an error.
func (s *Server) getReportPage(c echo.Context) error {
	req, err := requestFromPath(c)
	if err != nil {
		return badRequest(c, err)
	}
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		return badRequest(c, errors.New("invalid page number"))
	}

	var buf bytes.Buffer
	page, err := s.service.Page(c.Request().Context(), req, n, &buf)
	if err != nil {
		return s.errorResponse(c, err)
	}

	h := c.Response().Header()
	h.Set(HeaderReportLabel, page.Label)
	h.Set(HeaderReportPages, strconv.Itoa(page.Pages))
	h.Set(HeaderReportPage, strconv.Itoa(page.Page))
	if page.Prev > 0 {
		h.Set(HeaderReportPrevPage, strconv.Itoa(page.Prev))
	}
	if page.Next > 0 {
		h.Set(HeaderReportNextPage, strconv.Itoa(page.Next))
	}
	h.Set(echo.HeaderContentDisposition, `inline; filename="`+downloads.PageName(page.Label, page.Page)+`"`)
	return c.Blob(http.StatusOK, "application/pdf", buf.Bytes())
}

// getCatalogEntry returns the catalog row of a report
func (s *Server) getCatalogEntry(c echo.Context) error {
	req, err := requestFromPath(c)
	if err != nil {
		return badRequest(c, err)
	}

	record, err := s.service.CatalogEntry(c.Request().Context(), req)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, record)
}

// getReportURL returns a temporary direct link to the stored report
func (s *Server) getReportURL(c echo.Context) error {
	req, err := requestFromPath(c)
	if err != nil {
		return badRequest(c, err)
	}

	u, err := s.service.RemoteURL(c.Request().Context(), req)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"key":   req.Key(),
		"label": req.Label(),
		"url":   u,
	})
}

// saveReport copies the report into the downloads directory
func (s *Server) saveReport(c echo.Context) error {
	req, err := requestFromPath(c)
	if err != nil {
		return badRequest(c, err)
	}

	result, err := s.service.Save(c.Request().Context(), req)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// invalidateReport drops the cached copy of a report
func (s *Server) invalidateReport(c echo.Context) error {
	req, err := requestFromPath(c)
	if err != nil {
		return badRequest(c, err)
	}

	removed, err := s.service.Invalidate(c.Request().Context(), req)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"key":     req.Key(),
		"removed": removed,
	})
}

// listReports handles listing the catalog
func (s *Server) listReports(c echo.Context) error {
	params := service.ListReportParams{
		Status: c.QueryParam("status"),
		SortBy: c.QueryParam("sort_by"),
	}
	params.Page, _ = strconv.Atoi(c.QueryParam("page"))
	params.PageSize, _ = strconv.Atoi(c.QueryParam("page_size"))
	params.SortDesc, _ = strconv.ParseBool(c.QueryParam("sort_desc"))

	if m := c.QueryParam("mode"); m != "" {
		mode, err := report.ParseMode(m)
		if err != nil {
			return badRequest(c, err)
		}
		params.Mode = mode.String()
	}

	list, err := s.service.ListReports(c.Request().Context(), params)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list reports")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to list reports",
		})
	}
	return c.JSON(http.StatusOK, list)
}

// exportReports returns the catalog as an xlsx workbook
func (s *Server) exportReports(c echo.Context) error {
	var buf bytes.Buffer
	if err := s.service.ExportReports(c.Request().Context(), &buf); err != nil {
		s.logger.WithError(err).Error("Failed to export reports")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to export reports",
		})
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="reports_catalog.xlsx"`)
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// availableReports lists the reports present in the remote store
func (s *Server) availableReports(c echo.Context) error {
	mode, err := report.ParseMode(c.QueryParam("mode"))
	if err != nil {
		return badRequest(c, err)
	}

	available, err := s.service.Available(c.Request().Context(), mode)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"mode":    mode.String(),
		"reports": available,
		"count":   len(available),
	})
}

// requestFromPath parses :mode and :date. Weekly reports also accept a
// YYYY-Www label in place of a date.
func requestFromPath(c echo.Context) (report.Request, error) {
	mode, err := report.ParseMode(c.Param("mode"))
	if err != nil {
		return report.Request{}, err
	}
	return report.ParseRequest(mode, c.Param("date"))
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, map[string]string{
		"error": err.Error(),
	})
}

// errorResponse maps report errors to HTTP statuses
func (s *Server) errorResponse(c echo.Context, err error) error {
	status, kind, message := classify(err)

	entry := s.logger.WithError(err).WithFields(logrus.Fields{
		"kind":   kind,
		"status": status,
		"uri":    c.Request().RequestURI,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Report request failed")
	} else {
		entry.Warn("Report request rejected")
	}

	return c.JSON(status, map[string]string{
		"error": message,
		"kind":  kind,
	})
}

func classify(err error) (status int, kind, message string) {
	var (
		authErr      *session.AuthError
		retrievalErr *cache.RetrievalError
		renderErr    *document.RenderError
		saveErr      *downloads.SaveError
	)

	switch {
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, "auth", "Sign-in to report storage failed"
	case errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound, "retrieval", "Report not found"
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, "catalog", "Report is not in the catalog"
	case errors.Is(err, storage.ErrUnsupported):
		return http.StatusNotImplemented, "retrieval", "Not supported by the report storage"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "retrieval", "Report storage timed out"
	case errors.As(err, &retrievalErr):
		return http.StatusBadGateway, "retrieval", "Failed to retrieve report"
	case errors.As(err, &renderErr):
		return http.StatusUnprocessableEntity, "render", "Report is not a valid document"
	case errors.As(err, &saveErr):
		return http.StatusInternalServerError, "save", "Failed to save report"
	default:
		return http.StatusInternalServerError, "internal", "Internal error"
	}
}
