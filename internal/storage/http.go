package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"attendance_srv/internal/report"

	"github.com/sirupsen/logrus"
)

// HTTPConfig конфигурация REST-бэкенда отчётов
type HTTPConfig struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
}

// HTTPStorage получает отчёты из REST API:
//
//	GET {base}/daily_report/{YYYY-MM-DD}
//	GET {base}/weekly_report/{year}/{week}
//
// Заголовки авторизации не передаются.
type HTTPStorage struct {
	client  *http.Client
	baseURL *url.URL
	logger  *logrus.Logger
}

// NewHTTPStorage создает REST-бэкенд
func NewHTTPStorage(cfg HTTPConfig, logger *logrus.Logger) (*HTTPStorage, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("базовый URL не может быть пустым")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("неверный базовый URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultOperationTimeout
	}

	return &HTTPStorage{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: base,
		logger:  logger,
	}, nil
}

// endpoint переводит ключ отчёта в путь REST API
func (h *HTTPStorage) endpoint(key string) (string, error) {
	req, err := report.ParseKey(key)
	if err != nil {
		return "", err
	}

	var path string
	switch req.Mode {
	case report.Weekly:
		year, week := report.ISOWeek(req.Date)
		path = "/weekly_report/" + strconv.Itoa(year) + "/" + strconv.Itoa(week)
	default:
		path = "/daily_report/" + req.Date.Format(report.DateLayout)
	}
	return h.baseURL.String() + path, nil
}

func (h *HTTPStorage) do(ctx context.Context, method, key string) (*http.Response, error) {
	target, err := h.endpoint(key)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Accept", "application/pdf")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса %s: %w", target, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("неуспешный ответ %s: %s", target, resp.Status)
	}
	return resp, nil
}

// Download выполняет GET и пишет тело ответа в w
func (h *HTTPStorage) Download(ctx context.Context, key string, w io.Writer) (int64, error) {
	resp, err := h.do(ctx, http.MethodGet, key)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("ошибка чтения тела ответа: %w", err)
	}
	return n, nil
}

// Exists выполняет HEAD-запрос
func (h *HTTPStorage) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := h.do(ctx, http.MethodHead, key)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	resp.Body.Close()
	return true, nil
}

// GetPresignedURL не поддерживается REST API
func (h *HTTPStorage) GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	return "", ErrUnsupported
}

// List не поддерживается REST API
func (h *HTTPStorage) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	return nil, ErrUnsupported
}

// ValidateKey проверяет, что ключ можно перевести в путь API
func (h *HTTPStorage) ValidateKey(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	_, err := report.ParseKey(key)
	return err
}
