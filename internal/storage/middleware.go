package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Wrapper реализуют middleware, чтобы можно было добраться до исходного бэкенда
type Wrapper interface {
	Unwrap() ObjectStore
}

// Signer бэкенд, которому нужен вход до обращения к объектам
type Signer interface {
	SignIn(ctx context.Context) error
}

// SignerOf возвращает Signer из цепочки middleware, если бэкенд его реализует
func SignerOf(store ObjectStore) (Signer, bool) {
	for store != nil {
		if s, ok := store.(Signer); ok {
			return s, true
		}
		w, ok := store.(Wrapper)
		if !ok {
			return nil, false
		}
		store = w.Unwrap()
	}
	return nil, false
}

// LoggingMiddleware добавляет логирование к операциям хранилища
type LoggingMiddleware struct {
	storage ObjectStore
	logger  *logrus.Logger
}

// NewLoggingMiddleware создает новый logging middleware
func NewLoggingMiddleware(storage ObjectStore, logger *logrus.Logger) ObjectStore {
	return &LoggingMiddleware{
		storage: storage,
		logger:  logger,
	}
}

func (m *LoggingMiddleware) Unwrap() ObjectStore { return m.storage }

// Download логирует загрузку объекта
func (m *LoggingMiddleware) Download(ctx context.Context, key string, w io.Writer) (int64, error) {
	start := time.Now()
	logger := m.logger.WithFields(logrus.Fields{
		"operation": "download",
		"key":       key,
	})

	logger.Debug("Начало загрузки файла")

	n, err := m.storage.Download(ctx, key, w)

	duration := time.Since(start)
	if err != nil {
		if isNotFound(err) {
			logger.WithField("duration", duration).Warn("Файл не найден в хранилище")
		} else {
			logger.WithError(err).WithField("duration", duration).Error("Ошибка загрузки файла")
		}
	} else {
		logger.WithFields(logrus.Fields{
			"duration": duration,
			"bytes":    n,
		}).Info("Файл загружен успешно")
	}

	return n, err
}

// GetPresignedURL логирует выдачу временной ссылки
func (m *LoggingMiddleware) GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	url, err := m.storage.GetPresignedURL(ctx, key, expiration)
	if err != nil {
		m.logger.WithError(err).WithField("key", key).Warn("Не удалось получить временную ссылку")
	}
	return url, err
}

// Остальные методы просто делегируют вызовы
func (m *LoggingMiddleware) Exists(ctx context.Context, key string) (bool, error) {
	return m.storage.Exists(ctx, key)
}

func (m *LoggingMiddleware) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	return m.storage.List(ctx, prefix)
}

func (m *LoggingMiddleware) ValidateKey(key string) error {
	return m.storage.ValidateKey(key)
}

// RetryMiddleware добавляет retry логику к операциям хранилища
type RetryMiddleware struct {
	storage    ObjectStore
	maxRetries int
	retryDelay time.Duration
	logger     *logrus.Logger
}

// NewRetryMiddleware создает новый retry middleware
func NewRetryMiddleware(storage ObjectStore, maxRetries int, retryDelay time.Duration, logger *logrus.Logger) ObjectStore {
	return &RetryMiddleware{
		storage:    storage,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

func (m *RetryMiddleware) Unwrap() ObjectStore { return m.storage }

// Download повторяет загрузку, только если в w ещё ничего не записано
func (m *RetryMiddleware) Download(ctx context.Context, key string, w io.Writer) (int64, error) {
	var n int64
	err := m.retryOperation(ctx, "download", func() error {
		var err error
		n, err = m.storage.Download(ctx, key, w)
		if err != nil && n > 0 {
			return permanent{err}
		}
		return err
	})
	return n, err
}

// Exists выполняет проверку с retry
func (m *RetryMiddleware) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := m.retryOperation(ctx, "exists", func() error {
		var err error
		ok, err = m.storage.Exists(ctx, key)
		return err
	})
	return ok, err
}

// retryOperation выполняет операцию с retry логикой
func (m *RetryMiddleware) retryOperation(ctx context.Context, operation string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if p, ok := lastErr.(permanent); ok {
			return p.err
		}
		if !m.shouldRetry(lastErr) {
			break
		}

		if attempt < m.maxRetries {
			if m.logger != nil {
				m.logger.WithFields(logrus.Fields{
					"operation":   operation,
					"attempt":     attempt + 1,
					"max_retries": m.maxRetries,
				}).WithError(lastErr).Warn("Повтор операции после ошибки")
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.retryDelay):
			}
		}
	}

	return lastErr
}

// shouldRetry отсутствие объекта и отмену контекста не повторяем
func (m *RetryMiddleware) shouldRetry(err error) bool {
	if isNotFound(err) || errors.Is(err, ErrUnsupported) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// permanent ошибка, после которой повтор невозможен
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }

func (m *RetryMiddleware) GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	return m.storage.GetPresignedURL(ctx, key, expiration)
}

func (m *RetryMiddleware) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	return m.storage.List(ctx, prefix)
}

func (m *RetryMiddleware) ValidateKey(key string) error {
	return m.storage.ValidateKey(key)
}

// ValidationMiddleware добавляет валидацию к операциям хранилища
type ValidationMiddleware struct {
	storage ObjectStore
}

// NewValidationMiddleware создает новый validation middleware
func NewValidationMiddleware(storage ObjectStore) ObjectStore {
	return &ValidationMiddleware{storage: storage}
}

func (m *ValidationMiddleware) Unwrap() ObjectStore { return m.storage }

func (m *ValidationMiddleware) Download(ctx context.Context, key string, w io.Writer) (int64, error) {
	if err := m.storage.ValidateKey(key); err != nil {
		return 0, err
	}
	return m.storage.Download(ctx, key, w)
}

func (m *ValidationMiddleware) Exists(ctx context.Context, key string) (bool, error) {
	if err := m.storage.ValidateKey(key); err != nil {
		return false, err
	}
	return m.storage.Exists(ctx, key)
}

func (m *ValidationMiddleware) GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	if err := m.storage.ValidateKey(key); err != nil {
		return "", err
	}
	return m.storage.GetPresignedURL(ctx, key, expiration)
}

func (m *ValidationMiddleware) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	return m.storage.List(ctx, prefix)
}

func (m *ValidationMiddleware) ValidateKey(key string) error {
	return m.storage.ValidateKey(key)
}
