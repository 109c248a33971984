package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"attendance_srv/internal/config"

	"github.com/sirupsen/logrus"
)

const (
	// Типы хранилищ
	StorageTypeLocal = "local"
	StorageTypeS3    = "s3"
	StorageTypeMinIO = "minio"
	StorageTypeHTTP  = "http"

	// Таймауты по умолчанию
	DefaultDownloadTimeout  = 10 * time.Minute
	DefaultOperationTimeout = 30 * time.Second

	// Максимальная длина ключа объекта
	MaxKeyLength = 1024
)

var (
	// ErrObjectNotFound возвращается, когда объекта с ключом нет в хранилище.
	ErrObjectNotFound = errors.New("object not found")

	// ErrUnsupported возвращается операциями, которые бэкенд не поддерживает.
	ErrUnsupported = errors.New("operation not supported by storage backend")
)

// ObjectStore удалённое хранилище отчётов, адресуемое иерархическим ключом
type ObjectStore interface {
	// Download записывает содержимое объекта в w и возвращает число байт
	Download(ctx context.Context, key string, w io.Writer) (int64, error)

	// GetPresignedURL возвращает временную прямую ссылку на объект
	GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error)

	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]FileInfo, error)
	ValidateKey(key string) error
}

// FileInfo информация об объекте
type FileInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// StorageBuilder строитель хранилища из конфигурации
type StorageBuilder struct {
	config config.Config
	logger *logrus.Logger
}

// NewStorageBuilder создает новый строитель хранилища
func NewStorageBuilder(cfg config.Config, logger *logrus.Logger) *StorageBuilder {
	return &StorageBuilder{
		config: cfg,
		logger: logger,
	}
}

// Build создает хранилище на основе конфигурации
func (b *StorageBuilder) Build() (ObjectStore, error) {
	var (
		store ObjectStore
		err   error
	)

	switch b.config.Storage.Type {
	case StorageTypeS3:
		store, err = NewS3Storage(b.buildS3Config(), b.logger)
	case StorageTypeMinIO:
		store, err = NewMinIOStorage(b.buildMinIOConfig(), b.logger)
	case StorageTypeHTTP:
		store, err = NewHTTPStorage(b.buildHTTPConfig(), b.logger)
	case StorageTypeLocal:
		store, err = NewLocalStorage(b.config.Storage.BasePath, b.logger)
	default:
		return nil, fmt.Errorf("неподдерживаемый тип хранилища: %s", b.config.Storage.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка создания хранилища %s: %w", b.config.Storage.Type, err)
	}

	return b.wrapWithMiddleware(store), nil
}

func (b *StorageBuilder) buildS3Config() S3Config {
	s := b.config.Storage.S3
	return S3Config{
		Region:         s.Region,
		Bucket:         s.Bucket,
		Endpoint:       s.Endpoint,
		AccessKey:      s.AccessKey,
		SecretKey:      s.SecretKey,
		ForcePathStyle: s.Endpoint != "",
		Anonymous:      s.Anonymous,
	}
}

func (b *StorageBuilder) buildMinIOConfig() MinIOConfig {
	m := b.config.Storage.MinIO
	return MinIOConfig{
		Endpoint:  m.Endpoint,
		Bucket:    m.Bucket,
		Region:    m.Region,
		AccessKey: m.AccessKey,
		SecretKey: m.SecretKey,
		UseSSL:    m.UseSSL,
	}
}

func (b *StorageBuilder) buildHTTPConfig() HTTPConfig {
	return HTTPConfig{
		BaseURL: b.config.Storage.HTTP.BaseURL,
		Timeout: b.config.Storage.HTTP.Timeout,
	}
}

// wrapWithMiddleware оборачивает хранилище в middleware
func (b *StorageBuilder) wrapWithMiddleware(store ObjectStore) ObjectStore {
	if b.logger != nil {
		store = NewLoggingMiddleware(store, b.logger)
	}

	// По умолчанию повторов нет: один запрос к хранилищу на одну загрузку
	if b.config.Storage.MaxRetries > 0 {
		store = NewRetryMiddleware(store, b.config.Storage.MaxRetries, b.config.Storage.RetryDelay, b.logger)
	}

	return NewValidationMiddleware(store)
}

// NewStorageFromConfig создает хранилище из конфигурации
func NewStorageFromConfig(cfg config.Config, logger *logrus.Logger) (ObjectStore, error) {
	return NewStorageBuilder(cfg, logger).Build()
}
