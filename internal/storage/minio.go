package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// MinIOConfig конфигурация MinIO хранилища
type MinIOConfig struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	UseSSL    bool   `json:"use_ssl"`
}

// MinIOStorage реализация хранилища поверх minio-go
type MinIOStorage struct {
	client *minio.Client
	bucket string
	logger *logrus.Logger
}

// NewMinIOStorage создает клиента MinIO. Пустые ключи означают анонимный доступ.
func NewMinIOStorage(cfg MinIOConfig, logger *logrus.Logger) (*MinIOStorage, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint MinIO не может быть пустым")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket MinIO не может быть пустым")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента MinIO: %w", err)
	}

	return &MinIOStorage{
		client: client,
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

// Download получает объект из MinIO и пишет его в w
func (m *MinIOStorage) Download(ctx context.Context, key string, w io.Writer) (int64, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return 0, m.mapError(key, err)
	}
	defer obj.Close()

	// GetObject ленивый: ошибки отсутствия объекта приходят только при Stat/Read
	if _, err := obj.Stat(); err != nil {
		return 0, m.mapError(key, err)
	}

	n, err := io.Copy(w, obj)
	if err != nil {
		return n, fmt.Errorf("ошибка чтения файла из MinIO: %w", err)
	}
	return n, nil
}

// Exists проверяет существование объекта
func (m *MinIOStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки существования файла: %w", err)
	}
	return true, nil
}

// GetPresignedURL возвращает временную ссылку на существующий объект
func (m *MinIOStorage) GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	if _, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err != nil {
		return "", m.mapError(key, err)
	}

	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiration, nil)
	if err != nil {
		return "", fmt.Errorf("ошибка генерации pre-signed URL: %w", err)
	}
	return u.String(), nil
}

// List возвращает список объектов по префиксу
func (m *MinIOStorage) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	var files []FileInfo
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("ошибка получения списка файлов: %w", obj.Err)
		}
		files = append(files, FileInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	return files, nil
}

// ValidateKey валидирует ключ объекта
func (m *MinIOStorage) ValidateKey(key string) error {
	return validateKey(key)
}

func (m *MinIOStorage) mapError(key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey":
		return fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	default:
		return fmt.Errorf("ошибка операции MinIO: %w", err)
	}
}
