package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// S3Config конфигурация S3 хранилища
type S3Config struct {
	Region         string `json:"region"`
	Bucket         string `json:"bucket"`
	Endpoint       string `json:"endpoint,omitempty"`
	AccessKey      string `json:"access_key"`
	SecretKey      string `json:"secret_key"`
	ForcePathStyle bool   `json:"force_path_style"`
	// Anonymous отключает подпись запросов (публичный бакет)
	Anonymous bool `json:"anonymous"`
}

// S3Storage реализация хранилища для AWS S3 и совместимых сервисов
type S3Storage struct {
	client      *s3.Client
	presign     *s3.PresignClient
	credentials aws.CredentialsProvider
	bucket      string
	anonymous   bool
	logger      *logrus.Logger
}

// NewS3Storage создает новое S3 хранилище
func NewS3Storage(cfg S3Config, logger *logrus.Logger) (*S3Storage, error) {
	if err := validateS3Config(cfg); err != nil {
		return nil, fmt.Errorf("неверная конфигурация S3: %w", err)
	}

	opts := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки AWS конфигурации: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.Anonymous {
			o.Credentials = aws.AnonymousCredentials{}
		}
	})

	return &S3Storage{
		client:      client,
		presign:     s3.NewPresignClient(client),
		credentials: awsCfg.Credentials,
		bucket:      cfg.Bucket,
		anonymous:   cfg.Anonymous,
		logger:      logger,
	}, nil
}

// SignIn разрешает цепочку учётных данных AWS. Для анонимного доступа ничего не делает.
func (s *S3Storage) SignIn(ctx context.Context) error {
	if s.anonymous {
		return nil
	}
	if s.credentials == nil {
		return fmt.Errorf("учётные данные AWS не настроены")
	}
	if _, err := s.credentials.Retrieve(ctx); err != nil {
		return fmt.Errorf("ошибка получения учётных данных AWS: %w", err)
	}
	return nil
}

// Download получает объект из S3 и пишет его в w
func (s *S3Storage) Download(ctx context.Context, key string, w io.Writer) (int64, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return 0, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return 0, fmt.Errorf("ошибка получения файла из S3: %w", err)
	}
	defer result.Body.Close()

	n, err := io.Copy(w, result.Body)
	if err != nil {
		return n, fmt.Errorf("ошибка чтения файла из S3: %w", err)
	}
	return n, nil
}

// Exists проверяет существование файла в S3
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки существования файла: %w", err)
	}
	return true, nil
}

// GetPresignedURL возвращает pre-signed URL. Перед подписью проверяет, что объект существует.
func (s *S3Storage) GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	ok, err := s.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}

	presignedURL, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiration
	})
	if err != nil {
		return "", fmt.Errorf("ошибка генерации pre-signed URL: %w", err)
	}
	return presignedURL.URL, nil
}

// List возвращает список файлов по префиксу
func (s *S3Storage) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	var files []FileInfo

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
		}
		for _, obj := range page.Contents {
			files = append(files, FileInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	return files, nil
}

// ValidateKey валидирует ключ файла
func (s *S3Storage) ValidateKey(key string) error {
	return validateKey(key)
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// validateS3Config валидирует конфигурацию S3
func validateS3Config(cfg S3Config) error {
	if cfg.Region == "" {
		return fmt.Errorf("регион S3 не может быть пустым")
	}
	if cfg.Bucket == "" {
		return fmt.Errorf("bucket S3 не может быть пустым")
	}
	if cfg.AccessKey != "" && cfg.SecretKey == "" {
		return fmt.Errorf("secret key не может быть пустым при заданном access key")
	}
	return nil
}
