package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Server содержит настройки HTTP-сервера.
type Server struct {
	Address string `mapstructure:"address"`
	Debug   bool   `mapstructure:"debug"`
}

// DB содержит параметры подключения к БД каталога отчётов.
type DB struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Storage описывает удалённое хранилище отчётов.
type Storage struct {
	Type              string        `mapstructure:"type"`
	BasePath          string        `mapstructure:"basepath"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	PresignExpiration time.Duration `mapstructure:"presign_expiration"`
	S3                S3            `mapstructure:"s3"`
	MinIO             MinIO         `mapstructure:"minio"`
	HTTP              HTTP          `mapstructure:"http"`
}

// S3 содержит настройки для S3-совместимого хранилища.
type S3 struct {
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Anonymous bool   `mapstructure:"anonymous"`
}

// MinIO содержит настройки MinIO.
type MinIO struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// HTTP содержит настройки REST API с отчётами.
type HTTP struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Cache содержит настройки локального кэша PDF.
type Cache struct {
	Dir string `mapstructure:"dir"`
	// MaxAge 0 означает, что записи кэша не устаревают
	MaxAge       time.Duration `mapstructure:"max_age"`
	SweepOnStart bool          `mapstructure:"sweep_on_start"`
}

// Downloads содержит каталог для явного сохранения отчётов пользователем.
type Downloads struct {
	Dir string `mapstructure:"dir"`
}

// Logging содержит настройки логирования.
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Metrics содержит настройки prometheus.
type Metrics struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Config объединяет все разделы конфигурации.
type Config struct {
	Server    Server    `mapstructure:"server"`
	DB        DB        `mapstructure:"database"`
	Storage   Storage   `mapstructure:"storage"`
	Cache     Cache     `mapstructure:"cache"`
	Downloads Downloads `mapstructure:"downloads"`
	Logging   Logging   `mapstructure:"logging"`
	Metrics   Metrics   `mapstructure:"metrics"`
}

// Load читает конфигурацию из файла config.yaml и окружения.
func Load() (Config, error) {
	return LoadFile("")
}

// LoadFile читает конфигурацию из указанного файла; пустой путь означает поиск по умолчанию.
func LoadFile(path string) (Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/attendance-reports")
	}

	// Настройка для environment variables
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	bindEnvironmentVariables(v)

	// Чтение файла конфигурации (опционально, если путь не задан явно)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// setDefaults устанавливает значения по умолчанию
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.debug", false)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/reports.db")

	// Storage defaults
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.basepath", "./bucket")
	v.SetDefault("storage.max_retries", 0)
	v.SetDefault("storage.retry_delay", time.Second)
	v.SetDefault("storage.presign_expiration", time.Hour)
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.bucket", "attendance-reports")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.anonymous", false)
	v.SetDefault("storage.minio.endpoint", "localhost:9000")
	v.SetDefault("storage.minio.bucket", "attendance-reports")
	v.SetDefault("storage.minio.use_ssl", false)
	v.SetDefault("storage.http.base_url", "http://localhost:5000")
	v.SetDefault("storage.http.timeout", 30*time.Second)

	// Cache defaults
	v.SetDefault("cache.dir", "./cache/pdf_cache")
	v.SetDefault("cache.max_age", 0)
	v.SetDefault("cache.sweep_on_start", true)

	v.SetDefault("downloads.dir", "./downloads")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "attendance_reports")
}

// bindEnvironmentVariables привязывает переменные окружения к конфигурации
func bindEnvironmentVariables(v *viper.Viper) {
	for _, key := range []string{
		"server.address", "server.debug",
		"database.driver", "database.dsn",
		"storage.type", "storage.basepath", "storage.max_retries", "storage.retry_delay", "storage.presign_expiration",
		"storage.s3.region", "storage.s3.bucket", "storage.s3.endpoint",
		"storage.s3.access_key", "storage.s3.secret_key", "storage.s3.anonymous",
		"storage.minio.endpoint", "storage.minio.bucket", "storage.minio.region",
		"storage.minio.access_key", "storage.minio.secret_key", "storage.minio.use_ssl",
		"storage.http.base_url", "storage.http.timeout",
		"cache.dir", "cache.max_age", "cache.sweep_on_start",
		"downloads.dir",
		"logging.level", "logging.format",
		"metrics.enabled", "metrics.namespace",
	} {
		// APP_STORAGE_S3_BUCKET и т.п.
		_ = v.BindEnv(key, "APP_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
}

// validateConfig проверяет корректность конфигурации
func validateConfig(cfg Config) error {
	if cfg.Server.Address == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	if cfg.DB.Driver != "postgres" && cfg.DB.Driver != "sqlite" {
		return fmt.Errorf("database driver must be 'postgres' or 'sqlite', got: %s", cfg.DB.Driver)
	}
	if cfg.DB.DSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}

	switch cfg.Storage.Type {
	case "local":
		if cfg.Storage.BasePath == "" {
			return fmt.Errorf("storage basepath cannot be empty for local storage")
		}
	case "s3":
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("S3 region cannot be empty")
		}
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
	case "minio":
		if cfg.Storage.MinIO.Endpoint == "" || cfg.Storage.MinIO.Bucket == "" {
			return fmt.Errorf("MinIO endpoint and bucket cannot be empty")
		}
	case "http":
		if cfg.Storage.HTTP.BaseURL == "" {
			return fmt.Errorf("HTTP base_url cannot be empty")
		}
	default:
		return fmt.Errorf("storage type must be one of local, s3, minio, http, got: %s", cfg.Storage.Type)
	}

	if cfg.Storage.MaxRetries < 0 {
		return fmt.Errorf("storage max_retries cannot be negative")
	}
	if cfg.Storage.PresignExpiration <= 0 {
		return fmt.Errorf("storage presign_expiration must be positive")
	}

	if cfg.Cache.Dir == "" {
		return fmt.Errorf("cache dir cannot be empty")
	}
	if cfg.Cache.MaxAge < 0 {
		return fmt.Errorf("cache max_age cannot be negative")
	}
	if cfg.Downloads.Dir == "" {
		return fmt.Errorf("downloads dir cannot be empty")
	}

	// Проверка уровня логирования
	validLogLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	isValidLevel := false
	for _, level := range validLogLevels {
		if strings.ToLower(cfg.Logging.Level) == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("invalid logging level: %s. Valid levels: %v", cfg.Logging.Level, validLogLevels)
	}

	return nil
}

// IsDevelopment возвращает true, если приложение запущено в режиме разработки
func (c Config) IsDevelopment() bool {
	return c.Server.Debug
}

// String возвращает строковое представление конфигурации (без чувствительных данных)
func (c Config) String() string {
	storage := c.Storage
	if storage.S3.SecretKey != "" {
		storage.S3.SecretKey = "[HIDDEN]"
	}
	if storage.MinIO.SecretKey != "" {
		storage.MinIO.SecretKey = "[HIDDEN]"
	}
	return fmt.Sprintf("Config{Server: %+v, DB: {Driver: %s, DSN: [HIDDEN]}, Storage: %+v, Cache: %+v, Downloads: %+v, Logging: %+v}",
		c.Server, c.DB.Driver, storage, c.Cache, c.Downloads, c.Logging)
}
