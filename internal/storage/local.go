package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LocalStorage каталог на диске, устроенный как бакет: ключ это относительный путь
type LocalStorage struct {
	basePath string
	logger   *logrus.Logger
}

// NewLocalStorage создает новое локальное хранилище
func NewLocalStorage(basePath string, logger *logrus.Logger) (*LocalStorage, error) {
	if basePath == "" {
		return nil, fmt.Errorf("базовый путь не может быть пустым")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("ошибка определения базового пути: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("ошибка создания базовой директории: %w", err)
	}

	return &LocalStorage{
		basePath: abs,
		logger:   logger,
	}, nil
}

// Download копирует файл в w
func (l *LocalStorage) Download(ctx context.Context, key string, w io.Writer) (int64, error) {
	file, err := os.Open(l.getFullPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return 0, fmt.Errorf("ошибка открытия файла: %w", err)
	}
	defer file.Close()

	n, err := io.Copy(w, file)
	if err != nil {
		return n, fmt.Errorf("ошибка чтения файла: %w", err)
	}
	return n, nil
}

// Exists проверяет существование файла
func (l *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	info, err := os.Stat(l.getFullPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки существования файла: %w", err)
	}
	return !info.IsDir(), nil
}

// GetPresignedURL для локального хранилища возвращает file:// URL
func (l *LocalStorage) GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	ok, err := l.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	return "file://" + filepath.ToSlash(l.getFullPath(key)), nil
}

// List возвращает список файлов, ключи которых начинаются с prefix
func (l *LocalStorage) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	var files []FileInfo
	err := filepath.WalkDir(l.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(relPath)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, FileInfo{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	return files, nil
}

// ValidateKey валидирует ключ файла
func (l *LocalStorage) ValidateKey(key string) error {
	return validateKey(key)
}

func (l *LocalStorage) getFullPath(key string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(key))
}

// validateKey общие правила для ключей всех бэкендов
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("ключ файла не может быть пустым")
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("ключ файла слишком длинный: %d символов (максимум %d)", len(key), MaxKeyLength)
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("ключ файла не может начинаться с '/'")
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("ключ файла не может содержать '..'")
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}
