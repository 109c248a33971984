// Package cache implements a cache-aside fetcher for report documents: a
// remote object is downloaded once into a flat cache directory and served
// from there afterwards.
package cache

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

	"attendance_srv/internal/metrics"
	"attendance_srv/internal/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	tempSuffix = ".tmp"

	// DefaultURLExpiration is the lifetime of links returned by RemoteURL.
	DefaultURLExpiration = time.Hour
)

// ErrEmptyObject is returned when the remote object has no content.
var ErrEmptyObject = errors.New("remote object is empty")

// Remote is the object store the fetcher reads from.
type Remote interface {
	Download(ctx context.Context, key string, w io.Writer) (int64, error)
	GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error)
}

// RetrievalError reports that an object could not be fetched: it does not
// exist remotely or the transfer failed.
type RetrievalError struct {
	Key string
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieve %s: %v", e.Key, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Entry describes a file in the cache.
type Entry struct {
	Key  string
	Path string
	Size int64
	// Hit is true when no remote transfer was needed.
	Hit bool
}

// Options configure a Fetcher.
type Options struct {
	Dir string
	// MaxAge makes older entries count as misses. Zero keeps entries forever.
	MaxAge        time.Duration
	URLExpiration time.Duration
	// DownloadTimeout bounds a shared transfer. Defaults to
	// storage.DefaultDownloadTimeout.
	DownloadTimeout time.Duration
	Logger          *logrus.Logger
	Metrics         *metrics.Metrics
}

// Fetcher owns the cache directory. Concurrent fetches of one key share a
// single transfer.
type Fetcher struct {
	dir             string
	remote          Remote
	maxAge          time.Duration
	urlExpiration   time.Duration
	downloadTimeout time.Duration
	logger          *logrus.Entry
	metrics         *metrics.Metrics
	group           singleflight.Group
	now             func() time.Time
}

// New creates the cache directory if needed.
func New(remote Remote, opts Options) (*Fetcher, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("cache dir cannot be empty")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if opts.URLExpiration <= 0 {
		opts.URLExpiration = DefaultURLExpiration
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = storage.DefaultDownloadTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Fetcher{
		dir:             opts.Dir,
		remote:          remote,
		maxAge:          opts.MaxAge,
		urlExpiration:   opts.URLExpiration,
		downloadTimeout: opts.DownloadTimeout,
		logger:          logger.WithField("component", "cache"),
		metrics:         opts.Metrics,
		now:             time.Now,
	}, nil
}

// Dir returns the cache directory.
func (f *Fetcher) Dir() string { return f.dir }

// Path returns the cache location of key. Path separators are flattened so
// every entry lives directly in the cache directory.
func (f *Fetcher) Path(key string) string {
	name := strings.NewReplacer("/", "_", `\`, "_").Replace(key)
	return filepath.Join(f.dir, name)
}

// Fetch returns the local path of key, downloading it on a cache miss.
func (f *Fetcher) Fetch(ctx context.Context, key string) (string, error) {
	entry, err := f.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return entry.Path, nil
}

// Get is Fetch with details about the entry.
func (f *Fetcher) Get(ctx context.Context, key string) (Entry, error) {
	path := f.Path(key)
	if entry, ok := f.lookup(key, path); ok {
		f.metrics.CacheHit()
		f.logger.WithFields(logrus.Fields{"key": key, "cache": "hit"}).Debug("serving cached report")
		return entry, nil
	}

	// The transfer is shared, so it must outlive any single caller. Each
	// caller still stops waiting when its own ctx is done.
	ch := f.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.downloadTimeout)
		defer cancel()
		return f.load(loadCtx, key, path)
	})

	select {
	case <-ctx.Done():
		return Entry{}, &RetrievalError{Key: key, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, res.Err
		}
		return res.Val.(Entry), nil
	}
}

// lookup reports a usable cache entry: a regular, non-empty file that has
// not outlived MaxAge.
func (f *Fetcher) lookup(key, path string) (Entry, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return Entry{}, false
	}
	if f.maxAge > 0 && f.now().Sub(info.ModTime()) >= f.maxAge {
		return Entry{}, false
	}
	return Entry{Key: key, Path: path, Size: info.Size(), Hit: true}, true
}

func (f *Fetcher) load(ctx context.Context, key, path string) (Entry, error) {
	// Another flight may have completed between lookup and DoChan.
	if entry, ok := f.lookup(key, path); ok {
		f.metrics.CacheHit()
		return entry, nil
	}

	f.metrics.CacheMiss()
	logger := f.logger.WithFields(logrus.Fields{"key": key, "cache": "miss"})
	logger.Debug("downloading report")

	n, err := f.download(ctx, key, path)
	if err != nil {
		// No entry may remain at the canonical path after a failed miss.
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			logger.WithError(rmErr).Warn("failed to remove stale cache entry")
		}
		f.metrics.Failure("retrieval")
		return Entry{}, &RetrievalError{Key: key, Err: err}
	}

	f.metrics.Downloaded(n)
	logger.WithFields(logrus.Fields{"path": path, "bytes": n}).Info("report cached")
	return Entry{Key: key, Path: path, Size: n}, nil
}

// download writes the object to a uniquely named sibling of path and
// renames it into place. The temporary file is removed on every failure.
func (f *Fetcher) download(ctx context.Context, key, path string) (n int64, err error) {
	done := f.metrics.DownloadStarted()
	defer done()

	tmp := path + "." + uuid.NewString() + tempSuffix
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			file.Close()
			os.Remove(tmp)
		}
	}()

	n, err = f.remote.Download(ctx, key, file)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, ErrEmptyObject
	}
	if err := file.Sync(); err != nil {
		return n, fmt.Errorf("sync temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return n, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return n, fmt.Errorf("commit cache entry: %w", err)
	}
	committed = true
	return n, nil
}

// RemoteURL returns a time-limited direct link to key. Links are not cached.
func (f *Fetcher) RemoteURL(ctx context.Context, key string) (string, error) {
	u, err := f.remote.GetPresignedURL(ctx, key, f.urlExpiration)
	if err != nil {
		f.metrics.Failure("retrieval")
		return "", &RetrievalError{Key: key, Err: err}
	}
	return u, nil
}

// Invalidate removes the cache entry of key. It reports whether an entry existed.
func (f *Fetcher) Invalidate(key string) (bool, error) {
	err := os.Remove(f.Path(key))
	switch {
	case err == nil:
		f.logger.WithField("key", key).Info("cache entry invalidated")
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("invalidate %s: %w", key, err)
	}
}

// SweepTemp removes temporary files left behind by interrupted downloads.
// It must not run while fetches are in progress.
func (f *Fetcher) SweepTemp() (int, error) {
	matches, err := filepath.Glob(filepath.Join(f.dir, "*"+tempSuffix))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", m, err)
		}
		removed++
	}
	if removed > 0 {
		f.logger.WithField("count", removed).Info("removed orphaned temp files")
	}
	return removed, nil
}
