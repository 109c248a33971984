// Package downloads copies cached reports into the user's downloads
// directory on explicit request.
package downloads

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// SaveError reports a failed save. Err carries the underlying cause.
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save %s: %v", e.Path, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// DefaultName is the file name a report is saved under.
func DefaultName(label string) string {
	return "attendance_report_" + label + ".pdf"
}

// PageName is the file name of a single extracted page.
func PageName(label string, page int) string {
	return "attendance_report_" + label + "_p" + strconv.Itoa(page) + ".pdf"
}

// Saver writes files into Dir. A file with the same name is overwritten.
type Saver struct {
	dir string
}

func NewSaver(dir string) *Saver {
	return &Saver{dir: dir}
}

func (s *Saver) Dir() string { return s.dir }

// Save copies src to Dir/displayName and returns the destination path.
func (s *Saver) Save(src, displayName string) (string, error) {
	name := filepath.Base(displayName)
	if name == "." || name == string(filepath.Separator) || strings.TrimSpace(name) == "" {
		return "", &SaveError{Path: displayName, Err: fmt.Errorf("invalid file name %q", displayName)}
	}
	dst := filepath.Join(s.dir, name)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", &SaveError{Path: dst, Err: err}
	}
	if err := copyFile(src, dst); err != nil {
		return "", &SaveError{Path: dst, Err: err}
	}
	return dst, nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + "." + uuid.NewString() + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(tmp)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	if err = out.Sync(); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
