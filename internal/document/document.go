// Package document validates downloaded report files, tracks the page
// being viewed and extracts it as a standalone PDF. Rasterising pages is
// left to the client.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

var pdfMagic = []byte("%PDF-")

// ErrNotPDF is wrapped by RenderError when the file has no PDF header.
var ErrNotPDF = errors.New("not a PDF document")

// RenderError reports that a file is not a valid paginated document.
type RenderError struct {
	Path string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Path, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

var disableConfigDir sync.Once

// Document is an opened report with a current page.
type Document struct {
	path    string
	pages   int
	current int
}

// Open checks the PDF header, counts pages and positions on the first page.
func Open(path string) (*Document, error) {
	if err := checkHeader(path); err != nil {
		return nil, &RenderError{Path: path, Err: err}
	}

	// pdfcpu would otherwise create a configuration directory in $HOME.
	disableConfigDir.Do(api.DisableConfigDir)

	pages, err := api.PageCountFile(path)
	if err != nil {
		return nil, &RenderError{Path: path, Err: err}
	}
	if pages < 1 {
		return nil, &RenderError{Path: path, Err: errors.New("document has no pages")}
	}
	return &Document{path: path, pages: pages}, nil
}

func checkHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		return ErrNotPDF
	}
	if !bytes.Equal(head, pdfMagic) {
		return ErrNotPDF
	}
	return nil
}

func (d *Document) Path() string { return d.path }

func (d *Document) PageCount() int { return d.pages }

// Current returns the zero-based index of the shown page.
func (d *Document) Current() int { return d.current }

// ShowPage moves to page i. An out-of-range index leaves the current page
// unchanged and returns false.
func (d *Document) ShowPage(i int) bool {
	if i < 0 || i >= d.pages {
		return false
	}
	d.current = i
	return true
}

func (d *Document) Next() bool { return d.ShowPage(d.current + 1) }

func (d *Document) Prev() bool { return d.ShowPage(d.current - 1) }

// WritePage writes the current page to w as a single-page PDF.
func (d *Document) WritePage(w io.Writer) error {
	f, err := os.Open(d.path)
	if err != nil {
		return &RenderError{Path: d.path, Err: err}
	}
	defer f.Close()

	if err := api.Trim(f, w, []string{strconv.Itoa(d.current + 1)}, nil); err != nil {
		return &RenderError{Path: d.path, Err: fmt.Errorf("extract page %d: %w", d.current+1, err)}
	}
	return nil
}
