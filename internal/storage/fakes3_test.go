package storage

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const testBucket = "reports-bucket"

// fakeS3 serves the subset of the S3 REST API the backends use, path-style.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	gets    int
}

func newFakeS3(t *testing.T, objects map[string][]byte) (*fakeS3, *httptest.Server) {
	t.Helper()
	f := &fakeS3{objects: objects}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

var fakeModTime = time.Date(2024, time.March, 11, 8, 0, 0, 0, time.UTC)

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	if bucket != testBucket {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket", r.Method)
		return
	}

	if key == "" && r.URL.Query().Get("list-type") == "2" {
		f.list(w, r.URL.Query().Get("prefix"))
		return
	}

	data, ok := f.objects[key]
	if !ok {
		writeS3Error(w, http.StatusNotFound, "NoSuchKey", r.Method)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/pdf")
	h.Set("Content-Length", strconv.Itoa(len(data)))
	h.Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	h.Set("Last-Modified", fakeModTime.Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodGet {
		f.gets++
		w.Write(data)
	}
}

func (f *fakeS3) list(w http.ResponseWriter, prefix string) {
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&b, "<Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>",
		testBucket, prefix, len(keys))
	for _, k := range keys {
		fmt.Fprintf(&b, `<Contents><Key>%s</Key><LastModified>%s</LastModified><ETag>"etag"</ETag><Size>%d</Size><StorageClass>STANDARD</StorageClass></Contents>`,
			k, fakeModTime.Format("2006-01-02T15:04:05.000Z"), len(f.objects[k]))
	}
	b.WriteString(`</ListBucketResult>`)

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(b.String()))
}

func writeS3Error(w http.ResponseWriter, status int, code, method string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	if method == http.MethodHead {
		return
	}
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message><RequestId>test</RequestId></Error>`, code, code)
}
