package blobrange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/news-fetcher/podcast-api/internal/storage/objectstore"
)

const ContentType = "audio/mpeg"

var (
	ErrNotFound        = errors.New("blob not found")
	ErrInvalidFilename = errors.New("invalid filename")
)

// Source is the subset of the object store the reader needs.
type Source interface {
	Stat(ctx context.Context, bucket, key string) (objectstore.ObjectInfo, error)
	GetRange(ctx context.Context, bucket, key string, start, end int64) (io.ReadCloser, error)
}

type Reader struct {
	source  Source
	bucket  string
	prefix  string
	timeout time.Duration
}

func NewReader(source Source, bucket, prefix string, timeout time.Duration) (*Reader, error) {
	if source == nil {
		return nil, errors.New("blob source is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Reader{source: source, bucket: bucket, prefix: prefix, timeout: timeout}, nil
}

// Content is an opened object, ready to be written to a client. Callers must Close it.
type Content struct {
	Body  io.ReadCloser
	Size  int64
	Range *Range
}

// Open resolves filename under the reader's prefix and validates rangeHeader
// against the object size. The returned error wraps ErrInvalidFilename,
// ErrNotFound or ErrRangeNotSatisfiable (as *RangeError) when applicable.
func (r *Reader) Open(ctx context.Context, filename, rangeHeader string) (*Content, error) {
	if !ValidFilename(filename) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	key := r.prefix + filename

	statCtx, cancel := context.WithTimeout(ctx, r.timeout)
	info, err := r.source.Stat(statCtx, r.bucket, key)
	cancel()
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
		}
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}

	rng, err := ParseRange(rangeHeader, info.Size)
	if err != nil {
		return nil, err
	}

	start, end := int64(-1), int64(-1)
	if rng != nil {
		start, end = rng.Start, rng.End
	}
	body, err := r.source.GetRange(ctx, r.bucket, key, start, end)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
		}
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return &Content{Body: body, Size: info.Size, Range: rng}, nil
}

func (c *Content) StatusCode() int {
	if c.Range != nil {
		return http.StatusPartialContent
	}
	return http.StatusOK
}

func (c *Content) ContentLength() int64 {
	if c.Range != nil {
		return c.Range.Length()
	}
	return c.Size
}

func (c *Content) SetHeaders(h http.Header) {
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", ContentType)
	h.Set("Content-Length", strconv.FormatInt(c.ContentLength(), 10))
	if c.Range != nil {
		h.Set("Content-Range", c.Range.ContentRange(c.Size))
	}
}

// WriteTo copies exactly ContentLength bytes to w. A short body is reported
// as io.ErrUnexpectedEOF.
func (c *Content) WriteTo(w io.Writer) (int64, error) {
	want := c.ContentLength()
	n, err := io.CopyN(w, c.Body, want)
	if errors.Is(err, io.EOF) && n < want {
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}

func (c *Content) Close() error {
	if c == nil || c.Body == nil {
		return nil
	}
	return c.Body.Close()
}

// ValidFilename accepts a single path element.
func ValidFilename(name string) bool {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\")
}
