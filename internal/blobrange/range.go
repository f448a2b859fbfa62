package blobrange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrRangeNotSatisfiable = errors.New("range not satisfiable")

// RangeError reports a Range header that cannot be served for an object of Size bytes.
type RangeError struct {
	Header string
	Size   int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range %q not satisfiable for size %d", e.Header, e.Size)
}

func (e *RangeError) Is(target error) bool {
	return target == ErrRangeNotSatisfiable
}

// ContentRange is the header value sent with a 416 response.
func (e *RangeError) ContentRange() string {
	return fmt.Sprintf("bytes */%d", e.Size)
}

// Range is an inclusive, 0-indexed byte range.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

func (r Range) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// ParseRange parses a single "bytes=start-end" range against an object of
// the given size. An empty header yields a nil range. A missing end means
// the last byte of the object.
func ParseRange(header string, size int64) (*Range, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}
	fail := &RangeError{Header: header, Size: size}

	set, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(set, ",") {
		return nil, fail
	}
	startRaw, endRaw, ok := strings.Cut(strings.TrimSpace(set), "-")
	if !ok {
		return nil, fail
	}
	start, ok := parseOffset(startRaw)
	if !ok {
		return nil, fail
	}
	end := size - 1
	if strings.TrimSpace(endRaw) != "" {
		end, ok = parseOffset(endRaw)
		if !ok {
			return nil, fail
		}
	}

	if start < 0 || start > end || start >= size || end > size-1 {
		return nil, fail
	}
	return &Range{Start: start, End: end}, nil
}

func parseOffset(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
