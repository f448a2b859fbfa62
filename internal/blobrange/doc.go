// Package blobrange serves episode audio out of the object store with
// single-range HTTP partial-content semantics.
//
// A request resolves to one object under a fixed key prefix. The object size
// is looked up first, then an optional "bytes=start-end" range is validated
// against it:
//   - no range: the whole object, 200 OK
//   - satisfiable range: bytes [start, end], 206 Partial Content
//   - anything else: *RangeError, which callers answer with 416 and
//     "Content-Range: bytes */size"
//
// Multi-range and suffix ("bytes=-N") requests are not supported and are
// reported as unsatisfiable.
package blobrange
