/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package request implements the incremental HTTP/1.1 request parser:
// given a growing byte buffer accumulated from one connection, it
// determines whether a complete request is present, and if so how many
// bytes of the buffer it occupies (so any surplus can be re-offered to
// the parser for a pipelined request — see DESIGN.md Open Question #2).
//
// The parser is pure over a byte slice: it never touches the network and
// allocates only the resulting Request's strings and body.
package request

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/badu/evserver/internal/hdr"
)

// Request is the value the parser builds from a complete HTTP/1.1
// request.
type Request struct {
	Method  string
	Path    string // without query
	Query   string // raw, without leading '?'
	Version string
	Headers hdr.Header
	Body    []byte
}

// Result is what Parse reports about a buffer.
type Result struct {
	// Request is set when Complete is true.
	Request *Request
	// Consumed is the number of bytes of the input buffer the request
	// occupies. Bytes beyond Consumed belong to a subsequent pipelined
	// request, if any.
	Consumed int
	// Complete reports whether a full request was parsed.
	Complete bool
	// Err is set when the buffer contains a malformed request (parse-fatal,
	// per spec.md §7). Complete is false and Consumed is meaningless in
	// that case.
	Err error
}

type parseError string

func (e parseError) Error() string { return string(e) }

// Parse attempts to parse one HTTP/1.1 request from the front of buf.
// It never consumes more bytes than the request occupies.
func Parse(buf []byte) Result {
	headerEnd := indexHeaderTerminator(buf)
	if headerEnd < 0 {
		return Result{Complete: false}
	}
	headBytes := buf[:headerEnd]
	bodyStart := headerEnd + 4

	lines := splitLines(headBytes)
	if len(lines) == 0 {
		return Result{Err: parseError("empty request")}
	}

	method, path, query, version, err := parseRequestLine(lines[0])
	if err != nil {
		return Result{Err: err}
	}

	headers := make(hdr.Header)
	for _, line := range lines[1:] {
		if len(line) == 0 {
			continue
		}
		idx := indexByte(line, ':')
		if idx < 0 {
			return Result{Err: parseError("malformed header line")}
		}
		key := strings.TrimSpace(string(line[:idx]))
		value := strings.TrimSpace(string(line[idx+1:]))
		if key == "" {
			return Result{Err: parseError("empty header name")}
		}
		headers.Set(key, value)
	}

	if cl := headers.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseUint(cl, 10, 63)
		if err != nil {
			return Result{Err: parseError("invalid Content-Length")}
		}
		need := bodyStart + int(n)
		if len(buf) < need {
			return Result{Complete: false}
		}
		body := make([]byte, n)
		copy(body, buf[bodyStart:need])
		return Result{
			Complete: true,
			Consumed: need,
			Request: &Request{
				Method:  method,
				Path:    path,
				Query:   query,
				Version: version,
				Headers: headers,
				Body:    body,
			},
		}
	}

	if isChunked(headers) {
		body, consumedBody, ok, err := parseChunkedBody(buf[bodyStart:])
		if err != nil {
			return Result{Err: err}
		}
		if !ok {
			return Result{Complete: false}
		}
		return Result{
			Complete: true,
			Consumed: bodyStart + consumedBody,
			Request: &Request{
				Method:  method,
				Path:    path,
				Query:   query,
				Version: version,
				Headers: headers,
				Body:    body,
			},
		}
	}

	return Result{
		Complete: true,
		Consumed: bodyStart,
		Request: &Request{
			Method:  method,
			Path:    path,
			Query:   query,
			Version: version,
			Headers: headers,
			Body:    nil,
		},
	}
}

func isChunked(h hdr.Header) bool {
	te := h.Get("Transfer-Encoding")
	return strings.Contains(strings.ToLower(te), "chunked")
}

func indexHeaderTerminator(buf []byte) int {
	return bytes.Index(buf, []byte("\r\n\r\n"))
}

func indexByte(b []byte, c byte) int {
	return bytes.IndexByte(b, c)
}

// splitLines splits a CRLF- (or bare LF-) delimited block into lines,
// tolerant of the occasional bare LF a buggy client sends.
func splitLines(b []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i := 0; i < len(b); i++ {
		if b[i] == '\n' {
			end := i
			if end > start && b[end-1] == '\r' {
				end--
			}
			lines = append(lines, b[start:end])
			start = i + 1
		}
	}
	if start < len(b) {
		lines = append(lines, b[start:])
	}
	return lines
}

func parseRequestLine(line []byte) (method, path, query, version string, err error) {
	s := string(line)
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return "", "", "", "", parseError("malformed request line")
	}
	method = parts[0]
	target := parts[1]
	version = parts[2]
	if idx := strings.IndexByte(target, '?'); idx >= 0 {
		path = target[:idx]
		query = target[idx+1:]
	} else {
		path = target
	}
	return method, path, query, version, nil
}

// parseChunkedBody parses a chunked-transfer-encoded body per RFC 7230
// §4.1: a sequence of "<hex-size>\r\n<data>\r\n" chunks terminated by a
// zero-size chunk. Any truncation is reported as incomplete, not fatal —
// more bytes may still arrive. Trailer headers after the terminating
// chunk are consumed but discarded (this server does not expose
// trailers to handlers).
func parseChunkedBody(buf []byte) (body []byte, consumed int, ok bool, err error) {
	var out []byte
	pos := 0
	for {
		lineEnd := bytes.Index(buf[pos:], []byte("\r\n"))
		if lineEnd < 0 {
			return nil, 0, false, nil
		}
		sizeLine := buf[pos : pos+lineEnd]
		if semi := indexByte(sizeLine, ';'); semi >= 0 {
			sizeLine = sizeLine[:semi]
		}
		size, perr := strconv.ParseUint(strings.TrimSpace(string(sizeLine)), 16, 63)
		if perr != nil {
			return nil, 0, false, parseError("invalid chunk size")
		}
		pos += lineEnd + 2

		if size == 0 {
			// Trailer section: lines until an empty line.
			for {
				lineEnd = bytes.Index(buf[pos:], []byte("\r\n"))
				if lineEnd < 0 {
					return nil, 0, false, nil
				}
				if lineEnd == 0 {
					pos += 2
					return out, pos, true, nil
				}
				pos += lineEnd + 2
			}
		}

		need := int(size) + 2 // chunk data + trailing CRLF
		if pos+need > len(buf) {
			return nil, 0, false, nil
		}
		out = append(out, buf[pos:pos+int(size)]...)
		pos += need
	}
}
