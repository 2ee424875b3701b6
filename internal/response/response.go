/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package response implements the HttpResponse value and its wire
// serializer. Unlike the teacher's Response.Write — which has to cope
// with chunked/streaming client Transports — responses here are always
// fully materialized before the first write (spec.md §1 Non-goals), so
// there is no transfer-writer negotiation: just a status line, a sorted
// header block, an auto-inserted Content-Length, and the body bytes.
package response

import (
	"strconv"

	"github.com/badu/evserver/internal/hdr"
)

// Response is a value built by a handler: status, headers, body.
type Response struct {
	StatusCode int
	StatusText string
	Header     hdr.Header
	Body       []byte
}

// New constructs a Response with an empty header map and the standard
// reason phrase for code, looked up from statusText.
func New(code int, body []byte) *Response {
	return &Response{
		StatusCode: code,
		StatusText: statusText[code],
		Header:     make(hdr.Header),
		Body:       body,
	}
}

// ToBytes serializes r in HTTP/1.1 wire format: status line, each
// header as "Key: Value\r\n" sorted by key (hdr.Header.Write; insertion
// order is not kept), a synthetic Content-Length if absent, a blank
// line, then the body.
func (r *Response) ToBytes() []byte {
	text := r.StatusText
	if text == "" {
		text = statusText[r.StatusCode]
	}
	if text == "" {
		text = "Status " + strconv.Itoa(r.StatusCode)
	}

	var buf []byte
	buf = append(buf, "HTTP/1.1 "...)
	buf = append(buf, strconv.Itoa(r.StatusCode)...)
	buf = append(buf, ' ')
	buf = append(buf, text...)
	buf = append(buf, "\r\n"...)

	if r.Header == nil {
		r.Header = make(hdr.Header)
	}
	if !r.Header.Has("Content-Length") {
		r.Header.Set("Content-Length", strconv.Itoa(len(r.Body)))
	}

	headerBuf := new(byteSliceWriter)
	_ = r.Header.Write(headerBuf)
	buf = append(buf, headerBuf.buf...)

	buf = append(buf, "\r\n"...)
	buf = append(buf, r.Body...)
	return buf
}

type byteSliceWriter struct {
	buf []byte
}

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

var statusText = map[int]string{
	200: "OK",
	201: "Created",
	204: "No Content",
	302: "Found",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	413: "Payload Too Large",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	504: "Gateway Timeout",
}

// StatusText returns the standard reason phrase for code, or "" if code
// is unrecognized.
func StatusText(code int) string {
	return statusText[code]
}
