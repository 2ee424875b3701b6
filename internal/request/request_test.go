/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package request

import "testing"

func TestParseSimpleGET(t *testing.T) {
	raw := "GET /hello?x=1 HTTP/1.1\r\nHost: example.com\r\n\r\n"
	res := Parse([]byte(raw))
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !res.Complete {
		t.Fatal("expected complete request")
	}
	if res.Consumed != len(raw) {
		t.Fatalf("consumed %d, want %d", res.Consumed, len(raw))
	}
	req := res.Request
	if req.Method != "GET" || req.Path != "/hello" || req.Query != "x=1" || req.Version != "HTTP/1.1" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Headers.Get("Host") != "example.com" {
		t.Fatalf("unexpected host header: %q", req.Headers.Get("Host"))
	}
}

func TestParseIncompleteHeaders(t *testing.T) {
	res := Parse([]byte("GET / HTTP/1.1\r\nHost: x\r\n"))
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Complete {
		t.Fatal("expected incomplete")
	}
}

func TestParseContentLengthIncomplete(t *testing.T) {
	raw := "POST /f HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nab"
	res := Parse([]byte(raw))
	if res.Complete {
		t.Fatal("expected incomplete: body shorter than Content-Length")
	}
}

func TestParseContentLengthComplete(t *testing.T) {
	raw := "POST /f HTTP/1.1\r\nHost: x\r\nContent-Length: 3\r\n\r\nabcXYZ"
	res := Parse([]byte(raw))
	if !res.Complete {
		t.Fatalf("expected complete, err=%v", res.Err)
	}
	if string(res.Request.Body) != "abc" {
		t.Fatalf("body = %q, want abc", res.Request.Body)
	}
	if res.Consumed != len(raw)-3 {
		t.Fatalf("consumed = %d, want %d (surplus XYZ left for next request)", res.Consumed, len(raw)-3)
	}
}

func TestParseChunkedBody(t *testing.T) {
	raw := "POST /f HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	res := Parse([]byte(raw))
	if !res.Complete {
		t.Fatalf("expected complete, err=%v", res.Err)
	}
	if string(res.Request.Body) != "Wikipedia" {
		t.Fatalf("body = %q, want Wikipedia", res.Request.Body)
	}
	if res.Consumed != len(raw) {
		t.Fatalf("consumed %d, want %d", res.Consumed, len(raw))
	}
}

func TestParseChunkedBodyIncomplete(t *testing.T) {
	raw := "POST /f HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWik"
	res := Parse([]byte(raw))
	if res.Complete {
		t.Fatal("expected incomplete: truncated chunk data")
	}
	if res.Err != nil {
		t.Fatalf("truncation should not be fatal, got %v", res.Err)
	}
}

func TestParseMalformedRequestLine(t *testing.T) {
	res := Parse([]byte("BOGUS\r\n\r\n"))
	if res.Err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseMalformedHeaderLine(t *testing.T) {
	res := Parse([]byte("GET / HTTP/1.1\r\nNoColonHere\r\n\r\n"))
	if res.Err == nil {
		t.Fatal("expected parse error for header without colon")
	}
}

func TestParseLastHeaderWins(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\nX-Foo: a\r\nX-Foo: b\r\n\r\n"
	res := Parse([]byte(raw))
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if got := res.Request.Headers.Get("X-Foo"); got != "b" {
		t.Fatalf("expected last value b, got %q", got)
	}
}

func TestParsePipelinedRequestsLeavesSurplus(t *testing.T) {
	first := "GET /a HTTP/1.1\r\nHost: x\r\n\r\n"
	second := "GET /b HTTP/1.1\r\nHost: x\r\n\r\n"
	res := Parse([]byte(first + second))
	if !res.Complete {
		t.Fatalf("expected complete, err=%v", res.Err)
	}
	if res.Consumed != len(first) {
		t.Fatalf("consumed = %d, want %d", res.Consumed, len(first))
	}
}
