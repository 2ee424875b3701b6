package router

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/badu/evserver/internal/config"
	"github.com/badu/evserver/internal/hdr"
	"github.com/badu/evserver/internal/request"
)

func newReq(method, path, version string) *request.Request {
	h := make(hdr.Header)
	h.Set("Host", "x")
	return &request.Request{Method: method, Path: path, Version: version, Headers: h}
}

func withStaticSite(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestRouteServesIndexFile(t *testing.T) {
	root := withStaticSite(t)
	cfg := &config.ServerConfig{
		Routes: []config.RouteConfig{
			{Path: "/", Methods: map[string]bool{"GET": true}, Root: root, DefaultFile: "index.html"},
		},
	}
	resp := Route(newReq("GET", "/", "HTTP/1.1"), cfg, time.Unix(1, 0))
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if string(resp.Body) != "hi" {
		t.Fatalf("body = %q, want hi", resp.Body)
	}
	if resp.Header.Get("Content-Type") != "text/html" {
		t.Fatalf("content-type = %q", resp.Header.Get("Content-Type"))
	}
}

func TestRouteRejectsTraversal(t *testing.T) {
	root := withStaticSite(t)
	cfg := &config.ServerConfig{
		Routes: []config.RouteConfig{
			{Path: "/", Methods: map[string]bool{"GET": true}, Root: root},
		},
	}
	resp := Route(newReq("GET", "/a/../b", "HTTP/1.1"), cfg, time.Now())
	if resp.StatusCode != 403 {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestRouteRejectsBadVersion(t *testing.T) {
	cfg := &config.ServerConfig{}
	resp := Route(newReq("GET", "/", "HTTP/1.0"), cfg, time.Now())
	if resp.StatusCode != 400 {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRouteNotFoundWhenNoRouteMatches(t *testing.T) {
	cfg := &config.ServerConfig{}
	resp := Route(newReq("GET", "/nope", "HTTP/1.1"), cfg, time.Now())
	if resp.StatusCode != 404 {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRouteMethodNotAllowed(t *testing.T) {
	root := withStaticSite(t)
	cfg := &config.ServerConfig{
		Routes: []config.RouteConfig{
			{Path: "/", Methods: map[string]bool{"GET": true}, Root: root},
		},
	}
	resp := Route(newReq("POST", "/", "HTTP/1.1"), cfg, time.Now())
	if resp.StatusCode != 405 {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestRouteRedirect(t *testing.T) {
	cfg := &config.ServerConfig{
		Routes: []config.RouteConfig{
			{Path: "/old", Methods: map[string]bool{"GET": true}, Redirect: "/new"},
		},
	}
	resp := Route(newReq("GET", "/old", "HTTP/1.1"), cfg, time.Now())
	if resp.StatusCode != 302 {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if resp.Header.Get("Location") != "/new" {
		t.Fatalf("location = %q, want /new", resp.Header.Get("Location"))
	}
}

func TestRouteLongestPrefixWins(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "thumbs")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "a.png"), []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := &config.ServerConfig{
		Routes: []config.RouteConfig{
			{Path: "/images", Methods: map[string]bool{"GET": true}, Root: root},
			{Path: "/images/thumbs", Methods: map[string]bool{"GET": true}, Root: sub},
		},
	}
	resp := Route(newReq("GET", "/images/thumbs/a.png", "HTTP/1.1"), cfg, time.Now())
	if resp.StatusCode != 200 || string(resp.Body) != "img" {
		t.Fatalf("status=%d body=%q, want 200/img", resp.StatusCode, resp.Body)
	}
}

func TestRouteVHostSelection(t *testing.T) {
	rootA := withStaticSite(t)
	rootB := t.TempDir()
	if err := os.WriteFile(filepath.Join(rootB, "index.html"), []byte("b-site"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := &config.ServerConfig{
		VHosts: []config.VHost{
			{Name: "a.test", Routes: []config.RouteConfig{{Path: "/", Methods: map[string]bool{"GET": true}, Root: rootA, DefaultFile: "index.html"}}},
			{Name: "b.test", Routes: []config.RouteConfig{{Path: "/", Methods: map[string]bool{"GET": true}, Root: rootB, DefaultFile: "index.html"}}},
		},
	}
	h := make(hdr.Header)
	h.Set("Host", "b.test:8080")
	req := &request.Request{Method: "GET", Path: "/", Version: "HTTP/1.1", Headers: h}
	resp := Route(req, cfg, time.Now())
	if string(resp.Body) != "b-site" {
		t.Fatalf("body = %q, want b-site", resp.Body)
	}
}

func TestRouteSessionCookieIssued(t *testing.T) {
	root := withStaticSite(t)
	cfg := &config.ServerConfig{
		Routes: []config.RouteConfig{{Path: "/", Methods: map[string]bool{"GET": true}, Root: root, DefaultFile: "index.html"}},
	}
	resp := Route(newReq("GET", "/", "HTTP/1.1"), cfg, time.Unix(1700000000, 0))
	if resp.Header.Get("Set-Cookie") == "" {
		t.Fatal("expected Set-Cookie to be issued")
	}
}

func TestRouteBodyTooLarge(t *testing.T) {
	cfg := &config.ServerConfig{ClientBodySizeLimit: 2}
	req := newReq("GET", "/", "HTTP/1.1")
	req.Body = []byte("abcdef")
	resp := Route(req, cfg, time.Now())
	if resp.StatusCode != 413 {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
}

func TestRouteAutoindex(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := &config.ServerConfig{
		Routes: []config.RouteConfig{{Path: "/", Methods: map[string]bool{"GET": true}, Root: root, Autoindex: true}},
	}
	resp := Route(newReq("GET", "/", "HTTP/1.1"), cfg, time.Now())
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "text/html" {
		t.Fatalf("content-type = %q", resp.Header.Get("Content-Type"))
	}
}
