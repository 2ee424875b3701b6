// Package router implements route_request(request, config) → response
// from spec.md §4.5: vhost selection, longest-path-prefix matching,
// method gating, path-traversal defense, and dispatch to the
// file/redirect/upload/delete/autoindex/CGI handlers.
//
// Matching is modeled on the teacher's ServeMux (badu-http/mux/types.go):
// longest-pattern-wins, host-specific precedence over general patterns —
// generalized here from one global pattern table to one table per vhost
// plus a global fallback.
package router

import (
	"fmt"
	"html"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/badu/evserver/internal/cgi"
	"github.com/badu/evserver/internal/config"
	"github.com/badu/evserver/internal/hdr"
	"github.com/badu/evserver/internal/httpurl"
	"github.com/badu/evserver/internal/mimetype"
	"github.com/badu/evserver/internal/request"
	"github.com/badu/evserver/internal/response"
	"github.com/badu/evserver/internal/session"
	"github.com/badu/evserver/internal/upload"
)

// Route handles one parsed request against cfg and returns the
// response to write back. now is injected for the session cookie and
// upload fallback-filename clocks.
func Route(req *request.Request, cfg *config.ServerConfig, now time.Time) *response.Response {
	resp := route(req, cfg, now)
	if resp.Header == nil {
		resp.Header = make(hdr.Header)
	}
	session.Ensure(req.Headers, resp.Header, now)
	return resp
}

func route(req *request.Request, cfg *config.ServerConfig, now time.Time) *response.Response {
	errorPath := cfg.ErrorPath

	if req.Version != "HTTP/1.1" {
		return errorResponse(400, errorPath)
	}

	decodedPath, err := httpurl.PathUnescape(req.Path)
	if err != nil || hasTraversal(req.Path) || hasTraversal(decodedPath) {
		return errorResponse(403, errorPath)
	}

	if cfg.ClientBodySizeLimit > 0 && int64(len(req.Body)) > cfg.ClientBodySizeLimit {
		return errorResponse(413, errorPath)
	}

	routes := selectRouteSet(req, cfg)
	if vh := selectVHost(req, cfg); vh != nil && vh.ErrorPath != "" {
		errorPath = vh.ErrorPath
	}

	rt := longestPrefixMatch(routes, decodedPath)
	if rt == nil {
		return errorResponse(404, errorPath)
	}

	if !methodAllowed(rt, req.Method) {
		return errorResponse(405, errorPath)
	}

	if rt.Redirect != "" {
		resp := response.New(302, nil)
		resp.Header.Set("Location", rt.Redirect)
		return resp
	}

	if strings.Contains(rt.Path, "/upload") {
		switch req.Method {
		case "POST":
			return handleUpload(req, cfg, now, errorPath)
		case "DELETE":
			return handleDelete(req, errorPath)
		}
	}

	if rt.CGI {
		return handleCGI(req, rt, decodedPath, errorPath)
	}

	return handleStatic(req, rt, decodedPath, errorPath)
}

// hasTraversal reports whether a raw or decoded path contains a parent
// reference, NUL byte, or doubled slash, per spec.md §4.5 step 2.
func hasTraversal(p string) bool {
	if strings.Contains(p, "\x00") || strings.Contains(p, "//") {
		return true
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func selectVHost(req *request.Request, cfg *config.ServerConfig) *config.VHost {
	if len(cfg.VHosts) == 0 {
		return nil
	}
	host := httpurl.SplitHostPort(req.Headers.Get("Host"))
	for i := range cfg.VHosts {
		if cfg.VHosts[i].Name == host {
			return &cfg.VHosts[i]
		}
	}
	return nil
}

func selectRouteSet(req *request.Request, cfg *config.ServerConfig) []config.RouteConfig {
	if vh := selectVHost(req, cfg); vh != nil {
		return vh.Routes
	}
	return cfg.Routes
}

// longestPrefixMatch returns the route whose Path is the longest prefix
// of reqPath, ties broken by declaration order (the first-declared
// route of equal length wins, mirroring stable iteration order).
func longestPrefixMatch(routes []config.RouteConfig, reqPath string) *config.RouteConfig {
	var best *config.RouteConfig
	bestLen := -1
	for i := range routes {
		p := routes[i].Path
		if strings.HasPrefix(reqPath, p) && len(p) > bestLen {
			best = &routes[i]
			bestLen = len(p)
		}
	}
	return best
}

func methodAllowed(rt *config.RouteConfig, method string) bool {
	if len(rt.Methods) == 0 {
		return true
	}
	return rt.Methods[strings.ToUpper(method)]
}

func handleUpload(req *request.Request, cfg *config.ServerConfig, now time.Time, errorPath string) *response.Response {
	res, err := upload.Handle(req.Headers, req.Body, cfg.ClientBodySizeLimit, now)
	if err == upload.ErrBodyTooLarge {
		return errorResponse(413, errorPath)
	}
	if err != nil {
		return errorResponse(500, errorPath)
	}
	resp := response.New(200, []byte(fmt.Sprintf("uploaded %s", res.Filename)))
	resp.Header.Set("Content-Type", "text/plain")
	return resp
}

func handleDelete(req *request.Request, errorPath string) *response.Response {
	err := upload.Delete(req.Path)
	switch {
	case err == nil:
		return response.New(200, []byte("deleted"))
	case err == upload.ErrUnsafePath:
		return errorResponse(403, errorPath)
	case os.IsNotExist(err):
		return errorResponse(404, errorPath)
	default:
		return errorResponse(500, errorPath)
	}
}

func handleCGI(req *request.Request, rt *config.RouteConfig, decodedPath, errorPath string) *response.Response {
	sub := strings.TrimPrefix(decodedPath, rt.Path)
	if sub == "" {
		return errorResponse(404, errorPath)
	}
	scriptPath, ok := sanitizeJoin(rt.Root, sub)
	if !ok {
		return errorResponse(403, errorPath)
	}
	return cgi.Invoke(scriptPath, sub, &cgi.Request{
		Method:  req.Method,
		Path:    req.Path,
		Query:   req.Query,
		Version: req.Version,
		Headers: req.Headers,
		Body:    req.Body,
	})
}

func handleStatic(req *request.Request, rt *config.RouteConfig, decodedPath, errorPath string) *response.Response {
	var rel string
	if rt.Path == "/" {
		rel = strings.TrimPrefix(decodedPath, "/")
	} else {
		rel = strings.TrimPrefix(decodedPath, rt.Path)
	}

	var fsPath string
	if rel == "" {
		fsPath = rt.Root
	} else {
		joined, ok := sanitizeJoin(rt.Root, rel)
		if !ok {
			return errorResponse(403, errorPath)
		}
		fsPath = joined
	}

	info, err := os.Stat(fsPath)
	if err != nil {
		return errorResponse(404, errorPath)
	}

	if !info.IsDir() {
		data, err := os.ReadFile(fsPath)
		if err != nil {
			return errorResponse(500, errorPath)
		}
		resp := response.New(200, data)
		resp.Header.Set("Content-Type", mimetype.ForPath(fsPath))
		return resp
	}

	if rt.DefaultFile != "" {
		defPath := path.Join(fsPath, rt.DefaultFile)
		if defInfo, err := os.Stat(defPath); err == nil && !defInfo.IsDir() {
			data, err := os.ReadFile(defPath)
			if err != nil {
				return errorResponse(500, errorPath)
			}
			resp := response.New(200, data)
			resp.Header.Set("Content-Type", mimetype.ForPath(defPath))
			return resp
		}
	}

	if rt.Autoindex {
		return autoindex(fsPath, decodedPath)
	}

	return errorResponse(403, errorPath)
}

func autoindex(dir, urlPath string) *response.Response {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errorResponse(500, "")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><title>Index of ")
	b.WriteString(html.EscapeString(urlPath))
	b.WriteString("</title></head><body><h1>Index of ")
	b.WriteString(html.EscapeString(urlPath))
	b.WriteString("</h1><ul>")
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		href := path.Join(urlPath, e.Name())
		b.WriteString(`<li><a href="`)
		b.WriteString(html.EscapeString(href))
		b.WriteString(`">`)
		b.WriteString(html.EscapeString(name))
		b.WriteString("</a></li>")
	}
	b.WriteString("</ul></body></html>")

	resp := response.New(200, []byte(b.String()))
	resp.Header.Set("Content-Type", "text/html")
	return resp
}

// sanitizeJoin joins rel under base, rejecting any path that would
// escape base after normalization, per spec.md §4.5's path-sanitization
// rule.
func sanitizeJoin(base, rel string) (string, bool) {
	clean := path.Clean("/" + rel)
	if clean == "/" {
		return base, true
	}
	for _, seg := range strings.Split(clean, "/") {
		if seg == ".." {
			return "", false
		}
	}
	return path.Join(base, clean), true
}

func errorResponse(code int, errorPath string) *response.Response {
	if errorPath != "" {
		p := path.Join(errorPath, strconv.Itoa(code)+".html")
		if data, err := os.ReadFile(p); err == nil {
			resp := response.New(code, data)
			resp.Header.Set("Content-Type", "text/html")
			return resp
		}
	}
	text := response.StatusText(code)
	if text == "" {
		text = "Error"
	}
	body := fmt.Sprintf("<h1>%d - %s</h1>", code, text)
	resp := response.New(code, []byte(body))
	resp.Header.Set("Content-Type", "text/html")
	return resp
}
