// Package config loads the server.conf line-oriented DSL described in
// spec.md §6. It is explicitly out of core scope (spec.md §1: "a thin
// collaborator") and kept on the standard library's bufio.Scanner — no
// library in the retrieval pack models this grammar, since all of them
// (spf13/viper, pelletier/go-toml, gopkg.in/yaml.v3) assume a
// structured YAML/TOML/INI document rather than a hand-rolled
// brace-delimited block language (see DESIGN.md).
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// RouteConfig mirrors spec.md §3's RouteConfig.
type RouteConfig struct {
	Path        string
	Methods     map[string]bool
	Root        string
	DefaultFile string
	Autoindex   bool
	CGI         bool
	Redirect    string
}

// VHost mirrors spec.md §3's VHost.
type VHost struct {
	Name      string
	ErrorPath string
	Routes    []RouteConfig
}

// ServerConfig mirrors spec.md §3's ServerConfig. It is immutable once
// loaded and shared by reference from the event loop.
type ServerConfig struct {
	ListenAddresses     []string
	ClientBodySizeLimit int64
	Routes              []RouteConfig
	ErrorPath           string
	VHosts              []VHost
}

const defaultListenAddress = "127.0.0.1:8080"
const defaultClientBodySizeLimit = 10 << 20 // 10 MiB
const defaultDefaultFile = "index.html"

// Load reads and parses a server.conf file at path.
func Load(path string) (*ServerConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse parses the server.conf grammar from r.
func Parse(r io.Reader) (*ServerConfig, error) {
	p := &parser{scanner: bufio.NewScanner(r)}
	return p.parseTop()
}

type parser struct {
	scanner *bufio.Scanner
	line    int
}

// nextLine returns the next non-comment, non-blank line, trimmed, or
// ("", false) at EOF.
func (p *parser) nextLine() (string, bool) {
	for p.scanner.Scan() {
		p.line++
		line := strings.TrimSpace(p.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, true
	}
	return "", false
}

func (p *parser) parseTop() (*ServerConfig, error) {
	cfg := &ServerConfig{
		ClientBodySizeLimit: defaultClientBodySizeLimit,
	}
	seenListen := map[string]bool{}

	for {
		line, ok := p.nextLine()
		if !ok {
			break
		}
		switch {
		case line == "}":
			return nil, p.errorf("unexpected closing brace")
		case strings.HasPrefix(line, "vhost "):
			vh, err := p.parseVHost(line)
			if err != nil {
				return nil, err
			}
			cfg.VHosts = append(cfg.VHosts, *vh)
		case strings.HasPrefix(line, "route "):
			rt, err := p.parseRoute(line)
			if err != nil {
				return nil, err
			}
			if routeSavable(rt) {
				cfg.Routes = append(cfg.Routes, *rt)
			}
		default:
			key, value, err := splitDirective(line)
			if err != nil {
				return nil, p.errorf("%v", err)
			}
			switch key {
			case "listen":
				for _, addr := range strings.Split(value, ",") {
					addr = strings.TrimSpace(addr)
					if addr == "" || seenListen[addr] {
						continue
					}
					seenListen[addr] = true
					cfg.ListenAddresses = append(cfg.ListenAddresses, addr)
				}
			case "client_body_size_limit", "client_max_body_size":
				n, err := strconv.ParseInt(value, 10, 64)
				if err != nil {
					return nil, p.errorf("invalid %s: %v", key, err)
				}
				cfg.ClientBodySizeLimit = n
			case "error_path", "error_dir":
				cfg.ErrorPath = value
			default:
				return nil, p.errorf("unknown directive %q", key)
			}
		}
	}

	if len(cfg.ListenAddresses) == 0 {
		cfg.ListenAddresses = []string{defaultListenAddress}
	}
	return cfg, nil
}

func (p *parser) parseVHost(header string) (*VHost, error) {
	name, hasBrace, err := parseBlockHeader(header, "vhost")
	if err != nil {
		return nil, p.errorf("%v", err)
	}
	vh := &VHost{Name: name}
	if !hasBrace {
		return vh, nil
	}
	for {
		line, ok := p.nextLine()
		if !ok {
			return nil, p.errorf("unterminated vhost block")
		}
		if line == "}" {
			return vh, nil
		}
		switch {
		case strings.HasPrefix(line, "route "):
			rt, err := p.parseRoute(line)
			if err != nil {
				return nil, err
			}
			if routeSavable(rt) {
				vh.Routes = append(vh.Routes, *rt)
			}
		default:
			key, value, err := splitDirective(line)
			if err != nil {
				return nil, p.errorf("%v", err)
			}
			if key == "error_path" || key == "error_dir" {
				vh.ErrorPath = value
			} else {
				return nil, p.errorf("unknown vhost directive %q", key)
			}
		}
	}
}

func (p *parser) parseRoute(header string) (*RouteConfig, error) {
	pathTok, hasBrace, err := parseBlockHeader(header, "route")
	if err != nil {
		return nil, p.errorf("%v", err)
	}
	rt := &RouteConfig{Path: pathTok, DefaultFile: defaultDefaultFile}
	if !hasBrace {
		return rt, nil
	}
	for {
		line, ok := p.nextLine()
		if !ok {
			return nil, p.errorf("unterminated route block")
		}
		if line == "}" {
			if len(rt.Methods) == 0 {
				rt.Methods = map[string]bool{"GET": true}
			}
			return rt, nil
		}
		key, value, err := splitDirective(line)
		if err != nil {
			return nil, p.errorf("%v", err)
		}
		switch key {
		case "methods":
			rt.Methods = map[string]bool{}
			for _, m := range strings.Split(value, ",") {
				m = strings.ToUpper(strings.TrimSpace(m))
				if m != "" {
					rt.Methods[m] = true
				}
			}
		case "root":
			rt.Root = value
		case "default_file", "default":
			rt.DefaultFile = value
		case "autoindex":
			rt.Autoindex = isTruthy(value)
		case "cgi":
			rt.CGI = true
		case "redirect":
			rt.Redirect = value
		default:
			return nil, p.errorf("unknown route directive %q", key)
		}
	}
}

func routeSavable(rt *RouteConfig) bool {
	return rt.Root != "" || rt.Redirect != ""
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "yes", "1":
		return true
	}
	return false
}

// splitDirective splits a "key = value" line.
func splitDirective(line string) (key, value string, err error) {
	idx := strings.IndexByte(line, '=')
	if idx < 0 {
		return "", "", fmt.Errorf("malformed directive %q", line)
	}
	key = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	return key, value, nil
}

// parseBlockHeader parses "<keyword> <token> {" or "<keyword> <token>",
// returning whether a trailing "{" opened a block.
func parseBlockHeader(line, keyword string) (token string, hasBrace bool, err error) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, keyword))
	hasBrace = strings.HasSuffix(rest, "{")
	if hasBrace {
		rest = strings.TrimSpace(strings.TrimSuffix(rest, "{"))
	}
	if rest == "" {
		return "", false, fmt.Errorf("%s directive missing name/path", keyword)
	}
	return rest, hasBrace, nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("server.conf:%d: %s", p.line, fmt.Sprintf(format, args...))
}
