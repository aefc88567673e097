package match

import (
	"strings"

	"github.com/timeax/fortiplugin/internal/permission"
)

// Network decides whether an outbound request is covered by a network
// grant. It returns the first violated dimension as the deny reason.
//
// Empty method/scheme/path allowlists allow any value; an empty host
// list never matches (hosts are the grant's primary identity). A nil
// port list requires the scheme's conventional default port; an explicit
// list requires exact membership.
func Network(spec permission.NetworkSpec, req permission.NetworkRequest) (bool, string) {
	if !spec.Access {
		return false, permission.ReasonAccessDisabled
	}
	if len(spec.Methods) > 0 && !containsFold(spec.Methods, req.Method) {
		return false, permission.ReasonMethodNotAllowed
	}
	if len(spec.Schemes) > 0 && !containsFold(spec.Schemes, req.Scheme) {
		return false, permission.ReasonSchemeNotAllowed
	}
	if !MatchHost(spec.Hosts, req.Host) {
		return false, permission.ReasonHostNotAllowed
	}
	if !portAllowed(spec.Ports, req.Scheme, req.Port) {
		return false, permission.ReasonPortNotAllowed
	}
	if !pathAllowed(spec.Paths, req.Path) {
		return false, permission.ReasonPathNotAllowed
	}
	return true, ""
}

// MatchHost reports whether host matches any pattern. Patterns are
// case-insensitive and either exact or `*.`-prefixed wildcards. A
// wildcard requires at least one label before the suffix, so
// `*.example.com` matches `api.example.com` but not bare `example.com`.
func MatchHost(patterns []string, host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSuffix(p, "."))
		if p == "" {
			continue
		}
		if strings.HasPrefix(p, "*.") {
			suffix := p[1:] // keep the leading dot
			if strings.HasSuffix(host, suffix) && len(host) > len(suffix) {
				return true
			}
			continue
		}
		if host == p {
			return true
		}
	}
	return false
}

// defaultPort returns the conventional port for a scheme, or 0 when the
// scheme has none.
func defaultPort(scheme string) int {
	switch strings.ToLower(scheme) {
	case "https", "wss":
		return 443
	case "http", "ws":
		return 80
	}
	return 0
}

func portAllowed(ports []int, scheme string, port int) bool {
	if len(ports) == 0 {
		// No explicit list: only the scheme's conventional default.
		def := defaultPort(scheme)
		return def != 0 && (port == 0 || port == def)
	}
	if port == 0 {
		port = defaultPort(scheme)
	}
	for _, p := range ports {
		if p == port {
			return true
		}
	}
	return false
}

// pathAllowed matches the request path by prefix for literal patterns,
// and via the shared pattern compiler for glob/regex patterns.
func pathAllowed(patterns []string, path string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if IsGlob(p) {
			re, err := CompilePattern(p)
			if err != nil {
				continue // malformed pattern never matches
			}
			if re.MatchString(path) {
				return true
			}
			continue
		}
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
