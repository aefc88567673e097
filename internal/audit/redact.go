package audit

import (
	"strings"
)

// mask replaces redacted values.
const mask = "***"

// DefaultFragments are the key fragments treated as sensitive wherever
// they appear, case-insensitively.
var DefaultFragments = []string{
	"password", "passwd", "token", "secret", "authorization",
	"cookie", "api_key", "apikey", "credential", "private_key",
}

// Auth schemes whose prefix survives masking, so logs keep showing how a
// credential was presented without the credential itself.
var authSchemes = map[string]bool{
	"bearer": true,
	"basic":  true,
	"token":  true,
	"digest": true,
}

type pathRule struct {
	segments []string
	subtree  bool // trailing ".*": mask the whole subtree
}

// Redactor masks sensitive leaves in audit payloads, matched by explicit
// dot-paths (exact or wildcard-subtree) or by sensitive key fragments.
type Redactor struct {
	paths     []pathRule
	fragments []string
}

// NewRedactor builds a redactor from explicit dot-paths (e.g.
// "headers.Authorization", "body.credentials.*") plus the default
// sensitive-key fragments.
func NewRedactor(paths []string) *Redactor {
	r := &Redactor{fragments: DefaultFragments}
	for _, p := range paths {
		if p == "" {
			continue
		}
		rule := pathRule{segments: strings.Split(strings.ToLower(p), ".")}
		if n := len(rule.segments); n > 1 && rule.segments[n-1] == "*" {
			rule.subtree = true
			rule.segments = rule.segments[:n-1]
		}
		r.paths = append(r.paths, rule)
	}
	return r
}

// Redact returns a deep copy of the payload with sensitive leaves
// masked. The input is never modified.
func (r *Redactor) Redact(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out, _ := r.walk(payload, nil).(map[string]any)
	return out
}

func (r *Redactor) walk(v any, path []string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			p := append(path, strings.ToLower(k))
			if r.shouldMask(p, k) {
				out[k] = maskValue(val)
				continue
			}
			out[k] = r.walk(val, p)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = r.walk(e, path)
		}
		return out
	default:
		return v
	}
}

// shouldMask decides whether the value at path must be masked, either by
// an explicit path rule or by a sensitive fragment in the key.
func (r *Redactor) shouldMask(path []string, key string) bool {
	for _, rule := range r.paths {
		if rule.subtree {
			if hasPrefix(path, rule.segments) {
				return true
			}
			continue
		}
		if equal(path, rule.segments) {
			return true
		}
	}
	lower := strings.ToLower(key)
	for _, f := range r.fragments {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

// maskValue masks a leaf. String values presented as "<scheme> <cred>"
// with a known auth scheme keep the scheme prefix; containers are
// replaced wholesale.
func maskValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return mask
	}
	scheme, _, found := strings.Cut(s, " ")
	if found && authSchemes[strings.ToLower(scheme)] {
		return scheme + " " + mask
	}
	return mask
}

func hasPrefix(path, prefix []string) bool {
	if len(path) < len(prefix) {
		return false
	}
	return equal(path[:len(prefix)], prefix)
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
