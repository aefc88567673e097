// Package match holds the pure, stateless matchers behind each resource
// type's authorization decision: network host/method/port/path matching,
// sandboxed path containment, column-subset policy, and codec primitive
// guarding.
package match

import (
	"fmt"
	"regexp"
	"strings"
)

// regexPrefix marks an explicit regex pattern: re:<delim>pattern<delim>flags.
const regexPrefix = "re:"

// CompilePattern compiles a path pattern. Patterns starting with "re:"
// are explicit regexes with a caller-chosen delimiter and trailing
// flags; everything else is a glob where `*` matches a run of
// non-separator characters, `**` any run including separators, and `?`
// one non-separator character. Globs compile to anchored
// case-insensitive regexes.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if strings.HasPrefix(pattern, regexPrefix) {
		return compileExplicit(pattern)
	}
	return compileGlob(pattern)
}

// IsGlob reports whether the pattern contains glob or regex syntax, as
// opposed to being a plain literal string.
func IsGlob(pattern string) bool {
	return strings.HasPrefix(pattern, regexPrefix) || strings.ContainsAny(pattern, "*?")
}

func compileExplicit(pattern string) (*regexp.Regexp, error) {
	body := pattern[len(regexPrefix):]
	if len(body) < 2 {
		return nil, fmt.Errorf("regex pattern %q: missing delimiter", pattern)
	}
	delim := body[0]
	end := strings.LastIndexByte(body[1:], delim)
	if end < 0 {
		return nil, fmt.Errorf("regex pattern %q: unterminated delimiter %q", pattern, string(delim))
	}
	expr := body[1 : 1+end]
	flags := body[2+end:]

	var mods string
	for _, f := range flags {
		switch f {
		case 'i', 's', 'm':
			mods += string(f)
		default:
			return nil, fmt.Errorf("regex pattern %q: unsupported flag %q", pattern, string(f))
		}
	}
	if mods != "" {
		expr = "(?" + mods + ")" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("regex pattern %q: %w", pattern, err)
	}
	return re, nil
}

func compileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?i)^")
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("glob pattern %q: %w", pattern, err)
	}
	return re, nil
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
