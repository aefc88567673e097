package match

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/timeax/fortiplugin/internal/permission"
)

// File decides whether a filesystem operation is covered by a file
// grant. Containment in the sandbox root is verified lexically before
// any symlink resolution, so `..` traversal can never escape even when
// the path does not exist. When the grant opts into symlink following,
// resolved real paths are re-verified, falling back to the lexical form
// if resolution fails.
func File(spec permission.FileSpec, req permission.FileRequest) (bool, string) {
	if !spec.Access {
		return false, permission.ReasonAccessDisabled
	}
	if len(spec.Actions) > 0 && !containsFold(spec.Actions, req.Action) {
		return false, permission.ReasonActionNotAllowed
	}

	root := LexicalNormalize(spec.BaseDir)
	if root == "/" || root == "" || root == "." {
		return false, permission.ReasonInvalidSandboxRoot
	}

	full, ok := Contain(root, req.Path)
	if !ok {
		return false, permission.ReasonSandboxEscape
	}

	if spec.FollowSymlinks {
		if !realContain(root, full) {
			return false, permission.ReasonSandboxEscape
		}
	}

	if len(spec.Patterns) > 0 {
		rel := strings.TrimPrefix(strings.TrimPrefix(full, root), "/")
		if !matchAnyPattern(spec.Patterns, rel) {
			return false, permission.ReasonPathNotAllowed
		}
	}
	return true, ""
}

// LexicalNormalize cleans a path purely lexically: separators unified,
// `.` and `..` collapsed, trailing slash dropped. No filesystem access.
func LexicalNormalize(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return path.Clean(filepath.ToSlash(p))
}

// Contain joins candidate onto root (when relative), normalizes it, and
// reports whether the result stays inside root. It returns the
// normalized full path.
func Contain(root, candidate string) (string, bool) {
	c := filepath.ToSlash(strings.TrimSpace(candidate))
	var full string
	if path.IsAbs(c) {
		full = path.Clean(c)
	} else {
		full = path.Clean(root + "/" + c)
	}
	if full == root || strings.HasPrefix(full, root+"/") {
		return full, true
	}
	return full, false
}

// realContain resolves symlinks on both root and candidate and
// re-verifies containment. Paths that cannot be resolved (missing files,
// permission errors) keep their lexical form, which was already
// verified.
func realContain(root, full string) bool {
	realRoot, err := filepath.EvalSymlinks(filepath.FromSlash(root))
	if err != nil {
		realRoot = root
	}
	realFull, err := filepath.EvalSymlinks(filepath.FromSlash(full))
	if err != nil {
		realFull = full
	}
	realRoot = filepath.ToSlash(realRoot)
	realFull = filepath.ToSlash(realFull)
	return realFull == realRoot || strings.HasPrefix(realFull, realRoot+"/")
}

func matchAnyPattern(patterns []string, rel string) bool {
	for _, p := range patterns {
		re, err := CompilePattern(p)
		if err != nil {
			continue
		}
		if re.MatchString(rel) {
			return true
		}
	}
	return false
}
