// Package canonical normalizes identity payloads into a deterministic
// form and hashes them into natural keys. Rules that differ only in list
// order or duplicate entries collapse to the same key.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Normalize returns a canonical form of v: scalars pass through, lists
// become unique sorted sequences (numeric sort for numbers, string sort
// otherwise), maps become maps of normalized values, nil stays nil.
// Normalize is idempotent.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		return uniqueStrings(t)
	case []int:
		return uniqueInts(t)
	case []any:
		return normalizeList(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Normalize(val)
		}
		return out
	default:
		return v
	}
}

// Key hashes the canonicalized identity payload into a SHA-256 hex
// natural key. The serialization uses stable key order and no
// locale-dependent formatting, so the key is order-independent for the
// payload's list semantics.
func Key(identity map[string]any) string {
	var buf bytes.Buffer
	writeCanonical(&buf, Normalize(identity))
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// Marshal serializes the canonical form of v. Two payloads with the same
// semantics produce identical bytes; the repository uses this to detect
// identity drift under an existing natural key.
func Marshal(v any) []byte {
	var buf bytes.Buffer
	writeCanonical(&buf, Normalize(v))
	return buf.Bytes()
}

func writeCanonical(buf *bytes.Buffer, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			writeCanonical(buf, t[k])
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, e)
		}
		buf.WriteByte(']')
	case []string:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			eb, _ := json.Marshal(e)
			buf.Write(eb)
		}
		buf.WriteByte(']')
	case []int:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			fmt.Fprintf(buf, "%d", e)
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(t)
		if err != nil {
			// Unencodable values must still serialize deterministically.
			b, _ = json.Marshal(fmt.Sprintf("%v", t))
		}
		buf.Write(b)
	}
}

func uniqueStrings(in []string) []string {
	if in == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func uniqueInts(in []int) []int {
	if in == nil {
		return nil
	}
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, n := range in {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// normalizeList normalizes elements, then dedupes and sorts them.
// Homogeneous number lists sort numerically; everything else sorts by
// canonical serialization.
func normalizeList(in []any) []any {
	norm := make([]any, len(in))
	allNums := true
	for i, e := range in {
		norm[i] = Normalize(e)
		switch norm[i].(type) {
		case int, int64, float64, json.Number:
			// numeric
		default:
			allNums = false
		}
	}
	if allNums {
		sort.Slice(norm, func(i, j int) bool { return numValue(norm[i]) < numValue(norm[j]) })
	} else {
		sort.Slice(norm, func(i, j int) bool {
			return bytes.Compare(Marshal(norm[i]), Marshal(norm[j])) < 0
		})
	}
	out := make([]any, 0, len(norm))
	var prev []byte
	for _, e := range norm {
		b := Marshal(e)
		if prev != nil && bytes.Equal(b, prev) {
			continue
		}
		out = append(out, e)
		prev = b
	}
	return out
}

func numValue(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}
