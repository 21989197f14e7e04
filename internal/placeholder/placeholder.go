// Package placeholder expands $TOKEN and ${TOKEN} references inside resolved
// configuration values.
//
// Expansion is a single pass: fields are visited in the order given and, per
// field, tokens in table order. Each token is replaced with the value its
// source key holds at that moment, so a field listed earlier is already
// expanded when a later field references it. A value that still contains a
// token after replacement is left as is.
package placeholder

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Entry binds a token to the configuration key holding its value.
type Entry struct {
	Token string
	Key   string
}

// Table is an insertion ordered list of placeholder entries.
type Table []Entry

// With returns a copy of t with entries appended. An entry whose token is
// already present replaces it in place.
func (t Table) With(entries ...Entry) Table {
	out := slices.Clone(t)
	for _, entry := range entries {
		if i := slices.IndexFunc(out, func(e Entry) bool { return e.Token == entry.Token }); i >= 0 {
			out[i] = entry
			continue
		}
		out = append(out, entry)
	}
	return out
}

// Tokens returns the tokens of t in order.
func (t Table) Tokens() []string {
	out := make([]string, len(t))
	for i, entry := range t {
		out[i] = entry.Token
	}
	return out
}

// Field describes a key that accepts placeholders.
type Field struct {
	Key string
	// Path makes the value absolute, relative to the root, after expansion.
	Path bool
	// MapKeys expands the keys of a map value instead of its values.
	MapKeys bool
}

// Skip records a token that was present in a field but had no value to
// substitute.
type Skip struct {
	Field string
	Token string
}

func (s Skip) String() string {
	return fmt.Sprintf("%s: $%s", s.Field, s.Token)
}

// Result is the outcome of Substitute.
type Result struct {
	Values  map[string]any
	Skipped []Skip
}

// Substitute expands placeholders in every field of values and returns a new
// map; values itself is not modified. Supported value kinds are string,
// []string and map[string]string; other kinds pass through untouched.
func Substitute(values map[string]any, fields []Field, table Table, root string) Result {
	out := clone(values)
	var skipped []Skip

	for _, field := range fields {
		current, ok := out[field.Key]
		if !ok || current == nil {
			continue
		}

		for _, entry := range table {
			if !mentions(current, entry.Token, field.MapKeys) {
				continue
			}
			replacement, ok := text(out[entry.Key])
			if !ok || replacement == "" {
				skipped = append(skipped, Skip{Field: field.Key, Token: entry.Token})
				continue
			}
			current = apply(current, field.MapKeys, func(s string) string {
				return Replace(s, entry.Token, replacement)
			})
		}

		if field.Path {
			current = apply(current, false, func(s string) string {
				return Absolute(s, root)
			})
		}
		out[field.Key] = current
	}

	return Result{Values: out, Skipped: skipped}
}

// Replace substitutes both ${token} and $token in s. The bare form only
// matches when the token is not followed by an identifier character, so $ARCH
// leaves $ARCH_TRIPLET alone.
func Replace(s, token, value string) string {
	s = strings.ReplaceAll(s, "${"+token+"}", value)

	needle := "$" + token
	if !strings.Contains(s, needle) {
		return s
	}

	var builder strings.Builder
	rest := s
	for {
		i := strings.Index(rest, needle)
		if i < 0 {
			builder.WriteString(rest)
			break
		}
		end := i + len(needle)
		builder.WriteString(rest[:i])
		if end < len(rest) && isIdent(rest[end]) {
			builder.WriteString(needle)
		} else {
			builder.WriteString(value)
		}
		rest = rest[end:]
	}
	return builder.String()
}

// Contains reports whether s references token in either form.
func Contains(s, token string) bool {
	if strings.Contains(s, "${"+token+"}") {
		return true
	}
	needle := "$" + token
	for rest := s; ; {
		i := strings.Index(rest, needle)
		if i < 0 {
			return false
		}
		end := i + len(needle)
		if end >= len(rest) || !isIdent(rest[end]) {
			return true
		}
		rest = rest[end:]
	}
}

// Absolute makes path absolute relative to root. Empty values and values that
// still start with an unresolved placeholder are returned unchanged.
func Absolute(path, root string) string {
	if path == "" || strings.HasPrefix(path, "$") {
		return path
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(root, path)
}

func isIdent(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func mentions(value any, token string, mapKeys bool) bool {
	switch v := value.(type) {
	case string:
		return Contains(v, token)
	case []string:
		return slices.ContainsFunc(v, func(s string) bool { return Contains(s, token) })
	case map[string]string:
		for key, val := range v {
			if (mapKeys && Contains(key, token)) || (!mapKeys && Contains(val, token)) {
				return true
			}
		}
	}
	return false
}

func apply(value any, mapKeys bool, fn func(string) string) any {
	switch v := value.(type) {
	case string:
		return fn(v)
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = fn(s)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(v))
		for key, val := range v {
			if mapKeys {
				out[fn(key)] = val
			} else {
				out[key] = fn(val)
			}
		}
		return out
	default:
		return value
	}
}

func text(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case int:
		return strconv.Itoa(v), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}

func clone(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for key, value := range values {
		switch v := value.(type) {
		case []string:
			out[key] = slices.Clone(v)
		case map[string]string:
			out[key] = maps.Clone(v)
		default:
			out[key] = v
		}
	}
	return out
}
