// Package wire reads loosely-typed gateway JSON that arrives with either
// PascalCase or camelCase keys.
package wire

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Get returns the first field of r present under any of names. Each name is
// also tried with its first letter flipped and fully lower-cased, so "Chat"
// matches "chat" and "PushName" matches "pushName".
func Get(r gjson.Result, names ...string) gjson.Result {
	if !r.IsObject() {
		return gjson.Result{}
	}
	for _, name := range names {
		for _, key := range Casings(name) {
			if f := r.Get(escape(key)); f.Exists() && f.Type != gjson.Null {
				return f
			}
		}
	}
	return gjson.Result{}
}

// Str returns the string form of the first present field, or "".
func Str(r gjson.Result, names ...string) string {
	f := Get(r, names...)
	if !f.Exists() || f.IsObject() || f.IsArray() {
		return ""
	}
	return f.String()
}

// Int returns the integer form of the first present field, or 0.
// Numeric strings (protobuf 64-bit fields) are parsed.
func Int(r gjson.Result, names ...string) int64 {
	return Get(r, names...).Int()
}

// Float returns the float form of the first present field, or 0.
func Float(r gjson.Result, names ...string) float64 {
	return Get(r, names...).Float()
}

// Bool returns the boolean form of the first present field, or false.
func Bool(r gjson.Result, names ...string) bool {
	return Get(r, names...).Bool()
}

// Path walks nested objects, resolving each segment with Get.
func Path(r gjson.Result, segments ...string) gjson.Result {
	cur := r
	for _, seg := range segments {
		cur = Get(cur, seg)
		if !cur.Exists() {
			return cur
		}
	}
	return cur
}

// Casings lists the spellings tried for a key, original first.
func Casings(name string) []string {
	out := []string{name}
	add := func(s string) {
		for _, existing := range out {
			if existing == s {
				return
			}
		}
		out = append(out, s)
	}
	add(LowerFirst(name))
	add(UpperFirst(name))
	add(strings.ToLower(name))
	return out
}

// LowerFirst lower-cases the first rune of s.
func LowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsLower(r) {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}

// UpperFirst upper-cases the first rune of s.
func UpperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

var pathEscaper = strings.NewReplacer(
	`\`, `\\`, ".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`, "!", `\!`,
)

// escape makes a literal key safe to use as a gjson path.
func escape(key string) string {
	return pathEscaper.Replace(key)
}
