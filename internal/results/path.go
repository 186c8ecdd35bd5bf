package results

import "strings"

// pathChars are the characters gjson/sjson treat as path syntax.
const pathChars = `\.*?|#@!=<>%,:`

// escapeSegment makes a key safe to use as one component of a gjson path.
func escapeSegment(seg string) string {
	if !strings.ContainsAny(seg, pathChars) {
		return seg
	}
	var b strings.Builder
	for _, r := range seg {
		if strings.ContainsRune(pathChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// readPath builds a gjson path from segments.
func readPath(segs []string) string {
	escaped := make([]string, len(segs))
	for i, seg := range segs {
		escaped[i] = escapeSegment(seg)
	}
	return strings.Join(escaped, ".")
}

// writePath builds an sjson path from segments. All-digit segments get the
// ':' prefix so sjson creates object keys instead of array elements.
func writePath(segs []string) string {
	escaped := make([]string, len(segs))
	for i, seg := range segs {
		if isDigits(seg) {
			escaped[i] = ":" + seg
			continue
		}
		escaped[i] = escapeSegment(seg)
	}
	return strings.Join(escaped, ".")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
