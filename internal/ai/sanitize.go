package ai

import "strings"

// CleanForModel replaces characters the remote service is known to mishandle
// with a single space: C0/C1 control characters and multi-byte characters in
// the Basic Multilingual Plane above the printable ASCII range. Runes beyond
// U+FFFF pass through untouched.
func CleanForModel(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		switch {
		case r < 0x20 || (r >= 0x7F && r <= 0x9F):
			sb.WriteByte(' ')
		case r > 0x7F && r <= 0xFFFF:
			sb.WriteByte(' ')
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// StripControls removes NUL and C0/C1 control characters from a generated
// result before it is stored or served. Clients replace controls with spaces
// on the way back from the model, so line structure has already been
// flattened by the time this runs.
func StripControls(text string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r >= 0x7F && r <= 0x9F {
			return -1
		}
		return r
	}, text)
}

// CleanResult replaces control characters in model output with spaces.
func CleanResult(text string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r >= 0x7F && r <= 0x9F {
			return ' '
		}
		return r
	}, text)
}
