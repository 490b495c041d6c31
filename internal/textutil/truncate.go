// Package textutil bounds extracted text before it is handed to the AI
// service or stored as a preview. Lengths are counted in runes so multi-byte
// content is cut at character boundaries.
package textutil

// sentenceBoundary is the fraction of the truncation window after which a
// sentence-ending cut is preferred over a hard cut.
const sentenceBoundary = 0.7

// Truncate bounds text to maxLength runes without breaking mid-sentence when
// avoidable. Inputs within the limit are returned unchanged. Otherwise the
// first maxLength runes form the window; if the last '.', '!' or '?' in the
// window sits at or after 70% of it, the cut lands there (inclusive of the
// punctuation mark), else the full hard cut is kept.
func Truncate(text string, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}

	window := runes[:maxLength]
	lastEnding := -1
	for i, r := range window {
		if r == '.' || r == '!' || r == '?' {
			lastEnding = i
		}
	}
	if lastEnding >= int(sentenceBoundary*float64(maxLength)) {
		return string(window[:lastEnding+1])
	}
	return string(window)
}

// Preview returns the first n runes of text.
func Preview(text string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
