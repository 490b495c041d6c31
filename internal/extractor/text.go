package extractor

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// extractText reads a plain text file as UTF-8. Content is returned as-is so
// the stored preview matches the original; invalid byte sequences are
// replaced with the Unicode replacement character.
func extractText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read txt: %w", err)
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError)), nil
}
