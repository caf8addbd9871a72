package extractor

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// extractPlain reads a text file as UTF-8, falling back to Latin-1 when the
// bytes do not form valid UTF-8. Submissions exported from older office
// tooling frequently arrive in Latin-1.
func extractPlain(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read text file: %w", err)
	}

	var text string
	if utf8.Valid(raw) {
		text = string(raw)
	} else {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("decode text file: %w", err)
		}
		text = string(decoded)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("text file is empty")
	}

	return text, nil
}
