package extractor

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrUnsupportedFormat = errors.New("unsupported file format")

// ExtractText pulls the plain text out of a stored submission so it can be
// handed to the grader. Dispatch is by extension, matching how the files were
// accepted at upload time.
func ExtractText(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(path)
	case ".docx":
		return extractDocx(path)
	case ".txt", ".md", ".py", ".java", ".cpp", ".c", ".js", ".html", ".css", ".json", ".xml":
		return extractPlain(path)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}
