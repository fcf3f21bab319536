// Package files is the thin filesystem edge used for chat attachments
// and UI-driven file writes. Policy (which paths are allowed) lives with
// the callers; this package only moves bytes.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"
)

// maxReadSize caps attachment reads. Inlining more than this into a
// prompt blows the context window anyway.
const maxReadSize = 2 * 1024 * 1024

// ReadText reads a file as UTF-8 text for prompt inlining. Binary
// content and oversized files are rejected.
func ReadText(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("reading %s: is a directory", path)
	}
	if info.Size() > maxReadSize {
		return "", fmt.Errorf("reading %s: file too large (%d bytes)", path, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("reading %s: not valid UTF-8 text", path)
	}
	return string(data), nil
}

// WriteFile writes content, creating parent directories as needed.
func WriteFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
