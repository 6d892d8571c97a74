package util

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
)

var errInvalidName = errors.New("invalid file name")

// SanitizeFileName removes path separators and rejects traversal patterns.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errInvalidName
	}
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "" {
		return "", errInvalidName
	}
	return s, nil
}

// CleanStorageKey normalises a slash-separated object key and rejects keys
// that are absolute or escape the store root.
func CleanStorageKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" || strings.Contains(trimmed, "\\") {
		return "", errors.New("invalid storage key")
	}
	clean := path.Clean(trimmed)
	if clean == "." || strings.HasPrefix(clean, "..") || path.IsAbs(clean) || filepath.IsAbs(clean) {
		return "", errors.New("invalid storage key")
	}
	return clean, nil
}
