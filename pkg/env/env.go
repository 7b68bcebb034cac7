// Package env resolves secrets that may be mounted as files.
package env

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// FileSuffix names the companion variable holding a secret's file path
const FileSuffix = "_FILE"

// Secret returns the trimmed contents of the file named by KEY_FILE when that
// variable is set, otherwise the value of KEY. An unreadable file is an error.
func Secret(key string) (string, error) {
	filePath := os.Getenv(key + FileSuffix)
	if filePath == "" {
		return os.Getenv(key), nil
	}
	content, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return "", fmt.Errorf("read %s%s: %w", key, FileSuffix, err)
	}
	return string(bytes.TrimSpace(content)), nil
}

// SecretOr is Secret with a fallback for unset values
func SecretOr(key, fallback string) (string, error) {
	value, err := Secret(key)
	if err != nil {
		return "", err
	}
	if value == "" {
		return fallback, nil
	}
	return value, nil
}
