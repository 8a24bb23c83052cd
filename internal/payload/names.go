package payload

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/atinyakov/GophStego/internal/models"
)

// NormalizeName validates a file name and returns its NFC form.
// Names must be non-empty valid UTF-8, at most MaxNameLen bytes after
// normalization, carry no path separators or NUL bytes, and not be "." or "..".
func NormalizeName(name string) (string, error) {
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("%w: file name is not valid UTF-8", models.ErrInvalidInput)
	}
	n := norm.NFC.String(name)
	if err := validName(n); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	return n, nil
}

func checkStoredName(name string) error {
	if !utf8.ValidString(name) {
		return malformed("stored file name is not valid UTF-8")
	}
	if err := validName(name); err != nil {
		return malformed("stored file name: %v", err)
	}
	return nil
}

func validName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty file name")
	case len(name) > MaxNameLen:
		return fmt.Errorf("file name %q is longer than %d bytes", name, MaxNameLen)
	case name == "." || name == "..":
		return fmt.Errorf("file name %q is reserved", name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("file name %q contains a path separator", name)
	}
	return nil
}
