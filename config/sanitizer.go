package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// maxPathLength caps any configured filesystem path, grounded on
// ofelia/config/command_validator.go's 4096-byte file path cap.
const maxPathLength = 4096

// sensitivePrefixes mirrors ofelia/config/command_validator.go's blocked
// directory list: tauproxy never needs to bind a socket or write profile
// data under any of these.
var sensitivePrefixes = []string{"/etc/", "/proc/", "/sys/", "/dev/"}

// Sanitizer validates the filesystem paths supplied via -u/-P before they
// are used to bind a socket or create a directory (the --config path is
// not checked), grounded on
// ofelia/config/sanitizer.go's ValidatePath.
type Sanitizer struct {
	pathTraversalPattern *regexp.Regexp
}

// NewSanitizer creates a Sanitizer with its validation patterns compiled.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		pathTraversalPattern: regexp.MustCompile(`\.\.[\\/]|\.\.%2[fF]|%2e%2e`),
	}
}

// ValidatePath rejects NUL bytes, directory traversal sequences, paths into
// sensitive system directories, and paths exceeding maxPathLength.
func (s *Sanitizer) ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path must not be empty")
	}
	if len(path) > maxPathLength {
		return fmt.Errorf("path exceeds maximum length of %d bytes", maxPathLength)
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("path contains a NUL byte")
	}
	if s.pathTraversalPattern.MatchString(path) {
		return fmt.Errorf("path contains a directory traversal sequence")
	}

	clean := filepath.Clean(path)
	for _, prefix := range sensitivePrefixes {
		if strings.HasPrefix(clean, prefix) {
			return fmt.Errorf("path targets a sensitive system directory: %s", clean)
		}
	}
	return nil
}

// metricNamePattern allows 1 to 299 printable ASCII characters, so it
// screens out control characters, NUL and non-ASCII bytes.
var metricNamePattern = regexp.MustCompile(`^[[:print:]]{1,299}$`)

// ValidateMetricName backs the custom "metricname" validator tag registered
// on this package's validator; no Config field carries that tag.
func ValidateMetricName(name string) bool {
	return metricNamePattern.MatchString(name)
}

func init() {
	_ = structValidator.RegisterValidation("metricname", func(fl validator.FieldLevel) bool {
		return ValidateMetricName(fl.Field().String())
	})
}
