// Package pathutil holds the path helpers shared by the importer and store
// layers.
package pathutil

import (
	"path/filepath"
	"strings"
)

// NormalizePath converts all path separators to forward slashes. Relative
// paths are stored normalized so records travel between platforms.
func NormalizePath(p string) string {
	return filepath.ToSlash(p)
}

var fileNameSanitizer = strings.NewReplacer(
	"/", "", "\\", "", ":", "", "*", "", "?", "", "\"", "", "<", "", ">", "", "|", "")

// SanitizeFileName strips characters that are invalid in file names on at
// least one supported platform.
func SanitizeFileName(name string) string {
	return strings.TrimSpace(fileNameSanitizer.Replace(name))
}
