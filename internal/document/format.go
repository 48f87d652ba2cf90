package document

import (
	"os"
	"path/filepath"
	"strings"
)

// compoundFormats lists multi-dot suffixes that must be matched before
// falling back to the last extension, per §6's file-format enumeration.
var compoundFormats = map[string]string{
	".jats.xml": "jats",
	".cbor.zst": "cbor.zst",
}

// formatAliases maps a bare last extension to its canonical format name.
var formatAliases = map[string]string{
	"md":  "markdown",
	"yml": "yaml",
	"txt": "text",
}

// ResolveFormat derives the canonical format name for path: a compound
// suffix match first, then the last extension run through the alias table.
func ResolveFormat(path string) string {
	lower := strings.ToLower(path)
	for suffix, format := range compoundFormats {
		if strings.HasSuffix(lower, suffix) {
			return format
		}
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if alias, ok := formatAliases[ext]; ok {
		return alias
	}
	return ext
}

// SidecarPath returns the canonical sidecar path for a document's
// source_path: the same base path with extension ".json", or ".json.zip"
// if that zipped variant is the one already on disk.
func SidecarPath(sourcePath string) string {
	base := strings.TrimSuffix(sourcePath, filepath.Ext(sourcePath))
	if zipPath := base + ".json.zip"; fileExists(zipPath) {
		return zipPath
	}
	return base + ".json"
}

// SidecarExists reports whether a sidecar file already sits next to
// sourcePath.
func SidecarExists(sourcePath string) bool {
	return fileExists(SidecarPath(sourcePath))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
