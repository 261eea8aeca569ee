package importer

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/agentworkforce/mdtabs/internal/naming"
)

// ExportName picks the exported file name: the explicit name, then the
// active file's name, then the default.
func ExportName(fileName, activeName string) string {
	for _, candidate := range []string{fileName, activeName} {
		if name := filepath.Base(strings.TrimSpace(candidate)); name != "" && name != "." && name != string(filepath.Separator) {
			return name
		}
	}
	return naming.DefaultName
}

// Export writes content into dir and returns the written path. Blank
// content is refused.
func Export(dir, content, fileName, activeName string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, ExportName(fileName, activeName))
	if err := atomic.WriteFile(path, strings.NewReader(content)); err != nil {
		return "", err
	}
	return path, nil
}
