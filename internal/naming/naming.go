package naming

import (
	"fmt"
	"strings"
)

const (
	DefaultName = "bm.md"
	Extension   = ".md"
)

// Record is the part of a file record the naming rules look at.
type Record interface {
	RecordID() string
	RecordName() string
}

var titleReplacer = strings.NewReplacer("*", "", "_", "", "`", "", "[", "", "]", "")

// ExtractTitle returns the text of the first level-one heading in content.
func ExtractTitle(content string) (string, bool) {
	for _, line := range strings.Split(content, "\n") {
		if !strings.HasPrefix(line, "# ") {
			continue
		}
		title := strings.TrimSpace(line[2:])
		title = strings.TrimSpace(titleReplacer.Replace(title))
		if title == "" {
			return "", false
		}
		return title, true
	}
	return "", false
}

func Normalize(name string) string {
	normalized := strings.TrimSpace(name)
	if normalized == "" {
		normalized = DefaultName
	}
	if !hasExtension(normalized) {
		normalized += Extension
	}
	return normalized
}

// EnsureUnique normalizes name and, when it collides case-insensitively with a
// record other than excludeID, appends the smallest free " (n)" suffix.
func EnsureUnique[R Record](name string, records []R, excludeID string) string {
	normalized := Normalize(name)
	existing := make(map[string]struct{}, len(records))
	for _, record := range records {
		if excludeID != "" && record.RecordID() == excludeID {
			continue
		}
		existing[strings.ToLower(record.RecordName())] = struct{}{}
	}
	if _, taken := existing[strings.ToLower(normalized)]; !taken {
		return normalized
	}
	base := normalized[:len(normalized)-len(Extension)]
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, Extension)
		if _, taken := existing[strings.ToLower(candidate)]; !taken {
			return candidate
		}
	}
}

func hasExtension(name string) bool {
	return len(name) >= len(Extension) && strings.EqualFold(name[len(name)-len(Extension):], Extension)
}
