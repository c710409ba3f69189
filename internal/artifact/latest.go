package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Latest returns the newest artifact in dir matching prefix and ext.
// Timestamped names sort lexicographically, so the last name wins.
func Latest(dir, prefix, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("artifact: read dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ext) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("artifact: no %s*%s files in %s", prefix, ext, dir)
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]), nil
}
