package discovery

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Finder implements the FileFinder port over the local filesystem.
type Finder struct{}

func (Finder) SwiftFiles(root string) ([]string, error) {
	return SwiftFiles(root)
}

func (Finder) MatchingFiles(root string, identifiers []string) ([]string, error) {
	files, err := SwiftFiles(root)
	if err != nil {
		return nil, err
	}
	return FilterByIdentifiers(files, identifiers), nil
}

// SwiftFiles walks the project root and returns all .swift files in a
// deterministic (sorted) order.
func SwiftFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".swift") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// FilterByIdentifiers keeps only files whose content matches at least one
// identifier pattern. Pattern rules follow the swingft config convention:
// a leading "**" matches every file, a trailing "*" matches any content
// containing the prefix, anything else is a plain substring match.
// Unreadable files are skipped with a warning rather than failing the run.
func FilterByIdentifiers(files, identifiers []string) []string {
	if len(identifiers) == 0 {
		return nil
	}
	var out []string
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			log.Printf("event=file_unreadable file=%s error=%v", file, err)
			continue
		}
		if matchesAny(string(data), identifiers) {
			out = append(out, file)
		}
	}
	return out
}

func matchesAny(content string, identifiers []string) bool {
	for _, id := range identifiers {
		switch {
		case strings.HasPrefix(id, "**"):
			return true
		case strings.HasSuffix(id, "*"):
			if strings.Contains(content, strings.TrimSuffix(id, "*")) {
				return true
			}
		default:
			if strings.Contains(content, id) {
				return true
			}
		}
	}
	return false
}
