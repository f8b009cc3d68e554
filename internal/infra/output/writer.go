package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	domain "github.com/swingft/console-llm/internal/domain/analysis"
)

// Writer persists records and summaries as pretty-printed JSON files in the
// run's output directory: one <base>_<mode>.json per record plus a
// summary_<mode>.json. The sensitive pass additionally gets a flat
// sensitive_id.txt so downstream tooling can consume the identifier list
// without a JSON parser.
type Writer struct {
	dir string
}

func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

func (w *Writer) WriteRecord(rec domain.Record) (string, error) {
	base := strings.TrimSuffix(filepath.Base(rec.FilePath), ".swift")
	path := filepath.Join(w.dir, fmt.Sprintf("%s_%s.json", base, rec.Mode))
	return path, writeJSON(path, rec)
}

func (w *Writer) WriteSummary(sum domain.Summary) (string, error) {
	path := filepath.Join(w.dir, fmt.Sprintf("summary_%s.json", sum.Mode))
	if err := writeJSON(path, sum); err != nil {
		return "", err
	}
	if sum.Mode == domain.ModeSensitive {
		if err := w.writeIdentifierList(sum.UniqueIdentifiers); err != nil {
			return "", err
		}
	}
	return path, nil
}

// writeIdentifierList writes one identifier per line. The file is created
// even when the list is empty.
func (w *Writer) writeIdentifierList(ids []string) error {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte('\n')
	}
	path := filepath.Join(w.dir, "sensitive_id.txt")
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
