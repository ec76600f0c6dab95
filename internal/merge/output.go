package merge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mergesched/internal/schedule"
)

// outputPath picks the file the merged document is written to. An explicit
// OutputName in the payload wins; otherwise the template's name gets a
// "Merged_" prefix, with a numeric suffix probed in if that file already
// exists. Never overwrites a prior run's output.
func outputPath(p schedule.Payload) (string, error) {
	dir := filepath.Dir(p.TemplatePath)
	if p.OutputName != "" {
		return filepath.Join(dir, p.OutputName), nil
	}

	base := filepath.Base(p.TemplatePath)
	candidate := filepath.Join(dir, "Merged_"+base)
	if !exists(candidate) {
		return candidate, nil
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for n := 1; ; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("Merged_%s_%d%s", stem, n, ext))
		if !exists(candidate) {
			return candidate, nil
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
