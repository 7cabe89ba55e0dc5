package sandbox

import (
	"fmt"
	"regexp"
)

// importPattern matches a line that starts with an import statement or an
// `export * from` re-export. This
// host-side sandbox has no module resolver at all — unlike the scraper
// worker's allowlist (spec.md §4.4), which permits a configured set —
// so every import is forbidden here; configurator/extractor/formatter
// scripts are pure expressions over their bound context.
var importPattern = regexp.MustCompile(`(?m)^\s*(import\s|export\s+\*\s+from)`)

func rejectImports(source string) error {
	if loc := importPattern.FindStringIndex(source); loc != nil {
		return fmt.Errorf("forbidden import at offset %d", loc[0])
	}
	return nil
}
