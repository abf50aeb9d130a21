package scanner

import (
	"path"
	"path/filepath"
	"strings"
)

// FindScripts resolves a server-supplied path hint to zero, one, or many
// scanned files: normalize and try an exact suffix match first, then
// fall back to fuzzy matching. appPathRelativeToRepository, when the
// hint is rooted under it, rebases the hint into the scanner's working
// directory before matching — e.g. hint "/app/src/foo.js" with
// appPathRelativeToRepository "app" becomes "src/foo.js" relative to root.
func (s *Scanner) FindScripts(pathHint, appPathRelativeToRepository string) []string {
	hint := normalizeSeparators(pathHint)

	if appPathRelativeToRepository != "" {
		prefix := normalizeSeparators(appPathRelativeToRepository)
		prefix = strings.TrimPrefix(prefix, "/")
		trimmedHint := strings.TrimPrefix(hint, "/")
		if trimmedHint == prefix || strings.HasPrefix(trimmedHint, prefix+"/") {
			hint = strings.TrimPrefix(trimmedHint, prefix)
			hint = strings.TrimPrefix(hint, "/")
		}
	}

	if matches := s.exactSuffixMatches(hint); len(matches) > 0 {
		return matches
	}

	return s.FindScriptsFuzzy(hint)
}

// FindScriptsFuzzy implements the suffix-then-unique-basename fallback
// independent of any appPathRelativeToRepository rebasing, operating
// directly over the scanner's recorded file set.
func (s *Scanner) FindScriptsFuzzy(pathHint string) []string {
	hint := normalizeSeparators(pathHint)

	if matches := s.exactSuffixMatches(hint); len(matches) > 0 {
		return matches
	}

	base := path.Base(hint)
	var basenameMatches []string
	for _, p := range s.Paths() {
		if path.Base(p) == base {
			basenameMatches = append(basenameMatches, p)
		}
	}

	// Unique across the file set means exactly one file carries this
	// basename; zero or multiple both resolve to "no match".
	if len(basenameMatches) != 1 {
		return nil
	}

	return basenameMatches
}

func (s *Scanner) exactSuffixMatches(hint string) []string {
	var out []string
	for _, p := range s.Paths() {
		if p == hint || strings.HasSuffix(p, "/"+hint) {
			out = append(out, p)
		}
	}
	return out
}

// normalizeSeparators canonicalizes path separators without ever treating
// "." in the hint as a regex metacharacter (this is pure string handling,
// no regex involved, by construction).
func normalizeSeparators(p string) string {
	return filepath.ToSlash(path.Clean(strings.ReplaceAll(p, `\`, "/")))
}
