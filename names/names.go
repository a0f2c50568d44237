// Package names resolves archive-internal account and folder identifiers
// to human-readable display names, with layered fallback when the
// identifier tables are missing or corrupt.
package names

import (
	"os"
	"regexp"
	"strings"
)

const (
	// AccountTableFile is the per-account identifier table.
	AccountTableFile = "ACCT.INI"
	// FolderTableFile is the per-folder identifier table.
	FolderTableFile = "FOLDER.INI"

	accountNameKey = "ACCTNAME"
	folderNameKey  = "FOLDERNAME"

	// maxNameLen keeps resolved names comfortably below filesystem limits.
	maxNameLen = 100
)

var (
	// Table values are NUL padded rather than cleanly delimited. NULs are
	// rewritten to '|' before extraction.
	tablePair = regexp.MustCompile(`([A-Za-z][A-Za-z0-9_.-]*)[|=]+([^|\r\n]+)`)

	illegalChars = regexp.MustCompile(`[\\/*?:"<>|]`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// ParseTable extracts key/value pairs from a raw identifier table. Keys are
// upper-cased; values are trimmed. Garbage in, empty map out, never an error.
func ParseTable(raw []byte) map[string]string {
	text := strings.ReplaceAll(string(raw), "\x00", "|")
	table := make(map[string]string)
	for _, m := range tablePair.FindAllStringSubmatch(text, -1) {
		key := strings.ToUpper(m[1])
		value := strings.TrimSpace(m[2])
		if value == "" {
			continue
		}
		if _, exists := table[key]; !exists {
			table[key] = value
		}
	}
	return table
}

// LoadTable reads and parses the identifier table at path. A missing,
// unreadable or empty table yields an empty map; callers fall back to the
// raw filesystem-derived identifier.
func LoadTable(path string) map[string]string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return map[string]string{}
	}
	return ParseTable(raw)
}

// AccountName extracts the account display name from the table, falling
// back to the sanitized identifier.
func AccountName(table map[string]string, id string) string {
	if name, ok := table[accountNameKey]; ok {
		return Sanitize(name)
	}
	return Sanitize(id)
}

// FolderName extracts the folder display name from the table, falling back
// to the sanitized identifier.
func FolderName(table map[string]string, id string) string {
	if name, ok := table[folderNameKey]; ok {
		return Sanitize(name)
	}
	return Sanitize(id)
}

// strategy is one step of the resolution chain. It reports whether it could
// produce a name for the identifier.
type strategy func(id string) (string, bool)

// Resolver maps folder identifiers to display names. Resolution walks an
// ordered chain: folder table, account table, sanitized raw identifier.
// Immutable after construction; safe for concurrent readers.
type Resolver struct {
	strategies []strategy
}

// NewResolver builds a resolver over the per-folder and per-account tables.
// Either map may be nil.
func NewResolver(folders, account map[string]string) *Resolver {
	return &Resolver{
		strategies: []strategy{
			tableLookup(folders),
			tableLookup(account),
			func(id string) (string, bool) {
				return Sanitize(id), true
			},
		},
	}
}

// Resolve returns the display name for a folder identifier. It is total and
// deterministic: the final strategy always produces a non-empty name.
func (r *Resolver) Resolve(id string) string {
	for _, s := range r.strategies {
		if name, ok := s(id); ok {
			return name
		}
	}
	return Sanitize(id)
}

func tableLookup(table map[string]string) strategy {
	return func(id string) (string, bool) {
		if table == nil {
			return "", false
		}
		name, ok := table[strings.ToUpper(id)]
		if !ok || strings.TrimSpace(name) == "" {
			return "", false
		}
		return Sanitize(name), true
	}
}

// ResolveFolder resolves a folder identifier against its own table first,
// then the owning account's table, then the identifier itself.
func ResolveFolder(folderTable, accountTable map[string]string, id string) string {
	folders := map[string]string{}
	if name, ok := folderTable[folderNameKey]; ok {
		folders[strings.ToUpper(id)] = name
	}
	return NewResolver(folders, accountTable).Resolve(id)
}

// Sanitize makes a name safe for use as a file or directory name: illegal
// characters become underscores, whitespace runs collapse, and the result
// is trimmed and truncated. Never returns an empty string.
func Sanitize(name string) string {
	name = illegalChars.ReplaceAllString(name, "_")
	name = whitespace.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)
	if len(name) > maxNameLen {
		name = strings.TrimSpace(name[:maxNameLen])
	}
	if name == "" || name == "." || name == ".." {
		return "unnamed"
	}
	return name
}
