package store

import (
	"regexp"

	"github.com/hrygo/polystore/internal/storeerr"
)

var indexNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIndexName reports whether name is usable as an index name on every
// backend.
func ValidIndexName(name string) bool {
	return indexNamePattern.MatchString(name)
}

// ValidateIndex checks the parts of a definition every backend depends on.
func ValidateIndex(op string, def *IndexDefinition) error {
	if def == nil {
		return storeerr.User(op, "index definition is required")
	}
	if !ValidIndexName(def.Name) {
		return storeerr.Userf(op, "invalid index name %q", def.Name).With("index", def.Name)
	}
	if def.Table == "" || len(def.Columns) == 0 {
		return storeerr.Userf(op, "index %s needs a table and at least one column", def.Name).With("index", def.Name)
	}
	return nil
}
