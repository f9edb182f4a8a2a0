package sqlitestore

import "strings"

// isUniqueViolation recognizes modernc.org/sqlite's error text for a unique
// constraint failure. The driver does not expose typed error codes the way
// mattn/go-sqlite3 does, so this is a best-effort string match, scoped to the
// one failure mode the Store's Conflict mapping needs.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
