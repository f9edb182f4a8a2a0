// Package display formats the snake_case/kebab-case stage and worker-type
// slugs used internally (e.g. "code_review", "qa-verification") into
// human-readable labels for log fields, using
// golang.org/x/text/cases for locale-aware title-casing rather than a
// hand-rolled ASCII upper-first loop.
package display

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// Label converts a slug such as "code_review" or "qa-verification" into
// "Code Review" / "Qa Verification".
func Label(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool {
		return r == '_' || r == '-'
	})
	if len(words) == 0 {
		return slug
	}
	return titleCaser.String(strings.Join(words, " "))
}
