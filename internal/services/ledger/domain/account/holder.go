// Package account holds the account aggregate: pure decide and fold
// functions over an immutable state, plus its value objects.
package account

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
)

const (
	holderNameMinLen = 2
	holderNameMaxLen = 80
)

// Letters optionally joined by single spaces, hyphens, or apostrophes.
var holderNamePattern = regexp.MustCompile(`^\p{L}+(?:[ '\-]\p{L}+)*$`)

var holderLetterRun = regexp.MustCompile(`\p{L}+`)

var holderTitleCaser = cases.Title(language.Und)

// Holder is a normalized account holder name.
type Holder string

// NewHolder normalizes and validates a holder name. Whitespace collapses to
// single spaces and words are title-cased.
func NewHolder(name string) (Holder, error) {
	collapsed := strings.Join(strings.Fields(name), " ")
	if len(collapsed) < holderNameMinLen || len(collapsed) > holderNameMaxLen {
		return "", apperrors.WithMetadata(apperrors.CodeAccountHolderNameInvalid,
			"holder name length is out of range", map[string]string{"name": collapsed})
	}
	if !holderNamePattern.MatchString(collapsed) {
		return "", apperrors.WithMetadata(apperrors.CodeAccountHolderNameInvalid,
			"holder name contains invalid characters", map[string]string{"name": collapsed})
	}
	// Title-case every letter run so names like O'Brien and Anne-Marie
	// capitalize after apostrophes and hyphens too.
	normalized := holderLetterRun.ReplaceAllStringFunc(strings.ToLower(collapsed), holderTitleCaser.String)
	return Holder(normalized), nil
}

func (h Holder) String() string {
	return string(h)
}
