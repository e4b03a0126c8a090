package account

import (
	"math/rand"
	"regexp"
	"strings"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
)

const numberLength = 12

// Ambiguous glyphs (0, O, 1, I) are excluded so numbers survive transcription.
const numberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var numberPattern = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{12}$`)

// Number is a customer-facing account number.
type Number string

// NumberFromSeed derives an account number deterministically from a seed.
// The same seed always yields the same number, which keeps the opened event
// replayable.
func NumberFromSeed(seed int64) Number {
	rng := rand.New(rand.NewSource(seed))
	var b strings.Builder
	b.Grow(numberLength)
	for i := 0; i < numberLength; i++ {
		b.WriteByte(numberAlphabet[rng.Intn(len(numberAlphabet))])
	}
	return Number(b.String())
}

// ParseNumber validates an externally supplied account number.
func ParseNumber(value string) (Number, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	if !numberPattern.MatchString(normalized) {
		return "", apperrors.WithMetadata(apperrors.CodeAccountNumberInvalid,
			"account number has an invalid format", map[string]string{"number": normalized})
	}
	return Number(normalized), nil
}

func (n Number) String() string {
	return string(n)
}
