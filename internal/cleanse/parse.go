package cleanse

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// affirmative values map to true. Everything else, including null and
// unrecognised text, maps to false.
var affirmative = map[string]bool{
	"yes":  true,
	"true": true,
	"1":    true,
	"t":    true,
	"y":    true,
}

// TrimKey trims a business key. The second return is false when the key is
// null or empty after trimming.
func TrimKey(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	k := strings.TrimSpace(*s)
	return k, k != ""
}

// TitleCase trims s and title-cases it word by word: the first character of
// each space-separated token is upper-cased and the remainder lower-cased.
// Empty tokens are discarded, so runs of spaces collapse.
func TitleCase(s string) string {
	// Casers are stateful and must not be shared across goroutines.
	upper, lower := cases.Upper(language.Und), cases.Lower(language.Und)
	parts := strings.Split(strings.TrimSpace(s), " ")
	words := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		_, n := utf8.DecodeRuneInString(p)
		words = append(words, upper.String(p[:n])+lower.String(p[n:]))
	}
	return strings.Join(words, " ")
}

// ParseBool canonicalizes a free-text boolean. It never fails.
func ParseBool(s *string) bool {
	if s == nil {
		return false
	}
	return affirmative[strings.ToLower(strings.TrimSpace(*s))]
}

// ParseAmount parses a monetary amount, stripping thousands separators and
// whitespace. An unparsable or missing value yields an invalid NullDecimal.
func ParseAmount(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	v := strings.ReplaceAll(strings.TrimSpace(*s), ",", "")
	v = strings.ReplaceAll(v, " ", "")
	if v == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// normalizeType trims and lower-cases an account type.
func normalizeType(s *string) string {
	if s == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*s))
}
