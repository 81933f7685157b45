package parser

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonAlnumRun    = regexp.MustCompile(`[^a-z0-9]+`)
	unsafeSegment  = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
	dashRun        = regexp.MustCompile(`-+`)
	labelSeparator = regexp.MustCompile(`[_-]+`)
	spaceRun       = regexp.MustCompile(`\s+`)
)

// StripDiacritics removes combining marks after NFD decomposition.
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Slugify lower-cases, strips accents and collapses non-alphanumerics to "-".
func Slugify(s string) string {
	s = strings.ToLower(StripDiacritics(s))
	s = nonAlnumRun.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// NormalizeMatch builds the comparison form used for attribute keys and
// option values: accents stripped, lower-cased, "pa_" removed, only [a-z0-9].
func NormalizeMatch(s string) string {
	s = strings.ToLower(StripDiacritics(s))
	s = strings.TrimPrefix(s, "pa_")
	return nonAlnumRun.ReplaceAllString(s, "")
}

// KeyVariants returns the normalized form plus naive singulars.
func KeyVariants(s string) []string {
	normalized := NormalizeMatch(s)
	if normalized == "" {
		return nil
	}
	variants := []string{normalized}
	add := func(v string) {
		if v == "" {
			return
		}
		for _, existing := range variants {
			if existing == v {
				return
			}
		}
		variants = append(variants, v)
	}
	if strings.HasSuffix(normalized, "es") && len(normalized) > 2 {
		add(strings.TrimSuffix(normalized, "es"))
	}
	if strings.HasSuffix(normalized, "s") && len(normalized) > 1 {
		add(strings.TrimSuffix(normalized, "s"))
	}
	return variants
}

// FormatLabel turns "pa_shoe-size" into "Shoe Size".
func FormatLabel(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 3 && strings.EqualFold(s[:3], "pa_") {
		s = s[3:]
	}
	s = labelSeparator.ReplaceAllString(s, " ")
	s = strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
	if s == "" {
		return ""
	}
	words := strings.Fields(s)
	for i, word := range words {
		r := []rune(word)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// SanitizeSegment makes s safe as a single path segment.
func SanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	s = unsafeSegment.ReplaceAllString(s, "-")
	s = dashRun.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "item"
	}
	return s
}

// FirstNonEmpty returns the first value with non-blank text.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
