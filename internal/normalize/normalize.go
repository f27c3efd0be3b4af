// Package normalize canonicalises municipality names into comparison keys.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Name is a normalised name plus the canton hint found in the raw input.
type Name struct {
	Key     string
	Canton  string
	Aliased bool // Key came from the alias table
}

// Normalizer turns raw names into keys. The zero value has no aliases.
type Normalizer struct {
	aliases map[string]string
}

// New returns a Normalizer using aliases (informal name to canonical name).
// Alias keys and values are normalised once here.
func New(aliases map[string]string) *Normalizer {
	n := &Normalizer{aliases: make(map[string]string, len(aliases))}
	for from, to := range aliases {
		k := n.clean(from)
		v := n.clean(to)
		if k != "" && v != "" && k != v {
			n.aliases[k] = v
		}
	}
	return n
}

var cantons = map[string]bool{
	"AG": true, "AI": true, "AR": true, "BE": true, "BL": true, "BS": true,
	"FR": true, "GE": true, "GL": true, "GR": true, "JU": true, "LU": true,
	"NE": true, "NW": true, "OW": true, "SG": true, "SH": true, "SO": true,
	"SZ": true, "TG": true, "TI": true, "UR": true, "VD": true, "VS": true,
	"ZG": true, "ZH": true,
}

// IsCanton reports whether s is a Swiss canton abbreviation.
func IsCanton(s string) bool {
	return cantons[strings.ToUpper(strings.TrimSpace(s))]
}

var (
	parenCanton    = regexp.MustCompile(`\(\s*([A-Za-z]{2})\s*\.?\s*\)`)
	trailingCanton = regexp.MustCompile(`[\s,/-]+([A-Z]{2})\.?$`)
	multiSpace     = regexp.MustCompile(`\s+`)
)

type abbreviation struct {
	re   *regexp.Regexp
	repl string
}

// abbreviations are applied in order on the lower-cased name.
var abbreviations = []abbreviation{
	{regexp.MustCompile(`(^|\s)a\.\s*d\.\s*`), " an der "},
	{regexp.MustCompile(`(^|\s)v\.\s*d\.\s*`), " von der "},
	{regexp.MustCompile(`(^|\s)b\.\s*`), " bei "},
	{regexp.MustCompile(`(^|\s)a\.\s*`), " am "},
	{regexp.MustCompile(`(^|\s)u\.\s*`), " und "},
	{regexp.MustCompile(`(^|\s)z\.\s*`), " zur "},
	{regexp.MustCompile(`(^|\s)st\.\s*`), " sankt "},
}

var legalPrefixes = []string{
	"einwohnergemeinde ", "politische gemeinde ", "gemeinde ", "stadt ",
	"commune de ", "commune d ", "commune ", "ville de ", "comune di ", "comune ",
	"vischnanca ", "cumuen ",
}

var legalSuffixes = []string{
	" gemeinde", " stadt", " commune", " comune",
}

// Normalize returns the comparison key of raw.
func (n *Normalizer) Normalize(raw string) string {
	return n.Parse(raw).Key
}

// Parse normalises raw and keeps the canton hint it carried, if any.
func (n *Normalizer) Parse(raw string) Name {
	s, canton := extractCanton(repairParens(strings.TrimSpace(raw)))
	key := n.clean(s)
	name := Name{Key: key, Canton: canton}
	if alias, ok := n.aliases[key]; ok {
		name.Key, name.Aliased = alias, true
	}
	return name
}

// clean is everything except alias substitution.
func (n *Normalizer) clean(s string) string {
	s = strings.ToLower(norm.NFC.String(s))
	s = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss").Replace(s)
	s = stripDiacritics(s)
	s = expandAbbreviations(s)
	s = punctToSpace(s)
	s = strings.TrimSpace(multiSpace.ReplaceAllString(s, " "))
	s = stripLegalForms(s)
	return s
}

// repairParens drops unmatched closing parens and closes open ones.
func repairParens(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			if depth == 0 {
				continue
			}
			depth--
		}
		b.WriteRune(r)
	}
	for ; depth > 0; depth-- {
		b.WriteByte(')')
	}
	return b.String()
}

// extractCanton removes a "(ZH)" group or a trailing upper-case "ZH" and
// returns it separately. Parenthesised groups that are not cantons stay.
func extractCanton(s string) (string, string) {
	var canton string
	s = parenCanton.ReplaceAllStringFunc(s, func(m string) string {
		c := strings.ToUpper(parenCanton.FindStringSubmatch(m)[1])
		if !cantons[c] {
			return m
		}
		canton = c
		return " "
	})
	if canton == "" {
		if m := trailingCanton.FindStringSubmatch(s); m != nil && cantons[m[1]] {
			canton = m[1]
			s = s[:len(s)-len(m[0])]
		}
	}
	return strings.TrimSpace(s), canton
}

func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func expandAbbreviations(s string) string {
	for _, a := range abbreviations {
		s = a.re.ReplaceAllString(s, "$1"+a.repl)
	}
	return s
}

func punctToSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			return r
		}
		return ' '
	}, s)
}

func stripLegalForms(s string) string {
	for _, p := range legalPrefixes {
		if strings.HasPrefix(s, p) && len(s) > len(p) {
			s = s[len(p):]
			break
		}
	}
	for _, suf := range legalSuffixes {
		if strings.HasSuffix(s, suf) && len(s) > len(suf) {
			s = s[:len(s)-len(suf)]
			break
		}
	}
	return s
}
