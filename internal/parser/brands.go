package parser

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// knownBrands holds canonical casings. Campervan and motorhome converters come
// first, then the chassis makers they build on.
var knownBrands = []string{
	"Adria", "Autostar", "Benimar", "Bürstner", "Carado", "Carthago", "Challenger",
	"Chausson", "Dethleffs", "Elnagh", "Etrusco", "Eura Mobil", "Fendt", "Font Vendôme",
	"Frankia", "Giottiline", "Globecar", "Hobby", "Hymer", "Knaus", "La Strada", "Laika",
	"LMC", "Malibu", "McLouis", "Mobilvetta", "Niesmann+Bischoff", "Pilote", "Pössl",
	"Rapido", "Rimor", "Roller Team", "Sunlight", "Tabbert", "Weinsberg", "Westfalia",
	"Citroën", "Fiat", "Ford", "Iveco", "MAN", "Mercedes-Benz", "Nissan", "Opel",
	"Peugeot", "Renault", "Toyota", "Volkswagen",
}

// brandAliases maps common shorthands to a canonical brand
var brandAliases = map[string]string{
	"vw":          "Volkswagen",
	"mercedes":    "Mercedes-Benz",
	"hymer-mobil": "Hymer",
	"roller":      "Roller Team",
	"eura":        "Eura Mobil",
}

// BrandDictionary resolves brand mentions against a fixed list of names
type BrandDictionary struct {
	canonical map[string]string // folded key -> canonical casing
	keys      [][]rune          // folded keys, longest first
}

// NewBrandDictionary builds a dictionary from canonical names and folded aliases
func NewBrandDictionary(brands []string, aliases map[string]string) *BrandDictionary {
	d := &BrandDictionary{canonical: make(map[string]string, len(brands)+len(aliases))}
	for _, b := range brands {
		d.canonical[Fold(b)] = b
	}
	for alias, b := range aliases {
		d.canonical[Fold(alias)] = b
	}
	for k := range d.canonical {
		d.keys = append(d.keys, []rune(k))
	}
	sort.Slice(d.keys, func(i, j int) bool {
		if len(d.keys[i]) != len(d.keys[j]) {
			return len(d.keys[i]) > len(d.keys[j])
		}
		return string(d.keys[i]) < string(d.keys[j])
	})
	return d
}

var defaultDictionary = NewBrandDictionary(knownBrands, brandAliases)

// DefaultDictionary returns the built-in brand dictionary
func DefaultDictionary() *BrandDictionary { return defaultDictionary }

type brandMatch struct {
	brand      string
	start, end int // rune offsets into the searched text
}

// find returns the earliest whole-word brand mention; at equal positions the
// longer key wins so "Mercedes-Benz" beats "Mercedes".
func (d *BrandDictionary) find(text string) (brandMatch, bool) {
	hay := foldRunes(text)
	best := brandMatch{start: -1}
	for _, key := range d.keys {
		i := indexWord(hay, key, 0)
		if i < 0 {
			continue
		}
		if best.start < 0 || i < best.start {
			best = brandMatch{brand: d.canonical[string(key)], start: i, end: i + len(key)}
		}
	}
	return best, best.start >= 0
}

// Find returns the canonical brand mentioned in text, if any
func (d *BrandDictionary) Find(text string) (string, bool) {
	m, ok := d.find(text)
	return m.brand, ok
}

// Canonical returns the documented casing of a known brand, or title-cases an unknown one
func (d *BrandDictionary) Canonical(raw string) string {
	raw = strings.Join(strings.Fields(raw), " ")
	if raw == "" {
		return ""
	}
	if b, ok := d.canonical[Fold(raw)]; ok {
		return b
	}
	return titleSegments(raw)
}

// titleSegments title-cases every whitespace or hyphen delimited segment
func titleSegments(s string) string {
	caser := cases.Title(language.Und)
	var b strings.Builder
	seg := make([]rune, 0, len(s))
	flush := func() {
		if len(seg) > 0 {
			b.WriteString(caser.String(string(seg)))
			seg = seg[:0]
		}
	}
	for _, r := range s {
		if unicode.IsSpace(r) || r == '-' {
			flush()
			b.WriteRune(r)
			continue
		}
		seg = append(seg, r)
	}
	flush()
	return b.String()
}

// casing for model tokens: digits or short tokens are codes, the rest are words
func modelTokenCase(tok string) string {
	if strings.IndexFunc(tok, unicode.IsDigit) >= 0 || len([]rune(tok)) <= 3 {
		return cases.Upper(language.Und).String(tok)
	}
	return cases.Title(language.Und).String(tok)
}
