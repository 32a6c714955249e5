// Package parser extracts vehicle-sale facts from free listing text and
// canonicalizes brand and model names.
//
// Everything here is a pure function of its input. Missing facts come back
// as nil pointers with a lower confidence, never as errors or zero values.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/types"
)

// digit groups may be separated by a dot, a comma or a (narrow) space
const number = `(\d{1,3}(?:[.,\x{0020}\x{00a0}\x{202f}]\d{3})+|\d+)`

var (
	// thousands-separated or plain digits followed by the euro sign
	priceBeforeSign = regexp.MustCompile(`(?:^|[^\d.,])` + number + `(?:[.,]\d{1,2})?[\s\x{00a0}]?€`)
	// euro sign or EUR followed by digits
	priceAfterSign = regexp.MustCompile(`(?i)(?:€|\beur\b)[\s\x{00a0}]?` + number + `\b`)
	// digits followed by the word euros
	priceWord = regexp.MustCompile(`(?i)(?:^|[^\d.,])` + number + `(?:[.,]\d{1,2})?[\s\x{00a0}]?(?:euros?|eur)\b`)

	pricePatterns = []*regexp.Regexp{priceBeforeSign, priceAfterSign, priceWord}

	mileagePattern = regexp.MustCompile(`(?i)(?:^|[^\d.,])` + number + `[\s\x{00a0}]?(?:kms?|kil[oó]metros?)\b`)

	yearPattern = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	unitAfter   = regexp.MustCompile(`(?i)^[\s\x{00a0}]?(?:€|eur|kms?\b|kil[oó]m|[.,]\d{3})`)
	signBefore  = regexp.MustCompile(`(?:€|[.,])[\s\x{00a0}]?$`)
)

// Condition synonyms, folded. Qualified phrases are checked first so
// "como nuevo" (like new) does not read as a new vehicle.
var (
	likeNewPhrases = []string{"como nuevo", "como nueva", "casi nuevo", "casi nueva", "like new", "as new"}
	newSynonyms    = []string{"nuevo", "nueva", "new", "brand new", "sin matricular", "unregistered", "a estrenar", "0 km", "0km", "km 0", "km0", "kilometro cero"}
	usedSynonyms   = []string{"usado", "usada", "used", "segunda mano", "ocasion", "seminuevo", "seminueva"}
)

// PriceBounds is the plausible price range for the vehicle category
type PriceBounds struct {
	Min int
	Max int
}

// DefaultPriceBounds covers motorhomes and campervans
func DefaultPriceBounds() PriceBounds {
	return PriceBounds{Min: 1000, Max: 500000}
}

// Contains reports whether v lies within the bounds, inclusive
func (b PriceBounds) Contains(v int) bool {
	return v >= b.Min && v <= b.Max
}

// FactParser extracts price, mileage, year, brand and condition from text
type FactParser struct {
	bounds PriceBounds
	brands *BrandDictionary
}

// NewFactParser returns a parser bounded to the given price range
func NewFactParser(bounds PriceBounds) *FactParser {
	return &FactParser{bounds: bounds, brands: defaultDictionary}
}

// Confidence contributions of each extracted field
const (
	confidencePrice     = 35
	confidenceYear      = 25
	confidenceMileage   = 20
	confidenceBrand     = 10
	confidenceCondition = 10
)

// Parse never fails; fields it cannot find stay nil.
func (p *FactParser) Parse(text string) models.ExtractedFacts {
	var facts models.ExtractedFacts

	if v, ok := p.ExtractPrice(text); ok {
		facts.Price = &v
		facts.Confidence += confidencePrice
	}
	if v, ok := ExtractMileage(text); ok {
		facts.Mileage = &v
		facts.Confidence += confidenceMileage
	}
	if v, ok := ExtractYear(text); ok {
		facts.Year = &v
		facts.Confidence += confidenceYear
	}
	if b, ok := p.brands.Find(text); ok {
		facts.BrandGuess = &b
		facts.Confidence += confidenceBrand
	}
	if c := ClassifyCondition(text); c != types.ConditionUnknown {
		facts.Condition = c
		facts.Confidence += confidenceCondition
	}
	if facts.Confidence > 100 {
		facts.Confidence = 100
	}
	return facts
}

// ExtractPrice tries each currency pattern in turn; the first in-bound match wins.
func (p *FactParser) ExtractPrice(text string) (int, bool) {
	for _, re := range pricePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			v, ok := parseAmount(m[1])
			if ok && p.bounds.Contains(v) {
				return v, true
			}
		}
	}
	return 0, false
}

// ExtractMileage returns the first number followed by a distance unit
func ExtractMileage(text string) (int, bool) {
	m := mileagePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return parseAmount(m[1])
}

// ExtractYear returns the first 19xx/20xx token that is not part of a price,
// a mileage or a separated number.
func ExtractYear(text string) (int, bool) {
	for _, idx := range yearPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := idx[2], idx[3]
		if unitAfter.MatchString(text[end:]) || signBefore.MatchString(text[:start]) {
			continue
		}
		v, err := strconv.Atoi(text[start:end])
		if err == nil {
			return v, true
		}
	}
	return 0, false
}

// ClassifyCondition maps condition wording to a canonical label
func ClassifyCondition(text string) types.Condition {
	folded := []rune(strings.Join(strings.Fields(Fold(text)), " "))
	if len(folded) == 0 {
		return types.ConditionUnknown
	}

	likeNew := false
	for _, phrase := range likeNewPhrases {
		needle := []rune(phrase)
		for i := indexWord(folded, needle, 0); i >= 0; i = indexWord(folded, needle, i+1) {
			likeNew = true
			for k := range needle {
				folded[i+k] = ' '
			}
		}
	}

	for _, syn := range newSynonyms {
		if indexWord(folded, []rune(syn), 0) >= 0 {
			return types.ConditionNew
		}
	}
	if likeNew {
		return types.ConditionUsed
	}
	for _, syn := range usedSynonyms {
		if indexWord(folded, []rune(syn), 0) >= 0 {
			return types.ConditionUsed
		}
	}
	return types.ConditionUnknown
}

// parseAmount drops separators and converts the remaining digits
func parseAmount(s string) (int, bool) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
	if digits == "" || len(digits) > 12 {
		return 0, false
	}
	v, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return v, true
}
