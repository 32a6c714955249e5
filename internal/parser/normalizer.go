package parser

import (
	"regexp"
	"strings"
	"unicode"
)

// Unknown is the placeholder brand or model when nothing could be recognized
const Unknown = "Unknown"

// BrandModel is the normalizer's canonical reading of a listing
type BrandModel struct {
	Brand      string `json:"brand"`
	Model      string `json:"model"`
	Confidence int    `json:"confidence"`
}

const (
	confidenceTitle    = 80
	confidenceSnippet  = 60
	confidenceFallback = 30
	confidenceModel    = 10
	maxModelTokens     = 4
	minFallbackRunes   = 3
)

var (
	// listing titles often append the site name or a location after a separator
	modelSeparators = []string{" | ", " - ", " – ", " — ", " · ", " / "}

	modelPriceToken   = regexp.MustCompile(`(?i)(?:€[\s\x{00a0}]?` + number + `|` + number + `(?:[.,]\d{1,2})?[\s\x{00a0}]?(?:€|euros?\b|eur\b))`)
	modelMileageToken = regexp.MustCompile(`(?i)` + number + `[\s\x{00a0}]?(?:kms?|kil[oó]metros?)\b`)
	modelYearToken    = regexp.MustCompile(`^(?:19|20)\d{2}$`)
)

// Normalizer canonicalizes brand and model strings found in listing text
type Normalizer struct {
	brands *BrandDictionary
}

// NewNormalizer returns a normalizer over dict, or the built-in dictionary when dict is nil
func NewNormalizer(dict *BrandDictionary) *Normalizer {
	if dict == nil {
		dict = defaultDictionary
	}
	return &Normalizer{brands: dict}
}

// Normalize reads brand and model from a title, falling back to the snippet
// and then to the first title token. It never fails; the worst case is
// Unknown/Unknown with confidence 0.
func (n *Normalizer) Normalize(title, snippet string) BrandModel {
	if bm, ok := n.fromText(title, confidenceTitle); ok {
		return bm
	}
	if bm, ok := n.fromText(snippet, confidenceSnippet); ok {
		return bm
	}

	fields := strings.Fields(title)
	if len(fields) == 0 {
		return BrandModel{Brand: Unknown, Model: Unknown}
	}
	first := strings.TrimFunc(fields[0], isTrimmable)
	if len([]rune(first)) < minFallbackRunes || strings.IndexFunc(first, unicode.IsLetter) < 0 {
		return BrandModel{Brand: Unknown, Model: Unknown}
	}
	bm := BrandModel{
		Brand:      n.brands.Canonical(first),
		Model:      extractModel(strings.Join(fields[1:], " ")),
		Confidence: confidenceFallback,
	}
	return withModelBonus(bm)
}

func (n *Normalizer) fromText(text string, confidence int) (BrandModel, bool) {
	m, ok := n.brands.find(text)
	if !ok {
		return BrandModel{}, false
	}
	tail := string([]rune(text)[m.end:])
	return withModelBonus(BrandModel{Brand: m.brand, Model: extractModel(tail), Confidence: confidence}), true
}

func withModelBonus(bm BrandModel) BrandModel {
	if bm.Model != Unknown {
		bm.Confidence += confidenceModel
		if bm.Confidence > 100 {
			bm.Confidence = 100
		}
	}
	return bm
}

// extractModel keeps the first few descriptive tokens after a brand mention
func extractModel(tail string) string {
	for _, sep := range modelSeparators {
		if i := strings.Index(tail, sep); i >= 0 {
			tail = tail[:i]
		}
	}
	tail = modelPriceToken.ReplaceAllString(tail, " ")
	tail = modelMileageToken.ReplaceAllString(tail, " ")

	tokens := make([]string, 0, maxModelTokens)
	for _, tok := range strings.Fields(tail) {
		tok = strings.TrimFunc(tok, isTrimmable)
		if tok == "" || modelYearToken.MatchString(tok) {
			continue
		}
		tokens = append(tokens, modelTokenCase(tok))
		if len(tokens) == maxModelTokens {
			break
		}
	}
	if len(tokens) == 0 {
		return Unknown
	}
	return strings.Join(tokens, " ")
}

func isTrimmable(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

// CanonicalBrand returns the documented casing of brand
func (n *Normalizer) CanonicalBrand(brand string) string {
	return n.brands.Canonical(brand)
}

// CanonicalModel applies the model casing rules to every token of model
func CanonicalModel(model string) string {
	fields := strings.Fields(model)
	for i, f := range fields {
		fields[i] = modelTokenCase(f)
	}
	return strings.Join(fields, " ")
}

// ValidBrandModel rejects empty, Unknown or self-referencing brand/model pairs
func ValidBrandModel(brand, model string) bool {
	brand, model = strings.TrimSpace(brand), strings.TrimSpace(model)
	if brand == "" || model == "" {
		return false
	}
	if strings.EqualFold(brand, Unknown) || strings.EqualFold(model, Unknown) {
		return false
	}
	return !strings.EqualFold(brand, model)
}
