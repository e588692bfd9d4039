// ABOUTME: Token-set Jaccard similarity used by the repetition check
// ABOUTME: Lowercases, collapses whitespace, and compares space-split token sets

package loopguard

import "strings"

// tokenSet lowercases the text, collapses runs of whitespace, trims, and
// splits on single spaces into a set of tokens.
func tokenSet(text string) map[string]bool {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	set := make(map[string]bool)
	if normalized == "" {
		return set
	}
	for _, tok := range strings.Split(normalized, " ") {
		set[tok] = true
	}
	return set
}

// Jaccard returns |A ∩ B| / |A ∪ B| over the token sets of a and b,
// and 0 when the union is empty.
func Jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
