package resolve

import (
	"math"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// Scorer computes a 0-100 similarity between two titles.
type Scorer func(a, b string) float64

// ratio is 100 * (1 - editDistance / longerLength), over runes. Either
// string empty scores 0.
func ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	longest := max(len(ra), len(rb))
	d := levenshtein.Distance(a, b, nil)
	return 100 * (1 - float64(d)/float64(longest))
}

// partialRatio is the best ratio of the shorter string against every
// equal-length window of the longer one.
func partialRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	short := string(ra)
	best := 0.0
	for i := 0; i+len(ra) <= len(rb); i++ {
		if r := ratio(short, string(rb[i:i+len(ra)])); r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}

func sortedJoin(toks []string) string {
	out := append([]string(nil), toks...)
	sort.Strings(out)
	return strings.Join(out, " ")
}

// tokenSortRatio compares the titles after sorting their tokens.
func tokenSortRatio(a, b string) float64 {
	return ratio(sortedJoin(tokens(a)), sortedJoin(tokens(b)))
}

// tokenSetRatio compares the shared tokens against each side's remainder,
// which forgives extra words on one side.
func tokenSetRatio(a, b string) float64 {
	setA := make(map[string]bool)
	for _, t := range tokens(a) {
		setA[t] = true
	}
	setB := make(map[string]bool)
	for _, t := range tokens(b) {
		setB[t] = true
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	var common, onlyA, onlyB []string
	for t := range setA {
		if setB[t] {
			common = append(common, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range setB {
		if !setA[t] {
			onlyB = append(onlyB, t)
		}
	}

	base := sortedJoin(common)
	withA := strings.TrimSpace(base + " " + sortedJoin(onlyA))
	withB := strings.TrimSpace(base + " " + sortedJoin(onlyB))

	return max(ratio(base, withA), ratio(base, withB), ratio(withA, withB))
}

// WeightedRatio combines plain, token-sorted, token-set and partial
// comparisons and returns the best weighted score in [0, 100], rounded to
// one decimal. Token-based scores are scaled by 0.95; partial scores are
// used only when one title is at least 1.5x longer than the other.
func WeightedRatio(a, b string) float64 {
	a, b = NormalizeTitle(a), NormalizeTitle(b)
	if a == "" || b == "" {
		return 0
	}

	best := ratio(a, b)
	la, lb := float64(len([]rune(a))), float64(len([]rune(b)))
	lenRatio := max(la, lb) / min(la, lb)

	const tokenScale = 0.95
	if lenRatio < 1.5 {
		best = max(best,
			tokenSortRatio(a, b)*tokenScale,
			tokenSetRatio(a, b)*tokenScale,
		)
		return round1(best)
	}

	partialScale := 0.9
	if lenRatio > 8 {
		partialScale = 0.6
	}
	best = max(best,
		partialRatio(a, b)*partialScale,
		partialRatio(sortedJoin(tokens(a)), sortedJoin(tokens(b)))*tokenScale*partialScale,
		tokenSetRatio(a, b)*tokenScale*partialScale,
	)
	return round1(best)
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
