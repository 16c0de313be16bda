package dedupe

import (
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Similarity scores two normalized strings from 0 to 100. Containment scores
// by length ratio; otherwise the better of the edit-distance score and the
// subsequence rank wins.
func Similarity(s1, s2 string) int {
	if s1 == s2 {
		return 100
	}
	if s1 == "" || s2 == "" {
		return 0
	}

	if strings.Contains(s1, s2) {
		return 75 + (25 * len(s2) / len(s1))
	}
	if strings.Contains(s2, s1) {
		return 75 + (25 * len(s1) / len(s2))
	}

	maxLen := max(len([]rune(s1)), len([]rune(s2)))
	distance := fuzzy.LevenshteinDistance(s1, s2)
	levenshteinScore := 100 * (maxLen - distance) / maxLen

	rankScore := 0
	short, long := s1, s2
	if len(short) > len(long) {
		short, long = long, short
	}
	if rank := fuzzy.RankMatch(short, long); rank >= 0 && rank < len(long) {
		rankScore = 60 - (rank * 40 / len(long))
	}

	return max(levenshteinScore, rankScore)
}

// lengthCompatible rejects pairs whose lengths alone rule out reaching the
// threshold, so the corpus scan stays cheap.
func lengthCompatible(a, b string, threshold int) bool {
	la, lb := len(a), len(b)
	if la > lb {
		la, lb = lb, la
	}
	if lb == 0 {
		return false
	}
	// The best reachable score is containment at 75 + 25*la/lb.
	return 75*lb+25*la >= threshold*lb
}
