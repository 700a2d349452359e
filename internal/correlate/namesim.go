package correlate

import (
	"path/filepath"
	"strings"
)

// nameSimilarity scores how alike two final path components are, in
// [0,1], using Jaro-Winkler similarity. No pack example ships a string
// similarity library for this; see DESIGN.md for why this stays a small
// local implementation instead of reaching for a dependency.
func nameSimilarity(pathA, pathB string) float64 {
	a := strings.ToLower(filepath.Base(pathA))
	b := strings.ToLower(filepath.Base(pathB))

	if a == b {
		return 1
	}

	return jaroWinkler(a, b)
}

func jaroWinkler(a, b string) float64 {
	j := jaro(a, b)
	if j <= 0 {
		return j
	}

	prefix := commonPrefixLen(a, b, 4)

	const scalingFactor = 0.1

	return j + float64(prefix)*scalingFactor*(1-j)
}

func jaro(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}

	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	matchDistance := maxInt(len(a), len(b))/2 - 1
	if matchDistance < 0 {
		matchDistance = 0
	}

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))

	matches := 0

	for i := range a {
		start := maxInt(0, i-matchDistance)
		end := minInt(i+matchDistance+1, len(b))

		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}

			aMatches[i] = true
			bMatches[j] = true
			matches++

			break
		}
	}

	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0

	for i := range a {
		if !aMatches[i] {
			continue
		}

		for !bMatches[k] {
			k++
		}

		if a[i] != b[k] {
			transpositions++
		}

		k++
	}

	m := float64(matches)

	return (m/float64(len(a)) + m/float64(len(b)) + (m-float64(transpositions)/2)/m) / 3
}

func commonPrefixLen(a, b string, maxLen int) int {
	n := minInt(minInt(len(a), len(b)), maxLen)

	i := 0
	for i < n && a[i] == b[i] {
		i++
	}

	return i
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}

	return b
}
