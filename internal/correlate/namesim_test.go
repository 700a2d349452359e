package correlate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNameSimilarityIdentical(t *testing.T) {
	require.InDelta(t, 1.0, nameSimilarity("/a/report.pdf", "/b/report.pdf"), 1e-9)
}

func TestNameSimilarityCloseRename(t *testing.T) {
	sim := nameSimilarity("/a/report.pdf", "/b/report-final.pdf")
	require.Greater(t, sim, 0.5)
	require.Less(t, sim, 1.0)
}

func TestNameSimilarityUnrelated(t *testing.T) {
	sim := nameSimilarity("/a/report.pdf", "/b/zzz-totally-different.bin")
	require.Less(t, sim, 0.5)
}
