package fswatch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/fswatch/internal/correlate"
)

func TestEventFromEmissionMove(t *testing.T) {
	em := correlate.Emission{
		Kind: correlate.KindMove,
		Path: "/w/a",
		Move: &correlate.MoveInfo{
			SourcePath: "/w/a", DestPath: "/w/b", Confidence: 0.9, Method: correlate.MethodInodeMatching,
		},
		Timestamp: time.Now(),
	}

	e := eventFromEmission("watch1", em)
	require.Equal(t, KindMove, e.Kind)
	require.Equal(t, "/w/b", e.Path)
	require.NotNil(t, e.Move)
	require.Equal(t, "inode_matching", e.Move.Method)
}

func TestMoveDataJSONHasTwoFractionalDigits(t *testing.T) {
	m := MoveData{SourcePath: "/a", DestPath: "/b", Confidence: 1, Method: "inode_matching"}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.Contains(t, string(data), `"confidence":"1.00"`)
}

func TestEventKindMarshalsLowercase(t *testing.T) {
	data, err := json.Marshal(KindMove)
	require.NoError(t, err)
	require.Equal(t, `"move"`, string(data))
}
