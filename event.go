// Package fswatch watches a directory tree for filesystem changes and
// emits a correlated event stream: renames and cross-directory moves are
// detected and reported as a single Move event instead of a disjoint
// Remove/Create pair, and every observed path is kept in a persistent,
// queryable cache alongside an append-only history log.
package fswatch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/tonimelisma/fswatch/internal/correlate"
)

// Kind discriminates the tagged-union Event payload.
type Kind int

const (
	KindCreate Kind = iota
	KindWrite
	KindRemove
	KindMove
	KindChmod
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindWrite:
		return "write"
	case KindRemove:
		return "remove"
	case KindMove:
		return "move"
	case KindChmod:
		return "chmod"
	default:
		return "unknown"
	}
}

// MarshalJSON renders Kind as its lowercase name.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// MoveData is the kind-specific payload a Move event carries in addition
// to the common Event fields.
type MoveData struct {
	SourcePath string  `json:"source_path"`
	DestPath   string  `json:"dest_path"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// moveDataJSON forces at least two fractional digits on Confidence.
// json.Marshal on a bare float64 can render a whole number like 1 as "1",
// so MoveData is marshalled through this shadow type instead.
type moveDataJSON struct {
	SourcePath string `json:"source_path"`
	DestPath   string `json:"dest_path"`
	Confidence string `json:"confidence"`
	Method     string `json:"method"`
}

// MarshalJSON formats Confidence as a fixed two-decimal string rather than
// letting the encoder choose the shortest round-trippable representation.
func (m MoveData) MarshalJSON() ([]byte, error) {
	return json.Marshal(moveDataJSON{
		SourcePath: m.SourcePath,
		DestPath:   m.DestPath,
		Confidence: strconv.FormatFloat(m.Confidence, 'f', 2, 64),
		Method:     m.Method,
	})
}

// Event is the public, serialisable representation of one filesystem
// change, combining the fields common to every Kind with the optional Move
// payload.
type Event struct {
	WatchID     string    `json:"watch_id"`
	Kind        Kind      `json:"kind"`
	Path        string    `json:"path"`
	Timestamp   time.Time `json:"timestamp"`
	IsDirectory bool      `json:"is_directory"`
	Size        *int64    `json:"size,omitempty"`
	Move        *MoveData `json:"move_data,omitempty"`
}

// eventFromEmission translates an internal correlate.Emission into the
// public Event shape, the one place the two vocabularies meet.
func eventFromEmission(watchID string, em correlate.Emission) Event {
	e := Event{
		WatchID:     watchID,
		Path:        em.Path,
		Timestamp:   em.Timestamp,
		IsDirectory: em.IsDirectory,
		Size:        em.Size,
	}

	switch em.Kind {
	case correlate.KindCreate:
		e.Kind = KindCreate
	case correlate.KindRemove:
		e.Kind = KindRemove
	case correlate.KindMove:
		e.Kind = KindMove
		if em.Move != nil {
			e.Path = em.Move.DestPath
			e.Move = &MoveData{
				SourcePath: em.Move.SourcePath,
				DestPath:   em.Move.DestPath,
				Confidence: em.Move.Confidence,
				Method:     em.Move.Method.String(),
			}
		}
	default:
		e.Kind = KindCreate
	}

	return e
}

// String renders a human-readable summary, used in log lines rather than
// the JSON wire form.
func (e Event) String() string {
	if e.Kind == KindMove && e.Move != nil {
		return fmt.Sprintf("move %s -> %s (confidence=%.2f, method=%s)", e.Move.SourcePath, e.Move.DestPath, e.Move.Confidence, e.Move.Method)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Path)
}
