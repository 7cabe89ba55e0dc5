// Package diff computes the structural diff of spec.md §4.5: a line-based
// longest-common-subsequence diff over pretty-printed canonical JSON,
// consumed by the revisions API's ?calculateDiff=true and by formatter
// script context. The diff format itself is opaque to callers outside
// this package (spec.md §4.5), so Diff only needs to be JSON-serializable.
package diff

import (
	"strings"

	"github.com/retrack-dev/retrack/pkg/canon"
	dmp "github.com/sergi/go-diff/diffmatchpatch"
)

// OpKind is one line-diff operation.
type OpKind string

const (
	OpEqual  OpKind = "equal"
	OpInsert OpKind = "insert"
	OpDelete OpKind = "delete"
)

// Op is one line (or run of identical lines) in the diff.
type Op struct {
	Kind  OpKind   `json:"kind"`
	Lines []string `json:"lines"`
}

// Diff is the structural diff between two canonical JSON documents.
type Diff struct {
	Ops []Op `json:"ops"`
}

// Compute renders prev and next as pretty canonical JSON and diffs them
// line by line using Myers diff (go-diff), matching spec.md §4.5's
// "line-based with longest-common-subsequence over pretty-printed
// canonical JSON".
func Compute(prev, next []byte) (Diff, error) {
	prevPretty, err := canon.Pretty(prev)
	if err != nil {
		return Diff{}, err
	}
	nextPretty, err := canon.Pretty(next)
	if err != nil {
		return Diff{}, err
	}

	differ := dmp.New()
	prevLines, nextLines, lineArray := differ.DiffLinesToChars(string(prevPretty), string(nextPretty))
	diffs := differ.DiffMainRunes([]rune(prevLines), []rune(nextLines), false)
	diffs = differ.DiffCharsToLines(diffs, lineArray)

	out := Diff{}
	for _, d := range diffs {
		lines := splitLinesKeepEmpty(d.Text)
		var kind OpKind
		switch d.Type {
		case dmp.DiffEqual:
			kind = OpEqual
		case dmp.DiffInsert:
			kind = OpInsert
		case dmp.DiffDelete:
			kind = OpDelete
		}
		out.Ops = append(out.Ops, Op{Kind: kind, Lines: lines})
	}
	return out, nil
}

func splitLinesKeepEmpty(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
