// Package patiencediff is the "PatienceDiff (external)" collaborator from
// the core's component table: it supplies matching_blocks(a, b) to the
// rest of the engine and nothing else.
//
// It is built on github.com/sergi/go-diff/diffmatchpatch, the same line-mode
// trick the teacher repo's own internal/test/diff.go uses
// (diffmatchpatch.New().DiffMain) to compare two texts: each distinct line
// is remapped to a single rune via DiffLinesToChars, Myers diff runs over
// the rune strings, and the result is translated back with DiffCharsToLines.
// The equal-run spans of that result are exactly difflib's matching_blocks.
package patiencediff

import "github.com/sergi/go-diff/diffmatchpatch"

// Block is a maximal run of lines common to both sequences: a[AIndex:AIndex+Len]
// equals b[BIndex:BIndex+Len]. The final block in any result is always the
// zero-length sentinel {len(a), len(b), 0}, mirroring Python's
// difflib.SequenceMatcher.get_matching_blocks.
type Block struct {
	AIndex, BIndex, Len int
}

// MatchingBlocks returns the maximal common runs between a and b, in order,
// terminated by a zero-length sentinel block at (len(a), len(b)).
func MatchingBlocks(a, b []string) []Block {
	dmp := diffmatchpatch.New()

	achars, bchars, lines := dmp.DiffLinesToChars(joinLines(a), joinLines(b))
	diffs := dmp.DiffMain(achars, bchars, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var blocks []Block
	var ai, bi int
	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			if n > 0 {
				blocks = append(blocks, Block{AIndex: ai, BIndex: bi, Len: n})
			}
			ai += n
			bi += n
		case diffmatchpatch.DiffDelete:
			ai += n
		case diffmatchpatch.DiffInsert:
			bi += n
		}
	}
	blocks = append(blocks, Block{AIndex: len(a), BIndex: len(b), Len: 0})
	return blocks
}

// joinLines reassembles a line slice the way DiffLinesToChars expects:
// newline-terminated, so that a trailing line without a terminator in the
// original sequence still round-trips through the rune encoding.
func joinLines(lines []string) string {
	var out []byte
	for _, l := range lines {
		out = append(out, l...)
		if len(l) == 0 || l[len(l)-1] != '\n' {
			out = append(out, '\n')
		}
	}
	return string(out)
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 0
	for _, c := range s {
		if c == '\n' {
			n++
		}
	}
	return n
}
