package core

import "github.com/golang-vcs/corevcs/internal/patiencediff"

// Reannotate produces an annotated version of newLines, given the already
// annotated texts of every parent and the revision to attribute new/
// unresolved lines to. See spec §4.4 for the full per-arity contract.
func Reannotate(parentsLines [][]AnnotatedLine, newLines []string, newRev RevId, heads HeadsProvider) ([]AnnotatedLine, error) {
	switch len(parentsLines) {
	case 0:
		out := make([]AnnotatedLine, len(newLines))
		for i, l := range newLines {
			out[i] = AnnotatedLine{Origin: newRev, Text: []byte(l)}
		}
		return out, nil
	case 1:
		return reannotateOne(parentsLines[0], newLines, newRev), nil
	case 2:
		left := reannotateOne(parentsLines[0], newLines, newRev)
		return reannotateAnnotated(parentsLines[1], newLines, newRev, left, heads)
	default:
		reannotations := make([][]AnnotatedLine, len(parentsLines))
		reannotations[0] = reannotateOne(parentsLines[0], newLines, newRev)
		for i := 1; i < len(parentsLines); i++ {
			reannotations[i] = reannotateOne(parentsLines[i], newLines, newRev)
		}
		out := make([]AnnotatedLine, len(newLines))
		for i := range newLines {
			origins := make(map[RevId]bool)
			for _, r := range reannotations {
				origins[r[i].Origin] = true
			}
			switch {
			case len(origins) == 1:
				out[i] = reannotations[0][i]
			default:
				if len(origins) == 2 && origins[newRev] {
					delete(origins, newRev)
				}
				if len(origins) == 1 {
					var sole RevId
					for o := range origins {
						sole = o
					}
					out[i] = AnnotatedLine{Origin: sole, Text: reannotations[0][i].Text}
				} else {
					out[i] = AnnotatedLine{Origin: newRev, Text: reannotations[0][i].Text}
				}
			}
		}
		return out, nil
	}
}

// annotatedKey renders an annotated line as a single comparable string so
// patiencediff.MatchingBlocks (which only knows how to diff plain strings)
// can be used to align two annotated sequences by (origin, text) equality
// rather than by text alone.
func annotatedKey(l AnnotatedLine) string {
	return string(l.Origin) + "\x00" + string(l.Text)
}

// reannotateOne is the single-parent case: patience-diff the parent's plain
// text against newLines, copy annotations through matched runs, and tag
// every inserted line with newRev.
func reannotateOne(parentLines []AnnotatedLine, newLines []string, newRev RevId) []AnnotatedLine {
	plain := make([]string, len(parentLines))
	for i, l := range parentLines {
		plain[i] = string(l.Text)
	}
	blocks := patiencediff.MatchingBlocks(plain, newLines)

	var out []AnnotatedLine
	newCur := 0
	for _, blk := range blocks {
		for _, line := range newLines[newCur:blk.BIndex] {
			out = append(out, AnnotatedLine{Origin: newRev, Text: []byte(line)})
		}
		out = append(out, parentLines[blk.AIndex:blk.AIndex+blk.Len]...)
		newCur = blk.BIndex + blk.Len
	}
	return out
}

// reannotateAnnotated reconciles the left-annotated result against the
// right parent, matching _reannotate_annotated: lines both sides agree the
// child retained pass straight through; everything else goes through
// findMatchingUnannotatedLines.
func reannotateAnnotated(rightLines []AnnotatedLine, newLines []string, newRev RevId, annotatedLines []AnnotatedLine, heads HeadsProvider) ([]AnnotatedLine, error) {
	if len(newLines) != len(annotatedLines) {
		return nil, &MismatchedLinesError{NewLines: len(newLines), AnnotatedLines: len(annotatedLines)}
	}

	// The outer alignment compares whole (origin, text) pairs — a run only
	// counts as "both sides agree" if the lines are identical right down to
	// their origin, not merely the same text; two lines with matching text
	// but different origins fall through to findMatchingUnannotatedLines
	// instead, same as comparing the raw annotated tuples does upstream.
	rightKeys := make([]string, len(rightLines))
	for i, l := range rightLines {
		rightKeys[i] = annotatedKey(l)
	}
	annotatedKeys := make([]string, len(annotatedLines))
	for i, l := range annotatedLines {
		annotatedKeys[i] = annotatedKey(l)
	}
	blocks := patiencediff.MatchingBlocks(rightKeys, annotatedKeys)

	var out []AnnotatedLine
	lastRight, lastLeft := 0, 0
	for _, blk := range blocks {
		rightIdx, leftIdx, n := blk.AIndex, blk.BIndex, blk.Len
		if lastRight == rightIdx || lastLeft == leftIdx {
			out = append(out, annotatedLines[lastLeft:leftIdx]...)
		} else {
			matched, err := findMatchingUnannotatedLines(
				newLines, annotatedLines, lastLeft, leftIdx,
				rightLines, lastRight, rightIdx, heads, newRev)
			if err != nil {
				return nil, err
			}
			out = append(out, matched...)
		}
		lastRight = rightIdx + n
		lastLeft = leftIdx + n
		out = append(out, annotatedLines[leftIdx:leftIdx+n]...)
	}
	return out, nil
}

// findMatchingUnannotatedLines resolves the region between two matched
// runs: it re-diffs the plain text of that slice of the child against the
// corresponding slice of the right parent and, for each aligned pair,
// reconciles the two candidate origins per spec §4.4's left/right rule.
func findMatchingUnannotatedLines(
	plainChildLines []string,
	childLines []AnnotatedLine, startChild, endChild int,
	rightLines []AnnotatedLine, startRight, endRight int,
	heads HeadsProvider, newRev RevId,
) ([]AnnotatedLine, error) {
	rightSubsetPlain := make([]string, endRight-startRight)
	for i := range rightSubsetPlain {
		rightSubsetPlain[i] = string(rightLines[startRight+i].Text)
	}
	childSubsetPlain := plainChildLines[startChild:endChild]

	blocks := patiencediff.MatchingBlocks(rightSubsetPlain, childSubsetPlain)

	var out []AnnotatedLine
	lastChildIdx := 0
	for _, blk := range blocks {
		rightIdx, childIdx, n := blk.AIndex, blk.BIndex, blk.Len
		if childIdx > lastChildIdx {
			out = append(out, childLines[startChild+lastChildIdx:startChild+childIdx]...)
		}
		for offset := 0; offset < n; offset++ {
			left := childLines[startChild+childIdx+offset]
			right := rightLines[startRight+rightIdx+offset]
			switch {
			case left.Origin == right.Origin:
				out = append(out, left)
			case left.Origin == newRev:
				out = append(out, right)
			default:
				if heads == nil {
					out = append(out, AnnotatedLine{Origin: newRev, Text: left.Text})
					continue
				}
				hs, err := heads.Heads([]RevId{left.Origin, right.Origin})
				if err != nil {
					return nil, err
				}
				if len(hs) == 1 {
					var sole RevId
					for h := range hs {
						sole = h
					}
					out = append(out, AnnotatedLine{Origin: sole, Text: left.Text})
				} else {
					out = append(out, AnnotatedLine{Origin: newRev, Text: left.Text})
				}
			}
		}
		lastChildIdx = childIdx + n
	}
	return out, nil
}
