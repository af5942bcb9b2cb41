package core

import (
	"sort"

	"github.com/golang-vcs/corevcs/internal/patiencediff"
)

// TextSource supplies per-revision file content — the "WeaveStore (or
// equivalent text backend)" the data-flow description of §2 names as
// MergePlanner's upstream collaborator. A *Weave satisfies this via
// GetLines.
type TextSource interface {
	Lines(rev RevId) ([]string, error)
}

// weaveTextSource adapts a *Weave to TextSource.
type weaveTextSource struct{ w *Weave }

func (s weaveTextSource) Lines(rev RevId) ([]string, error) { return s.w.GetLines(rev) }

// ancestorsOf returns the ancestor set of tip, including tip itself,
// memoized across calls sharing memo.
func ancestorsOf(g Graph, tip RevId, memo map[RevId]map[RevId]bool) (map[RevId]bool, error) {
	if memo != nil {
		if cached, ok := memo[tip]; ok {
			return cached, nil
		}
	}
	visited := make(map[RevId]bool)
	var visit func(n RevId) error
	visit = func(n RevId) error {
		if n == NullRevision || visited[n] {
			return nil
		}
		visited[n] = true
		parents, err := g.Parents(n)
		if err != nil {
			return err
		}
		for _, p := range parents {
			if err := visit(p); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(tip); err != nil {
		return nil, err
	}
	if memo != nil {
		memo[tip] = visited
	}
	return visited, nil
}

// FindLCA returns the lowest common ancestors of a and b: the heads of
// Anc(a) ∩ Anc(b), i.e. the members of that intersection that are not
// themselves an ancestor of another member.
func FindLCA(g Graph, a, b RevId) ([]RevId, error) {
	return FindLCAMulti(g, []RevId{a, b})
}

// FindLCAMulti generalizes FindLCA to more than two tips, matching the
// Graph.find_lca(*keys) call shape _PlanMerge._find_recursive_lcas uses
// when cur_ancestors grows past a pair.
func FindLCAMulti(g Graph, revs []RevId) ([]RevId, error) {
	if len(revs) == 0 {
		return nil, nil
	}
	memo := make(map[RevId]map[RevId]bool)
	common, err := ancestorsOf(g, revs[0], memo)
	if err != nil {
		return nil, err
	}
	intersection := make(map[RevId]bool, len(common))
	for n := range common {
		intersection[n] = true
	}
	for _, r := range revs[1:] {
		anc, err := ancestorsOf(g, r, memo)
		if err != nil {
			return nil, err
		}
		for n := range intersection {
			if !anc[n] {
				delete(intersection, n)
			}
		}
	}
	if len(intersection) == 0 {
		return nil, nil
	}

	var out []RevId
	for n := range intersection {
		isAncestorOfAnother := false
		for m := range intersection {
			if m == n {
				continue
			}
			ancM, err := ancestorsOf(g, m, memo)
			if err != nil {
				return nil, err
			}
			if ancM[n] {
				isAncestorOfAnother = true
				break
			}
		}
		if !isAncestorOfAnother {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// lcaFrontier builds the parent map spec §4.3's plain plan needs: the
// ancestry between (a,b) and their recursive LCA. It finds the LCA set
// (narrowing a criss-cross of two or more LCAs down to a single boundary
// node by repeated FindLCAMulti, as the recursive find_lca narrowing
// does), takes the union of a's
// and b's full ancestor sets, and prunes away everything strictly below
// that boundary; the remaining frontier's parent links are the real
// graph's, filtered to members of the frontier, so a node sitting right
// at the boundary reports no parents within the frontier even though it
// has them in the full graph. This skips the original's linear-region
// collapsing, a pure performance optimization that does not change
// plan_merge's output — only how much of the graph gets visited to
// build it.
func lcaFrontier(g Graph, a, b RevId) (map[RevId][]RevId, error) {
	lcas, err := FindLCA(g, a, b)
	if err != nil {
		return nil, err
	}

	var boundary RevId
	hasBoundary := false
	switch {
	case len(lcas) == 1:
		boundary, hasBoundary = lcas[0], true
	case len(lcas) >= 2:
		cur := lcas
		for len(cur) > 1 {
			next, err := FindLCAMulti(g, cur)
			if err != nil {
				return nil, err
			}
			cur = next
		}
		if len(cur) == 1 {
			boundary, hasBoundary = cur[0], true
		}
	}

	ancA, err := ancestorsOf(g, a, nil)
	if err != nil {
		return nil, err
	}
	ancB, err := ancestorsOf(g, b, nil)
	if err != nil {
		return nil, err
	}
	frontier := make(map[RevId]bool, len(ancA)+len(ancB))
	for n := range ancA {
		frontier[n] = true
	}
	for n := range ancB {
		frontier[n] = true
	}

	if hasBoundary {
		below, err := ancestorsOf(g, boundary, nil)
		if err != nil {
			return nil, err
		}
		for n := range below {
			if n != boundary {
				delete(frontier, n)
			}
		}
	}

	parentMap := make(map[RevId][]RevId, len(frontier))
	for n := range frontier {
		if hasBoundary && n == boundary {
			parentMap[n] = nil
			continue
		}
		ps, err := g.Parents(n)
		if err != nil {
			return nil, err
		}
		var kept []RevId
		for _, p := range ps {
			if frontier[p] {
				kept = append(kept, p)
			}
		}
		parentMap[n] = kept
	}
	return parentMap, nil
}

// PlanMerge is the "plain plan" MergePlanner variant (§4.3's _PlanMerge):
// it materializes the recursive LCA frontier of (a,b) into a fresh
// in-memory Weave, seeded via merge_sort order from a synthetic tip whose
// parents are (a,b) so left-hand parents always precede right-hand ones,
// then delegates to that weave's PlanMerge.
func PlanMerge(g Graph, src TextSource, a, b RevId) ([]PlanLine, error) {
	parentMap, err := lcaFrontier(g, a, b)
	if err != nil {
		return nil, err
	}

	const tip RevId = "<plan-merge-tip>"
	seedGraph := make(MapGraph, len(parentMap)+1)
	for k, ps := range parentMap {
		seedGraph[k] = ps
	}
	seedGraph[tip] = []RevId{a, b}

	rows, err := MergeSort(seedGraph, tip, nil, false)
	if err != nil {
		return nil, err
	}

	// rows come back tip-first (top-down); a version's parents must
	// already be present in the in-memory weave before Add is called on
	// it, so insert in the reverse (root-first) order.
	w := NewWeave("in-memory-plan")
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if row.Node == tip {
			continue
		}
		lines, err := src.Lines(row.Node)
		if err != nil {
			return nil, err
		}
		parentNames := parentMap[row.Node]
		if _, err := w.Add(row.Node, parentNames, lines); err != nil {
			if _, ok := err.(*AlreadyPresentError); !ok {
				return nil, err
			}
		}
	}
	return w.PlanMerge(a, b)
}

// LCAPlanTag extends PlanTag with the two conflict markers _PlanLCAMerge
// introduces for criss-cross divergences the plain plan would paper over.
type LCAPlanTag uint8

const (
	LCAUnchanged LCAPlanTag = iota
	LCANewA
	LCANewB
	LCAConflictedA
	LCAConflictedB
	LCAKilledA
	LCAKilledB
)

func (t LCAPlanTag) String() string {
	switch t {
	case LCAUnchanged:
		return "unchanged"
	case LCANewA:
		return "new-a"
	case LCANewB:
		return "new-b"
	case LCAConflictedA:
		return "conflicted-a"
	case LCAConflictedB:
		return "conflicted-b"
	case LCAKilledA:
		return "killed-a"
	default:
		return "killed-b"
	}
}

// LCAPlanLine is one tagged line of a PlanLCAMerge result.
type LCAPlanLine struct {
	Tag  LCAPlanTag
	Line string
}

// matchCache memoizes patience-diff matching blocks per (left, right)
// revision pair, mirroring _PlanMergeBase's _cached_matching_blocks dict —
// a,b are each compared against every LCA, and a's and b's own texts
// rarely change between calls within one plan.
type matchCache struct {
	blocks map[[2]RevId][]patiencediff.Block
}

func newMatchCache() *matchCache {
	return &matchCache{blocks: make(map[[2]RevId][]patiencediff.Block)}
}

func (c *matchCache) get(left, right RevId, leftLines, rightLines []string) []patiencediff.Block {
	key := [2]RevId{left, right}
	if b, ok := c.blocks[key]; ok {
		return b
	}
	b := patiencediff.MatchingBlocks(leftLines, rightLines)
	c.blocks[key] = b
	return b
}

// PlanLCAMerge is the "LCA plan" variant (§4.3's _PlanLCAMerge): it
// compares a and b directly against each LCA instead of building a weave,
// marking a line unique to one side as new (absent from every LCA) or
// conflicted (present in at least one LCA, meaning the two sides disagree
// about whether to keep it) — this is what surfaces a criss-cross
// divergence that the plain plan resolves silently.
func PlanLCAMerge(g Graph, src TextSource, a, b RevId) ([]LCAPlanLine, error) {
	lcas, err := FindLCA(g, a, b)
	if err != nil {
		return nil, err
	}
	linesA, err := src.Lines(a)
	if err != nil {
		return nil, err
	}
	linesB, err := src.Lines(b)
	if err != nil {
		return nil, err
	}

	lcaLines := make(map[RevId][]string, len(lcas))
	for _, lca := range lcas {
		ll, err := src.Lines(lca)
		if err != nil {
			return nil, err
		}
		lcaLines[lca] = ll
	}

	cache := newMatchCache()
	// A line of a that some LCA still has was removed on b's side, so the
	// killed set lcaStatus reports for a is b's kills, indexed by a's lines
	// (and vice versa).
	newA, killedB := lcaStatus(cache, a, linesA, lcas, lcaLines)
	newB, killedA := lcaStatus(cache, b, linesB, lcas, lcaLines)

	blocks := cache.get(a, b, linesA, linesB)

	var out []LCAPlanLine
	lastI, lastJ := 0, 0
	for _, blk := range blocks {
		for ai := lastI; ai < blk.AIndex; ai++ {
			if newA[ai] {
				if killedB[ai] {
					out = append(out, LCAPlanLine{Tag: LCAConflictedA, Line: linesA[ai]})
				} else {
					out = append(out, LCAPlanLine{Tag: LCANewA, Line: linesA[ai]})
				}
			} else {
				out = append(out, LCAPlanLine{Tag: LCAKilledB, Line: linesA[ai]})
			}
		}
		for bi := lastJ; bi < blk.BIndex; bi++ {
			if newB[bi] {
				if killedA[bi] {
					out = append(out, LCAPlanLine{Tag: LCAConflictedB, Line: linesB[bi]})
				} else {
					out = append(out, LCAPlanLine{Tag: LCANewB, Line: linesB[bi]})
				}
			} else {
				out = append(out, LCAPlanLine{Tag: LCAKilledA, Line: linesB[bi]})
			}
		}
		for ai := blk.AIndex; ai < blk.AIndex+blk.Len; ai++ {
			out = append(out, LCAPlanLine{Tag: LCAUnchanged, Line: linesA[ai]})
		}
		lastI = blk.AIndex + blk.Len
		lastJ = blk.BIndex + blk.Len
	}
	return out, nil
}

// lcaStatus determines, for each line index of rev (vs. the other merge
// side), whether that line is "new" (absent from at least one LCA) and/or
// "killed" (present in at least one LCA) — matching
// _PlanLCAMerge._determine_status. A line both new and killed against
// different LCAs is the criss-cross signal that produces a conflicted-*
// tag upstream.
func lcaStatus(cache *matchCache, rev RevId, lines []string, lcas []RevId, lcaLines map[RevId][]string) (newSet, killedSet map[int]bool) {
	newSet = make(map[int]bool)
	killedSet = make(map[int]bool)
	for _, lca := range lcas {
		blocks := cache.get(rev, lca, lines, lcaLines[lca])
		uniqueVsLCA := uniqueLeftIndexes(blocks)
		uniqueSet := make(map[int]bool, len(uniqueVsLCA))
		for _, i := range uniqueVsLCA {
			uniqueSet[i] = true
		}
		for i := range lines {
			if uniqueSet[i] {
				newSet[i] = true
			} else {
				killedSet[i] = true
			}
		}
	}
	return newSet, killedSet
}

// uniqueLeftIndexes returns the indexes of the left sequence not covered
// by any matching block — i.e. the lines unique to the left side.
func uniqueLeftIndexes(blocks []patiencediff.Block) []int {
	var out []int
	last := 0
	for _, b := range blocks {
		for i := last; i < b.AIndex; i++ {
			out = append(out, i)
		}
		last = b.AIndex + b.Len
	}
	return out
}
