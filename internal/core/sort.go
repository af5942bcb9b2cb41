package core

// TopoSort returns nodes in an order where every parent precedes its
// children. It fails with *GraphCycleError if the graph has a back-edge.
//
// nodes is the full set of revisions to include; g.Parents is only
// consulted for revisions in that set (a parent outside the set, e.g. a
// ghost, is treated as absent and simply doesn't constrain ordering).
func TopoSort(g Graph, nodes []RevId) ([]RevId, error) {
	const (
		white = iota // unvisited
		grey         // on the current DFS stack
		black        // finished
	)
	color := make(map[RevId]int, len(nodes))
	in := make(map[RevId]bool, len(nodes))
	for _, n := range nodes {
		in[n] = true
	}

	var out []RevId
	var stack []RevId

	var visit func(n RevId) error
	visit = func(n RevId) error {
		switch color[n] {
		case black:
			return nil
		case grey:
			// Back-edge: report the cycle from n's first occurrence.
			idx := 0
			for i, s := range stack {
				if s == n {
					idx = i
					break
				}
			}
			cyc := append(append([]RevId{}, stack[idx:]...), n)
			return &GraphCycleError{Stack: cyc}
		}
		color[n] = grey
		stack = append(stack, n)

		parents, err := g.Parents(n)
		if err != nil {
			return err
		}
		for _, p := range parents {
			if !in[p] {
				continue
			}
			if err := visit(p); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		color[n] = black
		out = append(out, n)
		return nil
	}

	for _, n := range nodes {
		if color[n] == white {
			if err := visit(n); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// MergeSortRow is one row of MergeSort's output.
type MergeSortRow struct {
	Sequence   int
	Node       RevId
	MergeDepth int
	Revno      []int
	EndOfMerge bool
}

// MergeSort produces a merge-aware ordering of the ancestry of tip: the
// left-most parent of every node is its mainline continuation, right-hand
// parents spawn nested subsequences one merge_depth deeper. See spec §4.1
// for the full contract.
//
// If mainline is non-empty, the graph is rewritten so each consecutive
// pair in mainline has the first as the left-most parent of the second,
// and the walk stops at mainline[0].
func MergeSort(g Graph, tip RevId, mainline []RevId, generateRevno bool) ([]MergeSortRow, error) {
	eff := g
	var stopAt RevId
	if len(mainline) > 0 {
		eff = &mainlineOverlay{base: g, mainline: mainline}
		stopAt = mainline[0]
	}

	ms := &mergeSorter{g: eff, generateRevno: generateRevno, stopAt: stopAt, hasStop: len(mainline) > 0}
	if err := ms.walk(tip); err != nil {
		return nil, err
	}

	// ms.rows was built in emission order ("left subtree, right subtree,
	// node") which is bottom-up; reverse it so the output reads top-down.
	rows := ms.rows
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	for i := range rows {
		rows[i].Sequence = i
	}

	// end_of_merge is true when the next emitted row has a lower depth, or
	// equal depth but isn't a parent of this node (multi-merge commits).
	for i := range rows {
		if i == len(rows)-1 {
			rows[i].EndOfMerge = true
			continue
		}
		next := rows[i+1]
		if next.MergeDepth < rows[i].MergeDepth {
			rows[i].EndOfMerge = true
			continue
		}
		if next.MergeDepth == rows[i].MergeDepth {
			parents, err := eff.Parents(rows[i].Node)
			if err != nil {
				return nil, err
			}
			found := false
			for _, p := range parents {
				if p == next.Node {
					found = true
					break
				}
			}
			rows[i].EndOfMerge = !found
		}
	}

	return rows, nil
}

// mainlineOverlay rewrites Parents so that for each consecutive pair in
// mainline, the first is the left-most parent of the second.
type mainlineOverlay struct {
	base     Graph
	mainline []RevId
}

func (o *mainlineOverlay) Parents(rev RevId) ([]RevId, error) {
	p, err := o.base.Parents(rev)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(o.mainline); i++ {
		if o.mainline[i] == rev {
			forced := o.mainline[i-1]
			rest := make([]RevId, 0, len(p))
			for _, x := range p {
				if x != forced {
					rest = append(rest, x)
				}
			}
			return append([]RevId{forced}, rest...), nil
		}
	}
	return p, nil
}

type mergeSorter struct {
	g             Graph
	generateRevno bool
	stopAt        RevId
	hasStop       bool

	rows     []MergeSortRow
	visited  map[RevId]bool
	revnoOf  map[RevId][]int
	branches map[string]int // parent tuple key -> next branch index
}

func (ms *mergeSorter) walk(tip RevId) error {
	ms.visited = make(map[RevId]bool)
	ms.revnoOf = make(map[RevId][]int)
	ms.branches = make(map[string]int)
	rootIdx := 0

	var rec func(node RevId, depth int) error
	rec = func(node RevId, depth int) error {
		if node == NullRevision || ms.visited[node] {
			return nil
		}
		ms.visited[node] = true

		parents, err := ms.g.Parents(node)
		if err != nil {
			return err
		}

		if ms.generateRevno {
			if len(parents) == 0 {
				if rootIdx == 0 {
					ms.revnoOf[node] = []int{1}
				} else {
					ms.revnoOf[node] = []int{0, rootIdx, 1}
				}
				rootIdx++
			}
		}

		// Left-hand (mainline) parent first, so that any ancestor also
		// reachable from a right-hand branch gets permanently claimed by
		// the mainline walk via ms.visited, not the merge branch — the
		// mainline continuation wins ties per §4.1/tsort.py's
		// MergeSorter.iter_topo_order. Only after the left spine is fully
		// walked do the right-hand (merge) parents get their own subtrees
		// numbered; a right-hand parent never determines this node's own
		// revno, only the mainline/left parent does.
		if len(parents) > 0 {
			left := parents[0]
			if !(ms.hasStop && left == ms.stopAt) {
				if err := rec(left, depth); err != nil {
					return err
				}
			}
			if ms.generateRevno {
				ms.assignRevno(left, node)
			}
		}

		for i := len(parents) - 1; i >= 1; i-- {
			p := parents[i]
			if ms.hasStop && p == ms.stopAt {
				continue
			}
			if err := rec(p, depth+1); err != nil {
				return err
			}
		}

		row := MergeSortRow{Node: node, MergeDepth: depth}
		if ms.generateRevno {
			row.Revno = append([]int{}, ms.revnoOf[node]...)
		}
		ms.rows = append(ms.rows, row)
		return nil
	}

	return rec(tip, 0)
}

// assignRevno gives child its revno tuple from its left-hand parent: the
// first left-hand child a parent is seen to have extends the parent's
// tuple's last component by one; every subsequent left-hand child of that
// same parent (i.e. every sibling branch point) instead spawns a new
// "(parent_tuple, branch_index, 1)" suffix.
func (ms *mergeSorter) assignRevno(parent, child RevId) {
	if _, already := ms.revnoOf[child]; already {
		return
	}
	pr, havePr := ms.revnoOf[parent]
	if !havePr {
		// parent sits past the mainline-stop boundary and was never
		// walked, so it never got a tuple of its own; leave child
		// unnumbered rather than building on an empty tuple.
		return
	}
	key := revnoKey(pr)
	n, seen := ms.branches[key]
	if !seen {
		tuple := append([]int{}, pr...)
		tuple[len(tuple)-1]++
		ms.revnoOf[child] = tuple
		ms.branches[key] = 1
		return
	}
	ms.branches[key] = n + 1
	ms.revnoOf[child] = append(append([]int{}, pr...), ms.branches[key], 1)
}

func revnoKey(tuple []int) string {
	b := make([]byte, 0, len(tuple)*4)
	for _, x := range tuple {
		b = append(b, byte(x), byte(x>>8), byte(x>>16), byte(x>>24), '.')
	}
	return string(b)
}
