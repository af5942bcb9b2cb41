package core

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/golang-vcs/corevcs/internal/patiencediff"
)

// ValidateSymbolicName checks a weave version name that looks like a tag
// (starts with "v" followed by a digit, or is bare digits-and-dots)
// against real semantic-version parsing, returning the parsed version
// when name is tag-shaped. A name that isn't tag-shaped at all is not an
// error — §3's invariants never require a version name to be a tag, so a
// plain revision id like "rev-42" is left
// alone and ValidateSymbolicName reports ok == false rather than failing
// the Add.
func ValidateSymbolicName(name RevId) (v *semver.Version, ok bool, err error) {
	s := string(name)
	if s == "" {
		return nil, false, nil
	}
	first := s[0]
	if first != 'v' && (first < '0' || first > '9') {
		return nil, false, nil
	}
	parsed, err := semver.NewVersion(s)
	if err != nil {
		return nil, false, nil
	}
	return parsed, true, nil
}

// weaveOp tags an instruction element in a Weave's line stream. A line
// element carries op == 0 and its text in Line.
type weaveOp byte

const (
	opNone weaveOp = 0
	opOpen weaveOp = '{'
	opClose weaveOp = '}'
	opDeleteOpen  weaveOp = '['
	opDeleteClose weaveOp = ']'
)

type weaveElem struct {
	op   weaveOp
	ver  int  // version index the instruction names; unused for a line
	line string
}

// Weave is an append-only, line-based store of related text versions,
// mirroring the source's weave format (§3/§4.2): every version's text is
// recovered by scanning Open/Close/DeleteOpen/DeleteClose brackets rather
// than by storing each version's lines separately.
type Weave struct {
	Name string

	names   []RevId
	nameIdx map[RevId]int
	parents [][]int
	sha1s   []string
	weave   []weaveElem
}

// NewWeave returns an empty weave named name.
func NewWeave(name string) *Weave {
	return &Weave{Name: name, nameIdx: make(map[RevId]int)}
}

// NumVersions reports how many versions the weave holds.
func (w *Weave) NumVersions() int { return len(w.names) }

func (w *Weave) indexOf(name RevId) (int, bool) {
	i, ok := w.nameIdx[name]
	return i, ok
}

func sha1Lines(lines []string) string {
	h := sha1.New()
	for _, l := range lines {
		io.WriteString(h, l)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Add records a new version. If name already exists with identical parents
// and content it is a no-op returning the existing index and
// *AlreadyPresentError; if name exists with different content it fails with
// *RevisionAlreadyPresentError.
func (w *Weave) Add(name RevId, parentNames []RevId, lines []string) (int, error) {
	if existing, ok := w.indexOf(name); ok {
		sha1 := sha1Lines(lines)
		if sha1 == w.sha1s[existing] && sameParentSet(w.parentNames(existing), parentNames) {
			return existing, &AlreadyPresentError{Name: string(name)}
		}
		return existing, &RevisionAlreadyPresentError{Name: string(name)}
	}

	parentIdx := make([]int, 0, len(parentNames))
	for _, p := range parentNames {
		pi, ok := w.indexOf(p)
		if !ok {
			return 0, &RevisionNotPresentError{Rev: p}
		}
		parentIdx = append(parentIdx, pi)
	}

	newVersion := len(w.names)
	sha1 := sha1Lines(lines)
	w.names = append(w.names, name)
	w.nameIdx[name] = newVersion
	w.parents = append(w.parents, parentIdx)
	w.sha1s = append(w.sha1s, sha1)

	if len(parentIdx) == 0 {
		if len(lines) > 0 {
			w.weave = append(w.weave, weaveElem{op: opOpen, ver: newVersion})
			for _, l := range lines {
				w.weave = append(w.weave, weaveElem{line: l})
			}
			w.weave = append(w.weave, weaveElem{op: opClose, ver: newVersion})
		}
		return newVersion, nil
	}

	if len(parentIdx) == 1 && sha1 == w.sha1s[parentIdx[0]] {
		// identical to its single parent: nothing new to record.
		return newVersion, nil
	}

	ancestors := w.inclusions(parentIdx)
	basisLines, basisWeavePos := w.basisText(ancestors)
	if linesEqual(lines, basisLines) {
		// a merge that reproduces one side's text exactly needs no new
		// insertion/deletion region.
		return newVersion, nil
	}
	basisWeavePos = append(basisWeavePos, len(w.weave))

	blocks := patiencediff.MatchingBlocks(basisLines, lines)
	offset := 0
	prevA, prevB := 0, 0
	for _, b := range blocks {
		if b.AIndex > prevA || b.BIndex > prevB {
			i1, i2 := basisWeavePos[prevA], basisWeavePos[b.AIndex]
			j1, j2 := prevB, b.BIndex
			if i1 != i2 {
				w.insertElem(i1+offset, weaveElem{op: opDeleteOpen, ver: newVersion})
				w.insertElem(i2+offset+1, weaveElem{op: opDeleteClose, ver: newVersion})
				offset += 2
			}
			if j1 != j2 {
				at := i2 + offset
				ins := make([]weaveElem, 0, j2-j1+2)
				ins = append(ins, weaveElem{op: opOpen, ver: newVersion})
				for _, l := range lines[j1:j2] {
					ins = append(ins, weaveElem{line: l})
				}
				ins = append(ins, weaveElem{op: opClose, ver: newVersion})
				w.insertElems(at, ins)
				offset += 2 + (j2 - j1)
			}
		}
		prevA, prevB = b.AIndex+b.Len, b.BIndex+b.Len
	}
	return newVersion, nil
}

func (w *Weave) insertElem(at int, e weaveElem) {
	w.weave = append(w.weave, weaveElem{})
	copy(w.weave[at+1:], w.weave[at:])
	w.weave[at] = e
}

func (w *Weave) insertElems(at int, es []weaveElem) {
	w.weave = append(w.weave[:at], append(append([]weaveElem{}, es...), w.weave[at:]...)...)
}

// basisText materializes the lines visible to the inclusion set, returning
// each line's position in the weave's instruction stream (used to map a
// patience-diff opcode back onto weave offsets, per §4.2's add()).
func (w *Weave) basisText(ancestors map[int]bool) ([]string, []int) {
	var lines []string
	var pos []int
	var istack []int
	var dset = map[int]bool{}
	for i, e := range w.weave {
		switch e.op {
		case opOpen:
			istack = append(istack, e.ver)
		case opClose:
			istack = istack[:len(istack)-1]
		case opDeleteOpen:
			if ancestors[e.ver] {
				dset[e.ver] = true
			}
		case opDeleteClose:
			if ancestors[e.ver] {
				delete(dset, e.ver)
			}
		default:
			if len(istack) > 0 && ancestors[istack[len(istack)-1]] && len(dset) == 0 {
				lines = append(lines, e.line)
				pos = append(pos, i)
			}
		}
	}
	return lines, pos
}

func (w *Weave) parentNames(idx int) []RevId {
	out := make([]RevId, len(w.parents[idx]))
	for i, p := range w.parents[idx] {
		out[i] = w.names[p]
	}
	return out
}

func sameParentSet(a, b []RevId) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[RevId]bool, len(a))
	for _, x := range a {
		seen[x] = true
	}
	for _, x := range b {
		if !seen[x] {
			return false
		}
	}
	return true
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// inclusions returns the transitive closure of versions reachable from
// idxs, following recorded parent indices (all strictly less than their
// child, per invariant 3 of §3).
func (w *Weave) inclusions(idxs []int) map[int]bool {
	out := make(map[int]bool, len(idxs))
	for _, v := range idxs {
		out[v] = true
	}
	max := -1
	for _, v := range idxs {
		if v > max {
			max = v
		}
	}
	for v := max; v >= 0; v-- {
		if !out[v] {
			continue
		}
		for _, p := range w.parents[v] {
			out[p] = true
		}
	}
	return out
}

// walkFunc is called once per literal line in the weave's instruction
// stream, in file order, with the innermost-open insertion index and the
// set of currently active deletion indices.
type walkFunc func(lineno int, insert int, dset map[int]bool, line string) error

func (w *Weave) walkInternal(fn walkFunc) error {
	var istack []int
	dset := map[int]bool{}
	for lineno, e := range w.weave {
		switch e.op {
		case opOpen:
			istack = append(istack, e.ver)
		case opClose:
			if len(istack) == 0 {
				return errors.New("weave: unbalanced close instruction")
			}
			istack = istack[:len(istack)-1]
		case opDeleteOpen:
			dset[e.ver] = true
		case opDeleteClose:
			delete(dset, e.ver)
		default:
			if len(istack) == 0 {
				return errors.New("weave: literal line outside any insertion block")
			}
			snapshot := make(map[int]bool, len(dset))
			for k := range dset {
				snapshot[k] = true
			}
			if err := fn(lineno, istack[len(istack)-1], snapshot, e.line); err != nil {
				return err
			}
		}
	}
	if len(istack) != 0 {
		return errors.New("weave: unclosed insertion blocks at end of weave")
	}
	if len(dset) != 0 {
		return errors.New("weave: unclosed deletion blocks at end of weave")
	}
	return nil
}

// GetLines materializes version and verifies its SHA-1 against the stored
// digest, failing with *InvalidChecksumError on mismatch.
func (w *Weave) GetLines(version RevId) ([]string, error) {
	idx, ok := w.indexOf(version)
	if !ok {
		return nil, &RevisionNotPresentError{Rev: version}
	}
	included := w.inclusions([]int{idx})
	var out []string
	err := w.walkInternal(func(_ int, insert int, dset map[int]bool, line string) error {
		if !included[insert] {
			return nil
		}
		for d := range dset {
			if included[d] {
				return nil
			}
		}
		out = append(out, line)
		return nil
	})
	if err != nil {
		return nil, err
	}
	got := sha1Lines(out)
	if got != w.sha1s[idx] {
		return nil, &InvalidChecksumError{Name: string(version), Want: w.sha1s[idx], Got: got}
	}
	return out, nil
}

// Annotate returns one AnnotatedLine per line of version, tagging each with
// the version that introduced it.
func (w *Weave) Annotate(version RevId) ([]AnnotatedLine, error) {
	idx, ok := w.indexOf(version)
	if !ok {
		return nil, &RevisionNotPresentError{Rev: version}
	}
	included := w.inclusions([]int{idx})
	var out []AnnotatedLine
	err := w.walkInternal(func(_ int, insert int, dset map[int]bool, line string) error {
		if !included[insert] {
			return nil
		}
		for d := range dset {
			if included[d] {
				return nil
			}
		}
		out = append(out, AnnotatedLine{Origin: w.names[insert], Text: []byte(line)})
		return nil
	})
	return out, err
}

// PlanTag classifies one line of a PlanMerge result.
type PlanTag uint8

const (
	PlanUnchanged PlanTag = iota
	PlanKilledBase
	PlanKilledA
	PlanKilledB
	PlanKilledBoth
	PlanNewA
	PlanNewB
	PlanGhostA
	PlanGhostB
	PlanIrrelevant
)

func (t PlanTag) String() string {
	switch t {
	case PlanUnchanged:
		return "unchanged"
	case PlanKilledBase:
		return "killed-base"
	case PlanKilledA:
		return "killed-a"
	case PlanKilledB:
		return "killed-b"
	case PlanKilledBoth:
		return "killed-both"
	case PlanNewA:
		return "new-a"
	case PlanNewB:
		return "new-b"
	case PlanGhostA:
		return "ghost-a"
	case PlanGhostB:
		return "ghost-b"
	default:
		return "irrelevant"
	}
}

// PlanLine is one tagged line of a PlanMerge result.
type PlanLine struct {
	Tag  PlanTag
	Line string
}

// PlanMerge classifies every line reachable from a or b per §4.2's
// plan_merge rules: lines killed in a common ancestor are killed-base, lines
// introduced in the common ancestor and surviving on both sides are
// unchanged, lines introduced only on one side are new (or ghost, if later
// deleted on that same side), and anything else — present in neither
// ancestry frontier — is irrelevant.
func (w *Weave) PlanMerge(a, b RevId) ([]PlanLine, error) {
	ia, ok := w.indexOf(a)
	if !ok {
		return nil, &RevisionNotPresentError{Rev: a}
	}
	ib, ok := w.indexOf(b)
	if !ok {
		return nil, &RevisionNotPresentError{Rev: b}
	}
	incA := w.inclusions([]int{ia})
	incB := w.inclusions([]int{ib})
	incC := make(map[int]bool)
	for v := range incA {
		if incB[v] {
			incC[v] = true
		}
	}

	var out []PlanLine
	err := w.walkInternal(func(_ int, insert int, dset map[int]bool, line string) error {
		killedBase, killedA, killedB := false, false, false
		for d := range dset {
			if incC[d] {
				killedBase = true
			}
			if incA[d] {
				killedA = true
			}
			if incB[d] {
				killedB = true
			}
		}
		switch {
		case killedBase:
			out = append(out, PlanLine{Tag: PlanKilledBase, Line: line})
		case incC[insert]:
			switch {
			case killedA && killedB:
				out = append(out, PlanLine{Tag: PlanKilledBoth, Line: line})
			case killedA:
				out = append(out, PlanLine{Tag: PlanKilledA, Line: line})
			case killedB:
				out = append(out, PlanLine{Tag: PlanKilledB, Line: line})
			default:
				out = append(out, PlanLine{Tag: PlanUnchanged, Line: line})
			}
		case incA[insert]:
			if killedA {
				out = append(out, PlanLine{Tag: PlanGhostA, Line: line})
			} else {
				out = append(out, PlanLine{Tag: PlanNewA, Line: line})
			}
		case incB[insert]:
			if killedB {
				out = append(out, PlanLine{Tag: PlanGhostB, Line: line})
			} else {
				out = append(out, PlanLine{Tag: PlanNewB, Line: line})
			}
		default:
			out = append(out, PlanLine{Tag: PlanIrrelevant, Line: line})
		}
		return nil
	})
	return out, err
}

// RecordKind distinguishes a materialized record from one whose version is
// absent from the store (a ghost the consumer must decide how to handle).
type RecordKind uint8

const (
	RecordPresent RecordKind = iota
	RecordAbsent
)

// Record is one entry of a get_record_stream result.
type Record struct {
	Key   RevId
	Kind  RecordKind
	Lines []string
}

// RecordOrdering selects get_record_stream's traversal order.
type RecordOrdering uint8

const (
	OrderUnordered RecordOrdering = iota
	OrderTopological
)

// GetRecordStream returns one Record per requested key, in the requested
// ordering; a key absent from the weave yields a RecordAbsent record
// instead of an error, matching §4.2's "absent versions surface an Absent
// record" contract.
func (w *Weave) GetRecordStream(keys []RevId, ordering RecordOrdering) ([]Record, error) {
	out := make([]Record, 0, len(keys))
	present := make([]RevId, 0, len(keys))
	byKey := make(map[RevId]*Record, len(keys))
	for _, k := range keys {
		r := Record{Key: k}
		if _, ok := w.indexOf(k); !ok {
			r.Kind = RecordAbsent
		} else {
			present = append(present, k)
		}
		out = append(out, r)
		byKey[k] = &out[len(out)-1]
	}
	if ordering == OrderTopological {
		g := weaveGraph{w}
		sorted, err := TopoSort(g, present)
		if err != nil {
			return nil, err
		}
		present = sorted
	}
	for _, k := range present {
		lines, err := w.GetLines(k)
		if err != nil {
			return nil, err
		}
		r := byKey[k]
		r.Lines = lines
	}
	// re-order the output for topological requests so present records
	// come back in sorted order; absent records keep their input order
	// and sort after them.
	if ordering == OrderTopological {
		var absent []Record
		for _, r := range out {
			if r.Kind == RecordAbsent {
				absent = append(absent, r)
			}
		}
		ordered := make([]Record, 0, len(out))
		for _, k := range present {
			ordered = append(ordered, *byKey[k])
		}
		ordered = append(ordered, absent...)
		out = ordered
	}
	return out, nil
}

type weaveGraph struct{ w *Weave }

func (g weaveGraph) Parents(rev RevId) ([]RevId, error) {
	idx, ok := g.w.indexOf(rev)
	if !ok {
		return nil, &RevisionNotPresentError{Rev: rev}
	}
	return g.w.parentNames(idx), nil
}

// InsertRecordStream pulls fulltexts from stream into the weave via Add,
// skipping a record whose key is already present with a matching SHA-1
// (§4.2: "duplicates are silently skipped when SHA matches").
func (w *Weave) InsertRecordStream(stream []Record) error {
	for _, r := range stream {
		if r.Kind == RecordAbsent {
			continue
		}
		if idx, ok := w.indexOf(r.Key); ok {
			if sha1Lines(r.Lines) == w.sha1s[idx] {
				continue
			}
		}
		parents, err := w.recordParents(r)
		if err != nil {
			return err
		}
		if _, err := w.Add(r.Key, parents, r.Lines); err != nil {
			if _, ok := err.(*AlreadyPresentError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func (w *Weave) recordParents(r Record) ([]RevId, error) {
	if idx, ok := w.indexOf(r.Key); ok {
		return w.parentNames(idx), nil
	}
	return nil, nil
}

// Check verifies two structural invariants of §4.2/§8: every version's
// parents are strictly lower-indexed, and every version re-extracts to its
// stored SHA-1. It does not separately cross-check ancestor sets against
// the instruction walk.
func (w *Weave) Check() error {
	for v, ps := range w.parents {
		for _, p := range ps {
			if p >= v {
				return errors.Errorf("weave %s: version %d has out-of-order parent %d", w.Name, v, p)
			}
		}
	}
	for v, name := range w.names {
		got, err := w.GetLines(name)
		if err != nil {
			return err
		}
		if sha1Lines(got) != w.sha1s[v] {
			return errors.Errorf("weave %s: version %s failed checksum re-verification", w.Name, name)
		}
	}
	return nil
}

// --- on-disk format (§6: "Weave on disk") ---

const weaveMagic = "# bzr weave file v5"

// WriteTo serializes the weave in the §6 on-disk format: a magic header,
// one "i <name>"/"1 <sha1>" version-header block per version (parent
// indices recorded as bare "<n>" lines between them), and the
// instruction/line stream using "{"/"}"/"["/"]" markers with literal lines
// prefixed ". " (a stored line without a trailing newline is prefixed ", "
// instead, so ReadWeave can restore it byte for byte).
func (w *Weave) WriteTo(out io.Writer) error {
	bw := bufio.NewWriter(out)
	fmt.Fprintln(bw, weaveMagic)
	for v := range w.names {
		for _, p := range w.parents[v] {
			fmt.Fprintf(bw, "%d\n", p)
		}
		fmt.Fprintf(bw, "i %s\n", w.names[v])
		fmt.Fprintf(bw, "1 %s\n", w.sha1s[v])
		fmt.Fprintln(bw, "n")
	}
	fmt.Fprintln(bw, "w")
	for _, e := range w.weave {
		switch e.op {
		case opOpen:
			fmt.Fprintf(bw, "{ %d\n", e.ver)
		case opClose:
			fmt.Fprintf(bw, "} %d\n", e.ver)
		case opDeleteOpen:
			fmt.Fprintf(bw, "[ %d\n", e.ver)
		case opDeleteClose:
			fmt.Fprintf(bw, "] %d\n", e.ver)
		default:
			if strings.HasSuffix(e.line, "\n") {
				fmt.Fprintf(bw, ". %s", e.line)
			} else {
				fmt.Fprintf(bw, ", %s\n", e.line)
			}
		}
	}
	fmt.Fprintln(bw, "W")
	return bw.Flush()
}

// ReadWeave parses the §6 on-disk format written by WriteTo.
func ReadWeave(name string, in io.Reader) (*Weave, error) {
	w := NewWeave(name)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !sc.Scan() {
		return nil, errors.New("weave: empty file")
	}
	if sc.Text() != weaveMagic {
		return nil, errors.Errorf("weave: bad magic %q", sc.Text())
	}

	var pendingParents []int
	sawInstructionMarker := false
	for !sawInstructionMarker && sc.Scan() {
		line := sc.Text()
		switch {
		case line == "w":
			sawInstructionMarker = true
		case line == "n":
			pendingParents = nil
		case strings.HasPrefix(line, "i "):
			w.names = append(w.names, RevId(strings.TrimPrefix(line, "i ")))
		case strings.HasPrefix(line, "1 "):
			w.sha1s = append(w.sha1s, strings.TrimPrefix(line, "1 "))
			w.parents = append(w.parents, append([]int{}, pendingParents...))
		default:
			n, err := strconv.Atoi(line)
			if err != nil {
				return nil, errors.Wrapf(err, "weave: malformed header line %q", line)
			}
			pendingParents = append(pendingParents, n)
		}
	}
	if !sawInstructionMarker {
		return nil, errors.New("weave: missing instruction section")
	}

	for i, n := range w.names {
		w.nameIdx[n] = i
	}
	for sc.Scan() {
		line := sc.Text()
		if line == "W" {
			if err := sc.Err(); err != nil {
				return nil, err
			}
			return w, nil
		}
		switch {
		case strings.HasPrefix(line, "{ "):
			w.weave = append(w.weave, weaveElem{op: opOpen, ver: atoiMust(line[2:])})
		case strings.HasPrefix(line, "} "):
			w.weave = append(w.weave, weaveElem{op: opClose, ver: atoiMust(line[2:])})
		case strings.HasPrefix(line, "[ "):
			w.weave = append(w.weave, weaveElem{op: opDeleteOpen, ver: atoiMust(line[2:])})
		case strings.HasPrefix(line, "] "):
			w.weave = append(w.weave, weaveElem{op: opDeleteClose, ver: atoiMust(line[2:])})
		case strings.HasPrefix(line, ". "):
			w.weave = append(w.weave, weaveElem{line: strings.TrimPrefix(line, ". ") + "\n"})
		case strings.HasPrefix(line, ", "):
			w.weave = append(w.weave, weaveElem{line: strings.TrimPrefix(line, ", ")})
		default:
			return nil, errors.Errorf("weave: unexpected instruction line %q", line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("weave: truncated before closing marker")
}

func atoiMust(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// weaveIndex is the go-toml sidecar shape for DumpIndex/LoadIndexInto: a
// purely diagnostic snapshot of each version's name, parents and SHA-1. It
// is written after the weave file itself and is never consulted by
// GetLines/Annotate/PlanMerge — the instruction stream remains the source
// of truth (§5's rename-after-write guarantee only covers the weave file;
// a missing or stale sidecar is not an error).
type weaveIndex struct {
	Versions []weaveIndexEntry `toml:"version"`
}

type weaveIndexEntry struct {
	Name    string `toml:"name"`
	Parents []string `toml:"parents"`
	Sha1    string `toml:"sha1"`
}

// DumpIndex writes the diagnostic TOML sidecar for the weave's current
// version table.
func (w *Weave) DumpIndex(out io.Writer) error {
	idx := weaveIndex{Versions: make([]weaveIndexEntry, len(w.names))}
	for i, name := range w.names {
		parents := make([]string, len(w.parents[i]))
		for j, p := range w.parents[i] {
			parents[j] = string(w.names[p])
		}
		idx.Versions[i] = weaveIndexEntry{Name: string(name), Parents: parents, Sha1: w.sha1s[i]}
	}
	buf, err := toml.Marshal(idx)
	if err != nil {
		return errors.Wrap(err, "weave: encoding index sidecar")
	}
	_, err = out.Write(buf)
	return err
}

// LoadIndexInto reads a sidecar written by DumpIndex and returns it for
// diagnostic comparison against a weave's live version table; it does not
// touch any Weave.
func LoadIndexInto(in io.Reader) (*weaveIndex, error) {
	buf, err := io.ReadAll(in)
	if err != nil {
		return nil, err
	}
	var idx weaveIndex
	if err := toml.Unmarshal(buf, &idx); err != nil {
		return nil, errors.Wrap(err, "weave: loading index sidecar")
	}
	return &idx, nil
}
