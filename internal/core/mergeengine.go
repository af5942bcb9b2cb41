package core

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sdboyer/constext"

	"github.com/golang-vcs/corevcs/internal/corelog"
)

// ThreeWay implements spec §4.5.1's three_way(base, other, this) rule over
// any comparable scalar (a FileId, a string name, a Kind, a bool
// executability bit, ...). ok is false exactly when this disagrees with
// both base and other — the "conflict" case — and result is then the zero
// value of T; callers report the conflict using base/other/this directly
// rather than trusting the returned value.
func ThreeWay[T comparable](base, other, this T) (result T, ok bool) {
	switch {
	case base == other:
		// Only THIS changed (or nothing did).
		return this, true
	case this != base && this != other:
		var zero T
		return zero, false
	case this == other:
		// Ambiguous clean merge: both sides made the same change.
		return this, true
	default:
		// this == base: only OTHER changed.
		return other, true
	}
}

// LCAMultiWay implements spec §4.5.1's lca_multi_way rule: when criss-cross
// ancestry means there isn't one BASE but a set of LCAs, it first removes
// base itself from the LCA set, and delegates to ThreeWay against whichever
// single value survives; if the LCAs themselves disagree, allowOverridingLCA
// decides whether a side that supersedes every LCA value wins outright or
// the merge conflicts. allowOverridingLCA is false for content SHAs (a
// divergent LCA must never be silently picked for file content) and true
// for scalars like parent-id, name, and executability, per §4.5.1.
func LCAMultiWay[T comparable](base T, lcas []T, other, this T, allowOverridingLCA bool) (result T, ok bool) {
	if other == this {
		return this, true
	}
	var filtered []T
	for _, l := range lcas {
		if l != base {
			filtered = append(filtered, l)
		}
	}
	if len(filtered) == 0 {
		return ThreeWay(base, other, this)
	}
	if u, unique := soleValue(filtered); unique {
		return ThreeWay(u, other, this)
	}
	if allowOverridingLCA {
		otherInLCAs := containsValue(filtered, other)
		thisInLCAs := containsValue(filtered, this)
		if otherInLCAs && !thisInLCAs {
			return this, true
		}
		if thisInLCAs && !otherInLCAs {
			return other, true
		}
	}
	var zero T
	return zero, false
}

func soleValue[T comparable](vals []T) (T, bool) {
	var zero T
	if len(vals) == 0 {
		return zero, false
	}
	first := vals[0]
	for _, v := range vals[1:] {
		if v != first {
			return zero, false
		}
	}
	return first, true
}

func containsValue[T comparable](vals []T, target T) bool {
	for _, v := range vals {
		if v == target {
			return true
		}
	}
	return false
}

// TextMergeStrategy selects the text-merge backend dispatched per §4.5.2,
// collapsing merge.py's Merge3Merger/WeaveMerger/LCAMerger/Diff3Merger
// class hierarchy (spec §9's redesign note) into one enum plus a dispatch
// switch instead of a subclass per strategy.
type TextMergeStrategy uint8

const (
	StrategyThreeWay TextMergeStrategy = iota
	StrategyWeave
	StrategyLCA
	StrategyDiff3
)

func (s TextMergeStrategy) String() string {
	switch s {
	case StrategyWeave:
		return "weave"
	case StrategyLCA:
		return "lca"
	case StrategyDiff3:
		return "diff3"
	default:
		return "three_way"
	}
}

// IncompatibleOptionsError reports a Config combining mutually exclusive
// options, e.g. Reprocess and ShowBase (see SPEC_FULL.md §4.5).
type IncompatibleOptionsError struct {
	A, B string
}

func (e *IncompatibleOptionsError) Error() string {
	return e.A + " is incompatible with " + e.B
}

// Config bundles the MergeEngine's behavioral knobs.
type Config struct {
	Reprocess          bool
	ShowBase           bool
	TextStrategy       TextMergeStrategy
	AllowOverridingLCA bool // scalars use true; content resolution never does
}

// Configure validates a Config, rejecting Reprocess+ShowBase together.
func Configure(cfg Config) (Config, error) {
	if cfg.Reprocess && cfg.ShowBase {
		return Config{}, &IncompatibleOptionsError{A: "reprocess", B: "show_base"}
	}
	return cfg, nil
}

// MergeFileContentStatus is the result a PerFileMerger hook reports back,
// per §6's hook-registry contract.
type MergeFileContentStatus uint8

const (
	StatusNotApplicable MergeFileContentStatus = iota
	StatusSuccess
	StatusConflicted
	StatusDelete
	StatusDone
)

// MergeFileContentParams carries everything a content-merge hook needs to
// decide whether it applies to a given file.
type MergeFileContentParams struct {
	FileId   FileId
	BaseRev  RevId
	OtherRev RevId
	ThisRev  RevId
	BaseLines, OtherLines, ThisLines []string
	Winner   string // "this", "other", or "conflict" from the kind/content three-way
}

// MergeFileContentHook is one entry of the merge_file_content registry
// (§6): a factory producing a per-merger content handler, or nil if it
// does not apply to this merge at all.
type MergeFileContentHook func(*MergeEngine) PerFileMerger

// PerFileMerger is what a merge_file_content factory returns: something
// that can attempt to merge one file's content before the engine's default
// three-way text merge runs.
type PerFileMerger interface {
	MergeContents(params MergeFileContentParams) (MergeFileContentStatus, []string, error)
}

// MergeEngine resolves per-file kind/parent/name/content/executability
// decisions (§4.5) and streams them as either text-merge results or raw
// conflicts. It does not itself own a Tree or TreeTransform — those are
// supplied per call — keeping it usable against TransformPreview as
// easily as a real TreeTransform.
type MergeEngine struct {
	Config Config
	Hooks  []MergeFileContentHook

	Graph     Graph
	LCATrees  []RevId // non-nil signals criss-cross ancestry: use LCAMultiWay
	rawConflicts []Conflict

	log *corelog.Logger
}

// NewMergeEngine constructs a MergeEngine from a validated Config.
func NewMergeEngine(cfg Config, g Graph) (*MergeEngine, error) {
	cfg, err := Configure(cfg)
	if err != nil {
		return nil, err
	}
	return &MergeEngine{Config: cfg, Graph: g}, nil
}

// SetLogger attaches the trace sink conflicts and merge-plan fallbacks are
// reported through. A nil logger (the default) discards them.
func (m *MergeEngine) SetLogger(l *corelog.Logger) {
	m.log = l
}

// FileChange3 is the three-way (or LCA-multi-way, when LCAs is non-empty)
// input for one file's kind/parent/name/executable decisions, matching
// _entries3's per-file tuple.
type FileChange3 struct {
	FileId FileId

	BaseKind, OtherKind, ThisKind Kind
	LCAKinds                      []Kind

	BaseParent, OtherParent, ThisParent FileId
	LCAParents                          []FileId

	BaseName, OtherName, ThisName string
	LCANames                      []string

	BaseExec, OtherExec, ThisExec bool
	LCAExecs                      []bool

	ContentChanged bool
}

// FileDecision is the resolved outcome of MergeFile for one file: the
// winning kind/parent/name/executability, plus any conflicts raised while
// resolving them. A caller (normally a TreeTransform) uses this to stage
// the corresponding mutation.
type FileDecision struct {
	FileId     FileId
	Kind       Kind
	KindOK     bool
	Parent     FileId
	ParentOK   bool
	Name       string
	NameOK     bool
	Executable bool
	ExecOK     bool
	Conflicts  []Conflict
}

// MergeFile resolves one file's kind, parent, name and executability per
// §4.5 items 1, 2 and 4 (content is handled separately by MergeText/hooks,
// item 3). A disagreement on parent or name together raises one
// ConflictPath with all four values, matching merge.py's _merge_names
// (which treats parent-id and name as jointly reported).
func (m *MergeEngine) MergeFile(ch FileChange3) FileDecision {
	dec := FileDecision{FileId: ch.FileId}

	if len(m.LCATrees) == 0 {
		dec.Kind, dec.KindOK = ThreeWay(ch.BaseKind, ch.OtherKind, ch.ThisKind)
		dec.Parent, dec.ParentOK = ThreeWay(ch.BaseParent, ch.OtherParent, ch.ThisParent)
		dec.Name, dec.NameOK = ThreeWay(ch.BaseName, ch.OtherName, ch.ThisName)
		dec.Executable, dec.ExecOK = m.resolveExecutable(ch.BaseExec, ch.OtherExec, ch.ThisExec, ch.OtherKind)
	} else {
		dec.Kind, dec.KindOK = LCAMultiWay(ch.BaseKind, ch.LCAKinds, ch.OtherKind, ch.ThisKind, true)
		dec.Parent, dec.ParentOK = LCAMultiWay(ch.BaseParent, ch.LCAParents, ch.OtherParent, ch.ThisParent, true)
		dec.Name, dec.NameOK = LCAMultiWay(ch.BaseName, ch.LCANames, ch.OtherName, ch.ThisName, true)
		dec.Executable, dec.ExecOK = m.resolveExecutableLCA(ch)
	}

	if !dec.ParentOK || !dec.NameOK {
		c := Conflict{
			Kind:        ConflictPath,
			FileId:      ch.FileId,
			ThisParent:  ch.ThisParent,
			ThisName:    ch.ThisName,
			OtherParent: ch.OtherParent,
			OtherName:   ch.OtherName,
		}
		dec.Conflicts = append(dec.Conflicts, c)
		m.rawConflicts = append(m.rawConflicts, c)
	}
	return dec
}

// resolveExecutable implements §4.5 item 4: three-way on the bit, with
// disagreement resolving to "this" when OTHER removed the file entirely
// (KindNone), else to "other" — matching merge.py's _merge_executable
// special-case rather than raising yet another conflict kind for it.
func (m *MergeEngine) resolveExecutable(base, other, this bool, otherKind Kind) (bool, bool) {
	v, ok := ThreeWay(base, other, this)
	if ok {
		return v, true
	}
	if otherKind == KindNone {
		return this, true
	}
	return other, true
}

func (m *MergeEngine) resolveExecutableLCA(ch FileChange3) (bool, bool) {
	v, ok := LCAMultiWay(ch.BaseExec, ch.LCAExecs, ch.OtherExec, ch.ThisExec, true)
	if ok {
		return v, true
	}
	if ch.OtherKind == KindNone {
		return ch.ThisExec, true
	}
	return ch.OtherExec, true
}

// MergeText runs the configured TextMergeStrategy over a three-way (or
// LCA) text merge and returns the merged lines plus any text conflicts
// (§4.5.2). StrategyLCA replays a PlanLCAMerge plan; every other strategy,
// StrategyThreeWay and StrategyDiff3 included, replays a plain PlanMerge
// plan the same way StrategyWeave does.
func (m *MergeEngine) MergeText(g Graph, src TextSource, fileId FileId, a, b RevId) ([]string, []Conflict, error) {
	switch m.Config.TextStrategy {
	case StrategyLCA:
		plan, err := PlanLCAMerge(g, src, a, b)
		if err != nil {
			return nil, nil, errors.Wrap(err, "planning lca text merge")
		}
		return replayLCAPlan(fileId, plan, m.Config.ShowBase)
	default: // StrategyWeave, StrategyThreeWay and StrategyDiff3 all replay a plain plan here
		plan, err := PlanMerge(g, src, a, b)
		if err != nil {
			return nil, nil, errors.Wrap(err, "planning text merge")
		}
		lines, conflicts := replayPlan(fileId, plan, m.Config.ShowBase)
		if m.Config.Reprocess {
			lines, conflicts = reprocessPlan(fileId, plan, m.Config.ShowBase)
		}
		return lines, conflicts, nil
	}
}

// replayPlan is PlanWeaveMerge: it walks a plain PlanMerge's tagged lines,
// emitting unchanged/new-a/new-b lines straight through and collecting
// runs of killed-a/killed-b/killed-both into a conflict region bracketed
// by THIS/OTHER (and BASE, when showBase is set).
func replayPlan(fileId FileId, plan []PlanLine, showBase bool) ([]string, []Conflict) {
	var out []string
	var conflicts []Conflict
	i := 0
	for i < len(plan) {
		switch plan[i].Tag {
		case PlanUnchanged, PlanNewA, PlanNewB:
			out = append(out, plan[i].Line)
			i++
			continue
		case PlanIrrelevant:
			i++
			continue
		}
		// A conflict region: a run of killed-a/killed-b/killed-both plus
		// any interleaved new-a/new-b lines until the next unchanged line
		// (or end of plan) closes it out.
		var thisLines, otherLines, baseLines []string
		for i < len(plan) {
			t := plan[i].Tag
			if t == PlanUnchanged {
				break
			}
			switch t {
			case PlanNewA, PlanKilledB:
				thisLines = append(thisLines, plan[i].Line)
			case PlanNewB, PlanKilledA:
				otherLines = append(otherLines, plan[i].Line)
			case PlanKilledBoth:
				baseLines = append(baseLines, plan[i].Line)
			}
			i++
		}
		out = append(out, "<<<<<<< THIS\n")
		out = append(out, thisLines...)
		if showBase {
			out = append(out, "||||||| BASE\n")
			out = append(out, baseLines...)
		}
		out = append(out, "=======\n")
		out = append(out, otherLines...)
		out = append(out, ">>>>>>> OTHER\n")
		conflicts = append(conflicts, Conflict{Kind: ConflictText, FileId: fileId})
	}
	return out, conflicts
}

// reprocessPlan re-walks the replayed plan and collapses each conflict
// region that turns out, on a second look, to agree line-for-line between
// THIS and OTHER once BASE's contribution is set aside — shrinking (never
// growing) the conflicted range, per SPEC_FULL.md's invariant. A region
// collapses to clean output when its THIS and OTHER runs are textually
// identical.
func reprocessPlan(fileId FileId, plan []PlanLine, showBase bool) ([]string, []Conflict) {
	lines, conflicts := replayPlan(fileId, plan, showBase)
	var out []string
	var kept []Conflict
	ci := 0
	i := 0
	for i < len(lines) {
		if lines[i] != "<<<<<<< THIS\n" {
			out = append(out, lines[i])
			i++
			continue
		}
		start := i
		i++
		var this, other []string
		for lines[i] != "=======\n" {
			if lines[i] == "||||||| BASE\n" {
				for lines[i] != "=======\n" {
					i++
				}
				break
			}
			this = append(this, lines[i])
			i++
		}
		i++ // skip the "=======\n" this loop stopped on, or already past it
		for lines[i] != ">>>>>>> OTHER\n" {
			other = append(other, lines[i])
			i++
		}
		i++ // skip the closing marker
		if linesEqual(this, other) {
			out = append(out, this...)
		} else {
			out = append(out, lines[start:i]...)
			kept = append(kept, conflicts[ci])
		}
		ci++
	}
	return out, kept
}

// replayLCAPlan is the LCA-plan analog of replayPlan: new-a/new-b/
// unchanged pass straight through, a killed-a/killed-b line is simply
// dropped (the other side deleted it and no one contests that), and any
// run containing a conflicted-a/conflicted-b tag becomes a text conflict.
func replayLCAPlan(fileId FileId, plan []LCAPlanLine, showBase bool) ([]string, []Conflict) {
	var out []string
	var conflicts []Conflict
	i := 0
	for i < len(plan) {
		switch plan[i].Tag {
		case LCAUnchanged, LCANewA, LCANewB:
			out = append(out, plan[i].Line)
			i++
			continue
		case LCAKilledA, LCAKilledB:
			i++
			continue
		}
		var thisLines, otherLines []string
		for i < len(plan) {
			t := plan[i].Tag
			if t == LCAUnchanged {
				break
			}
			switch t {
			case LCAConflictedA, LCANewA:
				thisLines = append(thisLines, plan[i].Line)
			case LCAConflictedB, LCANewB:
				otherLines = append(otherLines, plan[i].Line)
			case LCAKilledA, LCAKilledB:
			}
			i++
		}
		out = append(out, "<<<<<<< THIS\n")
		out = append(out, thisLines...)
		out = append(out, "=======\n")
		out = append(out, otherLines...)
		out = append(out, ">>>>>>> OTHER\n")
		conflicts = append(conflicts, Conflict{Kind: ConflictText, FileId: fileId})
	}
	return out, conflicts
}

// CookConflicts converts raw conflicts accumulated by MergeFile (plus any
// a TreeTransform's find_conflicts appended via AddRawConflict) into the
// final, path-ordered CookedConflict list §4.5.3 calls for. pathOf maps a
// conflict's primary identifying field to a tree-relative path; the exact
// key it's given depends on Kind (FileId for path/contents conflicts,
// TransId for the rest), mirroring cook_conflicts' per-kind dispatch.
func (m *MergeEngine) CookConflicts(pathOf func(Conflict) string) []CookedConflict {
	cooked := make([]CookedConflict, 0, len(m.rawConflicts))
	for _, c := range m.rawConflicts {
		cc := CookedConflict{Kind: c.Kind, Path: pathOf(c), FileId: c.FileId, Message: c.Message}
		if c.Kind == ConflictPath {
			cc.ConflictPath = c.OtherName
		}
		cooked = append(cooked, cc)
	}
	sort.Slice(cooked, func(i, j int) bool { return cooked[i].Path < cooked[j].Path })
	return cooked
}

// MergeWithContext runs MergeText under a deadline of its own, combined
// with the caller's context via constext.Cons so that either the caller
// cancelling or the per-file budget expiring aborts the merge — neither
// context alone is authoritative. A merge this engine would otherwise
// complete fine is abandoned if either side is done before MergeText
// returns.
func (m *MergeEngine) MergeWithContext(ctx context.Context, perFileBudget time.Duration, g Graph, src TextSource, fileId FileId, a, b RevId) ([]string, []Conflict, error) {
	deadlineCtx, cancel := context.WithTimeout(context.Background(), perFileBudget)
	defer cancel()
	combined, cancelCombined := constext.Cons(ctx, deadlineCtx)
	defer cancelCombined()

	if err := combined.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "merge aborted before starting")
	}
	lines, conflicts, err := m.MergeText(g, src, fileId, a, b)
	if err != nil {
		return nil, nil, err
	}
	if err := combined.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "merge aborted")
	}
	return lines, conflicts, nil
}

// AddRawConflict lets a collaborator (typically TreeTransform.FindConflicts)
// feed conflicts discovered outside per-file resolution into the same
// cooking pipeline.
func (m *MergeEngine) AddRawConflict(c Conflict) {
	m.rawConflicts = append(m.rawConflicts, c)
	m.log.Logf("conflict: %s on %v", c.Kind, c.FileId)
}
