// Package core implements the three engines described by the system
// overview: SortEngine, WeaveStore (with its MergePlanner and Annotator),
// and TreeTransform, plus the MergeEngine that ties text/name/parent/kind
// resolution together and feeds decisions into a transform.
//
// It is one package, the way the teacher repo keeps its whole solver
// engine in a single gps package rather than splitting by concern: RevId,
// FileId and Tree are shared vocabulary tight enough across all five
// components that splitting them apart would just relocate an import
// cycle behind a shared types package.
package core

import "fmt"

// RevId is an opaque revision identifier. The empty tree is denoted by
// NullRevision.
type RevId string

// NullRevision is the reserved RevId denoting the empty tree.
const NullRevision RevId = "null:"

// FileId is an opaque, rename-stable file identifier.
type FileId string

// TextKey identifies one version of one file's text.
type TextKey struct {
	File FileId
	Rev  RevId
}

func (k TextKey) String() string {
	return fmt.Sprintf("%s@%s", k.File, k.Rev)
}

// AnnotatedLine is one line of text tagged with the revision that
// introduced it.
type AnnotatedLine struct {
	Origin RevId
	Text   []byte
}

// Kind enumerates the inventory entry kinds a TreeTransform can stage.
type Kind uint8

const (
	KindNone Kind = iota
	KindFile
	KindDirectory
	KindSymlink
	KindTreeReference
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindTreeReference:
		return "tree-reference"
	default:
		return "none"
	}
}

// Executable is a tri-state: unknown/unset, true, or false. Only files may
// carry a non-None value (invariant 4 of §3).
type Executable uint8

const (
	ExecUnset Executable = iota
	ExecTrue
	ExecFalse
)

// Entry is an inventory entry: the tagged-variant replacement (§9,
// "Dynamic dispatch over inventory entries") for the source's per-kind
// entry subclasses. Kind == KindNone is the distinct "no entry" sentinel;
// code that used to test `ie is None` tests Kind == KindNone instead.
type Entry struct {
	FileId          FileId
	Name            string
	ParentId        FileId // zero value means root (no parent)
	IsRoot          bool
	Kind            Kind
	Executable      bool
	SymlinkTarget   string
	ReferenceRev    RevId
}

// Graph maps a RevId to its parents. Parent order is significant: index 0
// is the left-hand (mainline) parent.
type Graph interface {
	Parents(rev RevId) ([]RevId, error)
}

// MapGraph is the simplest Graph: an in-memory adjacency map. It is the
// arena-of-indices replacement (§9) for a pointer graph — nodes are keys
// into a map instead of heap-allocated graph nodes with back-pointers.
type MapGraph map[RevId][]RevId

func (g MapGraph) Parents(rev RevId) ([]RevId, error) {
	if rev == NullRevision {
		return nil, nil
	}
	p, ok := g[rev]
	if !ok {
		return nil, &RevisionNotPresentError{Rev: rev}
	}
	return p, nil
}

// HeadsProvider answers which revisions among a set are not ancestors of
// any other revision in that set — the Annotator's reconciliation oracle
// (§4.4) and the MergeEngine's ancestry queries (§6).
type HeadsProvider interface {
	Heads(revs []RevId) (map[RevId]bool, error)
}
