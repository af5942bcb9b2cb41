package core

import (
	"fmt"
	"strings"
)

// GraphCycleError reports the back-edge SortEngine.TopoSort found. stack is
// the path from the cycle's entry point back to itself.
type GraphCycleError struct {
	Stack []RevId
}

func (e *GraphCycleError) Error() string {
	parts := make([]string, len(e.Stack))
	for i, r := range e.Stack {
		parts[i] = string(r)
	}
	return fmt.Sprintf("cycle in graph: %s", strings.Join(parts, " -> "))
}

// RevisionNotPresentError reports a RevId a Graph or WeaveStore was asked
// for but does not have.
type RevisionNotPresentError struct {
	Rev RevId
}

func (e *RevisionNotPresentError) Error() string {
	return fmt.Sprintf("revision %q not present", string(e.Rev))
}

// InvalidChecksumError reports that materializing a weave version produced
// text whose SHA-1 does not match the stored digest.
type InvalidChecksumError struct {
	Name string
	Want string
	Got  string
}

func (e *InvalidChecksumError) Error() string {
	return fmt.Sprintf("invalid checksum for %q: want %s, got %s", e.Name, e.Want, e.Got)
}

// AlreadyPresentError reports WeaveStore.Add called with a name that
// already exists with identical parents and content.
type AlreadyPresentError struct {
	Name string
}

func (e *AlreadyPresentError) Error() string {
	return fmt.Sprintf("version %q already present with identical content", e.Name)
}

// RevisionAlreadyPresentError reports WeaveStore.Add called with a name
// that already exists but with different parents or content.
type RevisionAlreadyPresentError struct {
	Name string
}

func (e *RevisionAlreadyPresentError) Error() string {
	return fmt.Sprintf("version %q already present with different content", e.Name)
}

// MismatchedLinesError reports Reannotate's right-parent reconciliation
// step given an annotated line count that does not match the new text it
// is supposed to annotate.
type MismatchedLinesError struct {
	NewLines, AnnotatedLines int
}

func (e *MismatchedLinesError) Error() string {
	return fmt.Sprintf("mismatched new_lines (%d) and annotated_lines (%d)", e.NewLines, e.AnnotatedLines)
}

// MalformedTransformError reports Apply called with unresolved conflicts
// and NoConflicts == false.
type MalformedTransformError struct {
	Conflicts []Conflict
}

func (e *MalformedTransformError) Error() string {
	return fmt.Sprintf("transform has %d unresolved conflict(s)", len(e.Conflicts))
}

// DuplicateKeyError reports the same TransId registered twice.
type DuplicateKeyError struct {
	Id TransId
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate trans-id %d", e.Id)
}

// NoSuchFileError reports a query for the kind of an existing-tree path
// that does not exist.
type NoSuchFileError struct {
	Path string
}

func (e *NoSuchFileError) Error() string {
	return fmt.Sprintf("no such file: %s", e.Path)
}

// NoFinalPathError reports a request for the final path of a trans-id that
// has neither a name nor a parent.
type NoFinalPathError struct {
	Id TransId
}

func (e *NoFinalPathError) Error() string {
	return fmt.Sprintf("trans-id %d has no final path", e.Id)
}

// CantMoveRootError reports an attempt to move the tree root. It is
// returned by TreeTransform.CantMoveRoot for the root trans-id; AdjustPath
// does not check for the root and returns no error.
type CantMoveRootError struct{}

func (e *CantMoveRootError) Error() string {
	return "can't move the tree root"
}

// ExistingLimboError reports that a prior transform left a limbo directory
// behind.
type ExistingLimboError struct {
	Path string
}

func (e *ExistingLimboError) Error() string {
	return fmt.Sprintf("existing limbo directory at %s: a previous transform was not finalized", e.Path)
}

// ImmortalLimboError reports that a limbo directory could not be removed
// during Finalize.
type ImmortalLimboError struct {
	Path string
	Err  error
}

func (e *ImmortalLimboError) Error() string {
	return fmt.Sprintf("could not remove limbo directory %s: %v", e.Path, e.Err)
}

// OrphaningError reports that the configured orphan policy refused to
// relocate an orphan, forcing the conflict path.
type OrphaningError struct {
	Path string
	Err  error
}

func (e *OrphaningError) Error() string {
	return fmt.Sprintf("could not orphan %s: %v", e.Path, e.Err)
}

// UnrelatedBranchesError reports that no common ancestor exists between
// two revisions a caller required one for.
type UnrelatedBranchesError struct {
	A, B RevId
}

func (e *UnrelatedBranchesError) Error() string {
	return fmt.Sprintf("revisions %q and %q share no common ancestor", string(e.A), string(e.B))
}

// CannotReverseCherrypickError reports that the configured merge strategy
// does not support the requested direction.
type CannotReverseCherrypickError struct {
	Strategy TextMergeStrategy
}

func (e *CannotReverseCherrypickError) Error() string {
	return fmt.Sprintf("merge strategy %v cannot run in reverse", e.Strategy)
}
