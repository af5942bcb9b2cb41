package core

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-vcs/corevcs/internal/corelog"
)

// fakeTree is a minimal in-memory Tree fixture: a single root directory with
// no children, case-sensitive by default.
type fakeTree struct {
	root          FileId
	ids           map[FileId]string
	kinds         map[FileId]Kind
	caseSensitive bool
}

func newFakeTree() *fakeTree {
	return &fakeTree{
		root:          "root-id",
		ids:           map[FileId]string{"root-id": "/"},
		kinds:         map[FileId]Kind{"root-id": KindDirectory},
		caseSensitive: true,
	}
}

func (f *fakeTree) RootId() FileId { return f.root }
func (f *fakeTree) Path2Id(path string) (FileId, bool) {
	for id, p := range f.ids {
		if p == path {
			return id, true
		}
	}
	return "", false
}
func (f *fakeTree) Id2Path(id FileId) (string, bool) { p, ok := f.ids[id]; return p, ok }
func (f *fakeTree) HasId(id FileId) bool             { _, ok := f.ids[id]; return ok }
func (f *fakeTree) KindOf(id FileId) Kind            { return f.kinds[id] }
func (f *fakeTree) IsExecutable(id FileId) bool      { return false }
func (f *fakeTree) CaseSensitive() bool              { return f.caseSensitive }

func newTestBaseDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "corevcs-transform-")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestTreePathTransIdMemoizesRoot(t *testing.T) {
	tree := newFakeTree()
	base := newTestBaseDir(t)
	tt, err := NewTreeTransform(tree, base)
	if err != nil {
		t.Fatal(err)
	}
	defer tt.Finalize()

	if tt.TreePathTransId("/") != rootTransId {
		t.Fatal("expected root path to resolve to rootTransId")
	}
}

func TestNewTreeTransformRejectsExistingLimbo(t *testing.T) {
	tree := newFakeTree()
	base := newTestBaseDir(t)
	if err := os.MkdirAll(filepath.Join(base, "limbo"), 0755); err != nil {
		t.Fatal(err)
	}
	_, err := NewTreeTransform(tree, base)
	if _, ok := err.(*ExistingLimboError); !ok {
		t.Fatalf("expected *ExistingLimboError, got %v", err)
	}
}

func TestCreateFileAndApplyWritesContent(t *testing.T) {
	tree := newFakeTree()
	base := newTestBaseDir(t)
	tt, err := NewTreeTransform(tree, base)
	if err != nil {
		t.Fatal(err)
	}

	id := tt.NewTransId()
	tt.SetName(id, "hello.txt")
	tt.SetParent(id, rootTransId)
	tt.CreateFile(id, []string{"line one\n", "line two\n"})
	tt.Version(id, "hello-id")

	if conflicts := tt.FindConflicts(); len(conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %+v", conflicts)
	}

	modified, err := tt.Apply(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(modified) != 1 || modified[0] != "/hello.txt" {
		t.Fatalf("expected /hello.txt reported modified, got %v", modified)
	}

	data, err := ioutil.ReadFile(filepath.Join(base, "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "line one\nline two\n" {
		t.Fatalf("unexpected file content: %q", data)
	}

	if err := tt.Finalize(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(base, "limbo")); !os.IsNotExist(err) {
		t.Fatal("expected limbo directory to be removed by Finalize")
	}
}

func TestCreateDirectoryThenFileInside(t *testing.T) {
	tree := newFakeTree()
	base := newTestBaseDir(t)
	tt, err := NewTreeTransform(tree, base)
	if err != nil {
		t.Fatal(err)
	}
	defer tt.Finalize()

	dir := tt.NewTransId()
	tt.SetName(dir, "sub")
	tt.SetParent(dir, rootTransId)
	tt.CreateDirectory(dir)
	tt.Version(dir, "sub-id")

	file := tt.NewTransId()
	tt.SetName(file, "nested.txt")
	tt.SetParent(file, dir)
	tt.CreateFile(file, []string{"x\n"})
	tt.Version(file, "nested-id")

	if conflicts := tt.FindConflicts(); len(conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %+v", conflicts)
	}
	if _, err := tt.Apply(false); err != nil {
		t.Fatal(err)
	}

	data, err := ioutil.ReadFile(filepath.Join(base, "sub", "nested.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "x\n" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestFindConflictsDuplicateNamesSameParent(t *testing.T) {
	tree := newFakeTree()
	base := newTestBaseDir(t)
	tt, err := NewTreeTransform(tree, base)
	if err != nil {
		t.Fatal(err)
	}
	defer tt.Finalize()

	a := tt.NewTransId()
	tt.SetName(a, "dupe.txt")
	tt.SetParent(a, rootTransId)
	tt.CreateFile(a, []string{"a\n"})
	tt.Version(a, "a-id")

	b := tt.NewTransId()
	tt.SetName(b, "dupe.txt")
	tt.SetParent(b, rootTransId)
	tt.CreateFile(b, []string{"b\n"})
	tt.Version(b, "b-id")

	conflicts := tt.FindConflicts()
	found := false
	for _, c := range conflicts {
		if c.Kind == ConflictDuplicate && c.Name == "dupe.txt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a duplicate-name conflict, got %+v", conflicts)
	}
}

func TestFindConflictsCaseFoldedDuplicateWhenCaseInsensitive(t *testing.T) {
	tree := newFakeTree()
	tree.caseSensitive = false
	base := newTestBaseDir(t)
	tt, err := NewTreeTransform(tree, base)
	if err != nil {
		t.Fatal(err)
	}
	defer tt.Finalize()

	a := tt.NewTransId()
	tt.SetName(a, "File.txt")
	tt.SetParent(a, rootTransId)
	tt.CreateFile(a, []string{"a\n"})
	tt.Version(a, "a-id")

	b := tt.NewTransId()
	tt.SetName(b, "file.txt")
	tt.SetParent(b, rootTransId)
	tt.CreateFile(b, []string{"b\n"})
	tt.Version(b, "b-id")

	conflicts := tt.FindConflicts()
	found := false
	for _, c := range conflicts {
		if c.Kind == ConflictDuplicate {
			found = true
		}
	}
	if !found {
		t.Fatal("expected case-folded duplicate-name conflict when tree is case-insensitive")
	}
}

func TestFindConflictsNonDirectoryParent(t *testing.T) {
	tree := newFakeTree()
	base := newTestBaseDir(t)
	tt, err := NewTreeTransform(tree, base)
	if err != nil {
		t.Fatal(err)
	}
	defer tt.Finalize()

	file := tt.NewTransId()
	tt.SetName(file, "notadir")
	tt.SetParent(file, rootTransId)
	tt.CreateFile(file, []string{"x\n"})
	tt.Version(file, "file-id")

	child := tt.NewTransId()
	tt.SetName(child, "child")
	tt.SetParent(child, file)
	tt.CreateFile(child, []string{"y\n"})
	tt.Version(child, "child-id")

	conflicts := tt.FindConflicts()
	found := false
	for _, c := range conflicts {
		if c.Kind == ConflictNonDirectoryParent && c.TransId == child {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a non-directory-parent conflict, got %+v", conflicts)
	}
}

func TestFindConflictsParentLoop(t *testing.T) {
	tree := newFakeTree()
	base := newTestBaseDir(t)
	tt, err := NewTreeTransform(tree, base)
	if err != nil {
		t.Fatal(err)
	}
	defer tt.Finalize()

	a := tt.NewTransId()
	b := tt.NewTransId()
	tt.SetName(a, "a")
	tt.SetName(b, "b")
	tt.SetParent(a, b)
	tt.SetParent(b, a)

	conflicts := tt.FindConflicts()
	found := false
	for _, c := range conflicts {
		if c.Kind == ConflictParentLoop {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a parent-loop conflict, got %+v", conflicts)
	}
}

func TestFindConflictsDuplicateFileId(t *testing.T) {
	tree := newFakeTree()
	base := newTestBaseDir(t)
	tt, err := NewTreeTransform(tree, base)
	if err != nil {
		t.Fatal(err)
	}
	defer tt.Finalize()

	a := tt.NewTransId()
	tt.SetName(a, "a.txt")
	tt.SetParent(a, rootTransId)
	tt.CreateFile(a, []string{"a\n"})
	tt.Version(a, "dup-id")

	b := tt.NewTransId()
	tt.SetName(b, "b.txt")
	tt.SetParent(b, rootTransId)
	tt.CreateFile(b, []string{"b\n"})
	tt.Version(b, "dup-id")

	conflicts := tt.FindConflicts()
	found := false
	for _, c := range conflicts {
		if c.Kind == ConflictDuplicateId {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a duplicate-id conflict, got %+v", conflicts)
	}
}

func TestApplyRejectsUnresolvedConflicts(t *testing.T) {
	tree := newFakeTree()
	base := newTestBaseDir(t)
	tt, err := NewTreeTransform(tree, base)
	if err != nil {
		t.Fatal(err)
	}
	defer tt.Finalize()

	a := tt.NewTransId()
	b := tt.NewTransId()
	tt.SetName(a, "x")
	tt.SetName(b, "x")
	tt.SetParent(a, rootTransId)
	tt.SetParent(b, rootTransId)
	tt.CreateFile(a, []string{"a\n"})
	tt.CreateFile(b, []string{"b\n"})
	tt.Version(a, "a-id")
	tt.Version(b, "b-id")

	_, err = tt.Apply(false)
	if _, ok := err.(*MalformedTransformError); !ok {
		t.Fatalf("expected *MalformedTransformError, got %v", err)
	}
}

func TestFinalPathNoNameNoParent(t *testing.T) {
	tree := newFakeTree()
	base := newTestBaseDir(t)
	tt, err := NewTreeTransform(tree, base)
	if err != nil {
		t.Fatal(err)
	}
	defer tt.Finalize()

	orphan := tt.NewTransId()
	_, err = tt.FinalPath(orphan)
	if _, ok := err.(*NoFinalPathError); !ok {
		t.Fatalf("expected *NoFinalPathError, got %v", err)
	}
}

func TestCantMoveRoot(t *testing.T) {
	tree := newFakeTree()
	base := newTestBaseDir(t)
	tt, err := NewTreeTransform(tree, base)
	if err != nil {
		t.Fatal(err)
	}
	defer tt.Finalize()

	if err := tt.CantMoveRoot(rootTransId); err == nil {
		t.Fatal("expected an error moving the root")
	}
	if err := tt.CantMoveRoot(tt.NewTransId()); err != nil {
		t.Fatalf("expected non-root to be movable, got %v", err)
	}
}

func TestDeleteStagesRemovalAndAppliesIt(t *testing.T) {
	tree := newFakeTree()
	base := newTestBaseDir(t)

	// Pre-create a file directly on disk and register it in the fake tree
	// as already-versioned, so Delete has something real to remove.
	if err := ioutil.WriteFile(filepath.Join(base, "existing.txt"), []byte("old\n"), 0644); err != nil {
		t.Fatal(err)
	}
	tree.ids["existing-id"] = "/existing.txt"
	tree.kinds["existing-id"] = KindFile

	tt, err := NewTreeTransform(tree, base)
	if err != nil {
		t.Fatal(err)
	}

	existingTrans := tt.TreePathTransId("/existing.txt")
	tt.SetName(existingTrans, "existing.txt")
	tt.SetParent(existingTrans, rootTransId)
	tt.Delete(existingTrans)
	tt.needsRename[existingTrans] = false // pure deletion, no reposition needed

	if _, err := tt.Apply(false); err != nil {
		t.Fatal(err)
	}
	if err := tt.Finalize(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(base, "existing.txt")); !os.IsNotExist(err) {
		t.Fatal("expected existing.txt to be removed")
	}
}

func TestPreviewCannotApply(t *testing.T) {
	tree := newFakeTree()
	base := newTestBaseDir(t)
	tt := NewTransformPreview(tree, base)

	_, err := tt.Apply(true)
	if err == nil {
		t.Fatal("expected an error applying a preview transform")
	}
}

func TestGetPreviewTreeComposesStagedFile(t *testing.T) {
	tree := newFakeTree()
	base := newTestBaseDir(t)
	tt := NewTransformPreview(tree, base)

	id := tt.NewTransId()
	tt.SetName(id, "new.txt")
	tt.SetParent(id, rootTransId)
	tt.CreateFile(id, []string{"a\n"})
	tt.Version(id, "new-id")

	preview := tt.GetPreviewTree()
	if preview.KindOf("new-id") != KindFile {
		t.Fatalf("expected preview tree to report new-id as a file, got %v", preview.KindOf("new-id"))
	}
	path, ok := preview.Id2Path("new-id")
	if !ok || path != "/new.txt" {
		t.Fatalf("expected preview path /new.txt, got (%q,%v)", path, ok)
	}
}

func TestSetOrphanPolicyUnknownNameWarnsAndFallsBack(t *testing.T) {
	tree := newFakeTree()
	base := newTestBaseDir(t)
	tt := NewTransformPreview(tree, base)

	var buf bytes.Buffer
	tt.SetLogger(corelog.New(&buf))
	tt.SetOrphanPolicy(OrphanPolicy("bogus"))

	if tt.orphanPolicy != OrphanConflict {
		t.Fatalf("expected fallback to OrphanConflict, got %v", tt.orphanPolicy)
	}
	if !strings.Contains(buf.String(), "bogus") {
		t.Fatalf("expected the logger to report the unknown policy name, got %q", buf.String())
	}
}
