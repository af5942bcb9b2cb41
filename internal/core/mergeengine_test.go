package core

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-vcs/corevcs/internal/corelog"
)

func TestThreeWayOnlyThisChanged(t *testing.T) {
	v, ok := ThreeWay("base", "base", "this")
	if !ok || v != "this" {
		t.Fatalf("got (%v,%v), want (this,true)", v, ok)
	}
}

func TestThreeWayOnlyOtherChanged(t *testing.T) {
	v, ok := ThreeWay("base", "other", "base")
	if !ok || v != "other" {
		t.Fatalf("got (%v,%v), want (other,true)", v, ok)
	}
}

func TestThreeWayAmbiguousClean(t *testing.T) {
	v, ok := ThreeWay("base", "same", "same")
	if !ok || v != "same" {
		t.Fatalf("got (%v,%v), want (same,true)", v, ok)
	}
}

func TestThreeWayConflict(t *testing.T) {
	_, ok := ThreeWay("base", "other", "this")
	if ok {
		t.Fatal("expected a conflict (ok=false) when all three values differ")
	}
}

func TestLCAMultiWayNoDivergence(t *testing.T) {
	v, ok := LCAMultiWay("base", []string{"base", "lca2"}, "same", "same", true)
	if !ok || v != "same" {
		t.Fatalf("got (%v,%v), want (same,true)", v, ok)
	}
}

func TestLCAMultiWaySingleSurvivingLCA(t *testing.T) {
	// base filtered out, the remaining lca is unique -> delegates to three_way
	v, ok := LCAMultiWay("base", []string{"base", "u", "u"}, "other", "u", true)
	if !ok || v != "other" {
		t.Fatalf("got (%v,%v), want (other,true)", v, ok)
	}
}

func TestLCAMultiWayDisagreeingLCAsOverridingAllowed(t *testing.T) {
	// lcas disagree (x, y); other == x (one of the lcas), this is neither ->
	// this supersedes per allow_overriding_lca.
	v, ok := LCAMultiWay("base", []string{"x", "y"}, "x", "this-wins", true)
	if !ok || v != "this-wins" {
		t.Fatalf("got (%v,%v), want (this-wins,true)", v, ok)
	}
}

func TestLCAMultiWayDisagreeingLCAsNoOverride(t *testing.T) {
	_, ok := LCAMultiWay("base", []string{"x", "y"}, "x", "this-wins", false)
	if ok {
		t.Fatal("expected a conflict when overriding is disallowed and lcas disagree")
	}
}

func TestConfigureRejectsReprocessAndShowBase(t *testing.T) {
	_, err := Configure(Config{Reprocess: true, ShowBase: true})
	if _, ok := err.(*IncompatibleOptionsError); !ok {
		t.Fatalf("expected *IncompatibleOptionsError, got %v", err)
	}
}

func TestConfigureAcceptsReprocessAlone(t *testing.T) {
	cfg, err := Configure(Config{Reprocess: true})
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Reprocess {
		t.Fatal("expected Reprocess to survive Configure")
	}
}

func TestMergeFileNameParentConflictRaisesPathConflict(t *testing.T) {
	eng, err := NewMergeEngine(Config{}, MapGraph{})
	if err != nil {
		t.Fatal(err)
	}
	dec := eng.MergeFile(FileChange3{
		FileId:     "f1",
		BaseParent: "root", OtherParent: "dirA", ThisParent: "dirB",
		BaseName: "x", OtherName: "x", ThisName: "x",
	})
	if dec.ParentOK {
		t.Fatal("expected parent resolution to conflict")
	}
	if len(dec.Conflicts) != 1 || dec.Conflicts[0].Kind != ConflictPath {
		t.Fatalf("expected one path conflict, got %+v", dec.Conflicts)
	}
}

func TestMergeFileCleanParentRename(t *testing.T) {
	eng, err := NewMergeEngine(Config{}, MapGraph{})
	if err != nil {
		t.Fatal(err)
	}
	dec := eng.MergeFile(FileChange3{
		FileId:     "f1",
		BaseParent: "root", OtherParent: "root", ThisParent: "moved",
		BaseName: "x", OtherName: "x", ThisName: "x",
	})
	if !dec.ParentOK || dec.Parent != "moved" {
		t.Fatalf("expected clean resolution to 'moved', got (%v,%v)", dec.Parent, dec.ParentOK)
	}
	if len(dec.Conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %+v", dec.Conflicts)
	}
}

func TestMergeTextWeaveStrategyCleanMerge(t *testing.T) {
	eng, err := NewMergeEngine(Config{TextStrategy: StrategyWeave}, lcaDiamondGraph())
	if err != nil {
		t.Fatal(err)
	}
	src := mapTextSource{
		"base": {"1\n", "2\n", "3\n"},
		"a":    {"1\n", "TWO\n", "3\n"},
		"b":    {"1\n", "2\n", "THREE\n"},
	}
	lines, conflicts, err := eng.MergeText(lcaDiamondGraph(), src, "f1", "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("expected a clean merge, got conflicts %+v", conflicts)
	}
	if !linesEqual(lines, []string{"1\n", "TWO\n", "THREE\n"}) {
		t.Fatalf("unexpected merged lines: %v", lines)
	}
}

func TestMergeTextWeaveStrategyConflict(t *testing.T) {
	eng, err := NewMergeEngine(Config{TextStrategy: StrategyWeave}, lcaDiamondGraph())
	if err != nil {
		t.Fatal(err)
	}
	src := mapTextSource{
		"base": {"1\n"},
		"a":    {"A\n"},
		"b":    {"B\n"},
	}
	lines, conflicts, err := eng.MergeText(lcaDiamondGraph(), src, "f1", "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 || conflicts[0].Kind != ConflictText {
		t.Fatalf("expected one text conflict, got %+v", conflicts)
	}
	joined := ""
	for _, l := range lines {
		joined += l
	}
	if !contains(joined, "<<<<<<< THIS") || !contains(joined, ">>>>>>> OTHER") {
		t.Fatalf("expected conflict markers in output, got %q", joined)
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && indexOf(s, sub) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestMergeWithContextSucceedsWithinBudget(t *testing.T) {
	eng, err := NewMergeEngine(Config{TextStrategy: StrategyWeave}, lcaDiamondGraph())
	if err != nil {
		t.Fatal(err)
	}
	src := mapTextSource{
		"base": {"1\n", "2\n", "3\n"},
		"a":    {"1\n", "TWO\n", "3\n"},
		"b":    {"1\n", "2\n", "THREE\n"},
	}
	lines, conflicts, err := eng.MergeWithContext(context.Background(), time.Second, lcaDiamondGraph(), src, "f1", "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("expected a clean merge, got conflicts %+v", conflicts)
	}
	if !linesEqual(lines, []string{"1\n", "TWO\n", "THREE\n"}) {
		t.Fatalf("unexpected merged lines: %v", lines)
	}
}

func TestMergeWithContextAbortsWhenCallerCancelledFirst(t *testing.T) {
	eng, err := NewMergeEngine(Config{TextStrategy: StrategyWeave}, lcaDiamondGraph())
	if err != nil {
		t.Fatal(err)
	}
	src := mapTextSource{
		"base": {"1\n"},
		"a":    {"1\n"},
		"b":    {"1\n"},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = eng.MergeWithContext(ctx, time.Second, lcaDiamondGraph(), src, "f1", "a", "b")
	if err == nil {
		t.Fatal("expected an error when the caller's context is already cancelled")
	}
}

func TestAddRawConflictLogsThroughAttachedLogger(t *testing.T) {
	eng, err := NewMergeEngine(Config{}, MapGraph{})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	eng.SetLogger(corelog.New(&buf))
	eng.AddRawConflict(Conflict{Kind: ConflictText, FileId: "f1"})
	if !strings.Contains(buf.String(), "f1") {
		t.Fatalf("expected the logger to record the conflicting file id, got %q", buf.String())
	}
}

func TestCookConflictsOrdersByPath(t *testing.T) {
	eng, err := NewMergeEngine(Config{}, MapGraph{})
	if err != nil {
		t.Fatal(err)
	}
	eng.AddRawConflict(Conflict{Kind: ConflictText, FileId: "z"})
	eng.AddRawConflict(Conflict{Kind: ConflictText, FileId: "a"})
	cooked := eng.CookConflicts(func(c Conflict) string { return string(c.FileId) })
	if len(cooked) != 2 || cooked[0].Path != "a" || cooked[1].Path != "z" {
		t.Fatalf("expected path-sorted conflicts, got %+v", cooked)
	}
}
