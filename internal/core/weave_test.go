package core

import (
	"bytes"
	"testing"
)

func TestWeaveAddAndGetLinesRoundTrip(t *testing.T) {
	w := NewWeave("test")
	if _, err := w.Add("v1", nil, []string{"a\n", "b\n", "c\n"}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Add("v2", []RevId{"v1"}, []string{"a\n", "B\n", "c\n"}); err != nil {
		t.Fatal(err)
	}

	got, err := w.GetLines("v1")
	if err != nil {
		t.Fatal(err)
	}
	if !linesEqual(got, []string{"a\n", "b\n", "c\n"}) {
		t.Fatalf("v1 lines = %v", got)
	}

	got, err = w.GetLines("v2")
	if err != nil {
		t.Fatal(err)
	}
	if !linesEqual(got, []string{"a\n", "B\n", "c\n"}) {
		t.Fatalf("v2 lines = %v", got)
	}
}

func TestWeaveAddRepeatedIsNoop(t *testing.T) {
	w := NewWeave("test")
	if _, err := w.Add("v1", nil, []string{"a\n"}); err != nil {
		t.Fatal(err)
	}
	idx, err := w.Add("v1", nil, []string{"a\n"})
	if _, ok := err.(*AlreadyPresentError); !ok {
		t.Fatalf("expected *AlreadyPresentError, got %v", err)
	}
	if idx != 0 {
		t.Fatalf("expected index 0, got %d", idx)
	}
	if w.NumVersions() != 1 {
		t.Fatalf("re-add must not mutate the weave, got %d versions", w.NumVersions())
	}
}

func TestWeaveAddConflictingContentFails(t *testing.T) {
	w := NewWeave("test")
	if _, err := w.Add("v1", nil, []string{"a\n"}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Add("v1", nil, []string{"z\n"}); err == nil {
		t.Fatal("expected an error re-adding v1 with different content")
	} else if _, ok := err.(*RevisionAlreadyPresentError); !ok {
		t.Fatalf("expected *RevisionAlreadyPresentError, got %T", err)
	}
}

func TestWeaveAnnotate(t *testing.T) {
	w := NewWeave("test")
	if _, err := w.Add("v1", nil, []string{"a\n", "b\n"}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Add("v2", []RevId{"v1"}, []string{"a\n", "b\n", "c\n"}); err != nil {
		t.Fatal(err)
	}
	ann, err := w.Annotate("v2")
	if err != nil {
		t.Fatal(err)
	}
	if len(ann) != 3 {
		t.Fatalf("expected 3 annotated lines, got %d", len(ann))
	}
	if ann[0].Origin != "v1" || ann[1].Origin != "v1" {
		t.Fatalf("lines inherited from v1 should be annotated v1, got %+v", ann[:2])
	}
	if ann[2].Origin != "v2" {
		t.Fatalf("new line should be annotated v2, got %+v", ann[2])
	}
}

// diamond: base -> a (changes line 2), base -> b (changes line 3); no merge
// version is added, the tests work on a and b directly.
func buildDiamondWeave(t *testing.T) *Weave {
	t.Helper()
	w := NewWeave("diamond")
	mustAdd := func(name RevId, parents []RevId, lines []string) {
		t.Helper()
		if _, err := w.Add(name, parents, lines); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	mustAdd("base", nil, []string{"1\n", "2\n", "3\n"})
	mustAdd("a", []RevId{"base"}, []string{"1\n", "TWO\n", "3\n"})
	mustAdd("b", []RevId{"base"}, []string{"1\n", "2\n", "THREE\n"})
	return w
}

func TestWeavePlanMergeDiamond(t *testing.T) {
	w := buildDiamondWeave(t)
	plan, err := w.PlanMerge("a", "b")
	if err != nil {
		t.Fatal(err)
	}

	var tags []PlanTag
	for _, p := range plan {
		tags = append(tags, p.Tag)
	}
	// line 1 unchanged on both sides; "TWO" only touched on a's side vs
	// base ("new-a" style change replacing "2"); "THREE" only on b's
	// side. Every plan line must fall into one of the documented tags —
	// nothing should surface as irrelevant for a two-parent diamond where
	// both sides share the same base.
	for _, tg := range tags {
		if tg == PlanIrrelevant {
			t.Fatalf("unexpected irrelevant tag in a two-parent plan: %v", tags)
		}
	}
}

func TestWeaveCheck(t *testing.T) {
	w := buildDiamondWeave(t)
	if err := w.Check(); err != nil {
		t.Fatal(err)
	}
}

func TestWeaveOnDiskRoundTrip(t *testing.T) {
	w := buildDiamondWeave(t)
	var buf bytes.Buffer
	if err := w.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}

	loaded, err := ReadWeave("diamond", &buf)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.NumVersions() != w.NumVersions() {
		t.Fatalf("version count mismatch: got %d, want %d", loaded.NumVersions(), w.NumVersions())
	}
	for _, name := range []RevId{"base", "a", "b"} {
		want, err := w.GetLines(name)
		if err != nil {
			t.Fatal(err)
		}
		got, err := loaded.GetLines(name)
		if err != nil {
			t.Fatal(err)
		}
		if !linesEqual(got, want) {
			t.Fatalf("%s round-trip mismatch: got %v, want %v", name, got, want)
		}
	}
	if err := loaded.Check(); err != nil {
		t.Fatal(err)
	}
}

func TestWeaveGetRecordStreamAbsent(t *testing.T) {
	w := buildDiamondWeave(t)
	recs, err := w.GetRecordStream([]RevId{"base", "nope"}, OrderUnordered)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	var sawAbsent bool
	for _, r := range recs {
		if r.Key == "nope" {
			sawAbsent = true
			if r.Kind != RecordAbsent {
				t.Fatalf("expected RecordAbsent for missing key, got %v", r.Kind)
			}
		}
	}
	if !sawAbsent {
		t.Fatal("expected an absent record for 'nope'")
	}
}

func TestWeaveIndexSidecarRoundTrip(t *testing.T) {
	w := buildDiamondWeave(t)
	var buf bytes.Buffer
	if err := w.DumpIndex(&buf); err != nil {
		t.Fatal(err)
	}
	idx, err := LoadIndexInto(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.Versions) != w.NumVersions() {
		t.Fatalf("sidecar has %d versions, want %d", len(idx.Versions), w.NumVersions())
	}
}

func TestValidateSymbolicNameTagShaped(t *testing.T) {
	v, ok, err := ValidateSymbolicName("v1.2.3")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected v1.2.3 to be recognized as tag-shaped")
	}
	if v.Major() != 1 || v.Minor() != 2 || v.Patch() != 3 {
		t.Fatalf("unexpected parsed version: %v", v)
	}
}

func TestValidateSymbolicNameNotTagShaped(t *testing.T) {
	_, ok, err := ValidateSymbolicName("rev-42")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected a non-tag revision id to report ok=false")
	}
}
