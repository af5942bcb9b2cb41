// Package vcsgraph builds core.Tree/core.Graph fixtures from a real Git
// checkout (cloned or updated by Clone), for integration-style tests that want to
// exercise MergeEngine/TreeTransform against an actual tree instead of a
// hand-built fakeTree. It is fixture-building code invoked explicitly by
// test code, never by the engine itself — the engine stays collaborator-
// agnostic (see core.Tree).
package vcsgraph

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Masterminds/vcs"
	"github.com/pkg/errors"

	"github.com/golang-vcs/corevcs/internal/core"
)

// Repo wraps a local Git checkout cloned/updated via Masterminds/vcs,
// grounded on the teacher's own vcs_repo.go wrapper around the same
// library.
type Repo struct {
	git   *vcs.GitRepo
	local string
}

// Clone clones (or, if local already holds a checkout, updates) remote
// into local using vcs.NewGitRepo/.Get/.Update, exactly the call sequence
// the teacher's vcs_repo.go drives for its own source-fetching needs.
func Clone(remote, local string) (*Repo, error) {
	g, err := vcs.NewGitRepo(remote, local)
	if err != nil {
		return nil, errors.Wrap(err, "opening git repo")
	}
	if g.CheckLocal() {
		if err := g.Update(); err != nil {
			return nil, errors.Wrap(err, "updating git repo")
		}
	} else {
		if err := g.Get(); err != nil {
			return nil, errors.Wrap(err, "cloning git repo")
		}
	}
	return &Repo{git: g, local: local}, nil
}

// ExportTree checks out rev (via UpdateVersion then ExportDir, since
// ExportDir always exports the currently checked-out revision) into dir
// and returns a core.Tree view over the export.
func (r *Repo) ExportTree(rev, dir string) (*Tree, error) {
	if err := r.git.UpdateVersion(rev); err != nil {
		return nil, errors.Wrapf(err, "checking out %s", rev)
	}
	if err := r.git.ExportDir(dir); err != nil {
		return nil, errors.Wrapf(err, "exporting %s", rev)
	}
	return newTree(dir)
}

// Parents shells out to `git log --pretty=%P` the same way the teacher's
// vcs_repo.go reaches past Masterminds/vcs for operations it doesn't
// expose (its own isDetachedHead/TagsFromCommit do the same): the vendored
// vcs.GitRepo does not surface a commit's parent list, only CommitInfo's
// message/author/date.
func (r *Repo) Parents(rev core.RevId) ([]core.RevId, error) {
	cmd := exec.Command("git", "log", "-1", "--pretty=%P", string(rev))
	cmd.Dir = r.local
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrapf(err, "git log --pretty=%%P %s", rev)
	}
	fields := strings.Fields(string(out))
	parents := make([]core.RevId, 0, len(fields))
	for _, f := range fields {
		parents = append(parents, core.RevId(f))
	}
	return parents, nil
}

// Graph adapts Parents to core.Graph.
type Graph struct{ repo *Repo }

// AsGraph returns a core.Graph backed by this repo's commit history.
func (r *Repo) AsGraph() Graph { return Graph{repo: r} }

func (g Graph) Parents(rev core.RevId) ([]core.RevId, error) { return g.repo.Parents(rev) }

// Tree is a core.Tree snapshot of one exported working copy: file ids are
// assigned by relative path (stable for a fixture that never renames
// within a single export, which is all integration tests need).
type Tree struct {
	root  core.FileId
	ids   map[core.FileId]string
	paths map[string]core.FileId
	kinds map[core.FileId]core.Kind
	exec  map[core.FileId]bool
}

func newTree(dir string) (*Tree, error) {
	t := &Tree{
		root:  "/",
		ids:   map[core.FileId]string{"/": "/"},
		paths: map[string]core.FileId{"/": "/"},
		kinds: map[core.FileId]core.Kind{"/": core.KindDirectory},
		exec:  map[core.FileId]bool{},
	}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		rel = "/" + rel
		id := core.FileId(rel)
		t.ids[id] = rel
		t.paths[rel] = id
		switch {
		case info.IsDir():
			t.kinds[id] = core.KindDirectory
		case info.Mode()&0111 != 0:
			t.kinds[id] = core.KindFile
			t.exec[id] = true
		default:
			t.kinds[id] = core.KindFile
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "walking exported tree")
	}
	return t, nil
}

func (t *Tree) RootId() core.FileId { return t.root }

func (t *Tree) Path2Id(path string) (core.FileId, bool) {
	id, ok := t.paths[filepath.ToSlash(path)]
	return id, ok
}

func (t *Tree) Id2Path(id core.FileId) (string, bool) {
	p, ok := t.ids[id]
	return p, ok
}

func (t *Tree) HasId(id core.FileId) bool { _, ok := t.ids[id]; return ok }

func (t *Tree) KindOf(id core.FileId) core.Kind { return t.kinds[id] }

func (t *Tree) IsExecutable(id core.FileId) bool { return t.exec[id] }

func (t *Tree) CaseSensitive() bool { return true }
