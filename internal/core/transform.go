package core

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
	"github.com/termie/go-shutil"
	"github.com/theckman/go-flock"

	"github.com/golang-vcs/corevcs/internal/corelog"
)

// TransId is a monotonic handle allocated per TreeTransform, unique only
// within that transform — the "arena of indices" replacement for a
// pointer-identified pending-change object.
type TransId int

// rootTransId is always the tree root's handle.
const rootTransId TransId = 0

// Content is the staged payload for a TransId, tagging which of the §3
// content variants (file/directory/symlink/hardlink/tree-reference) it is.
type Content struct {
	Kind     Kind
	Lines    []string // file
	Target   string   // symlink target, or hardlink source path
	Hardlink bool
	RefRev   RevId // tree-reference
}

// Tree is the subset of §6's Tree collaborator contract a TreeTransform
// needs to resolve final paths and stage mutations against existing
// content; the rest (iter_changes, content filtering, ...) belongs to
// MergeEngine's caller, not the transform itself.
type Tree interface {
	RootId() FileId
	Path2Id(path string) (FileId, bool)
	Id2Path(id FileId) (string, bool)
	HasId(id FileId) bool
	KindOf(id FileId) Kind
	IsExecutable(id FileId) bool
	CaseSensitive() bool
}

// TreeTransform stages mutations in a limbo directory, detects conflicts
// among them, and applies them atomically with rollback on failure. See
// spec §4.6 for the full contract.
type TreeTransform struct {
	tree    Tree
	baseDir string
	limbo   string
	pending string
	lock    *flock.Flock
	preview bool

	nextId TransId

	names          map[TransId]string
	parents        map[TransId]TransId
	contents       map[TransId]Content
	executability  map[TransId]Executable
	newId          map[TransId]FileId
	removedContent map[TransId]bool
	removedId      map[TransId]bool
	treePathIds    map[string]TransId
	idToTransId    map[FileId]TransId
	limboFiles     map[TransId]string
	needsRename    map[TransId]bool
	nonPresentIds  map[FileId]TransId

	orphanPolicy OrphanPolicy
	log          *corelog.Logger
}

// SetLogger attaches the trace sink warnings and orphan-policy fallbacks
// are reported through. A nil logger (the default) discards them.
func (tt *TreeTransform) SetLogger(l *corelog.Logger) {
	tt.log = l
}

// NewTreeTransform creates the limbo and pending-deletion staging
// directories under baseDir and takes the tree-write lock, per §5's
// "creation acquires" rule. An existing limbo directory from a prior,
// un-finalized transform is reported as *ExistingLimboError rather than
// silently reused or clobbered.
func NewTreeTransform(tree Tree, baseDir string) (*TreeTransform, error) {
	tt := newTransform(tree, baseDir, false)

	if fi, err := os.Stat(tt.limbo); err == nil && fi.IsDir() {
		return nil, &ExistingLimboError{Path: tt.limbo}
	}
	if err := os.MkdirAll(tt.limbo, 0755); err != nil {
		return nil, errors.Wrap(err, "creating limbo directory")
	}
	if err := os.MkdirAll(tt.pending, 0755); err != nil {
		return nil, errors.Wrap(err, "creating pending-deletion directory")
	}

	lk := flock.NewFlock(filepath.Join(baseDir, ".corevcs-transform.lock"))
	locked, err := lk.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "acquiring tree-write lock")
	}
	if !locked {
		return nil, errors.New("tree is already write-locked by another transform")
	}
	tt.lock = lk
	return tt, nil
}

// NewTransformPreview builds a read-only variant (§4.6.6) that never
// touches disk: limbo/pending paths are computed but never created, and
// Apply is unavailable — callers use GetPreviewTree instead.
func NewTransformPreview(tree Tree, baseDir string) *TreeTransform {
	return newTransform(tree, baseDir, true)
}

func newTransform(tree Tree, baseDir string, preview bool) *TreeTransform {
	tt := &TreeTransform{
		tree:           tree,
		baseDir:        baseDir,
		limbo:          filepath.Join(baseDir, "limbo"),
		pending:        filepath.Join(baseDir, "pending-deletion"),
		preview:        preview,
		nextId:         rootTransId + 1,
		names:          make(map[TransId]string),
		parents:        make(map[TransId]TransId),
		contents:       make(map[TransId]Content),
		executability:  make(map[TransId]Executable),
		newId:          make(map[TransId]FileId),
		removedContent: make(map[TransId]bool),
		removedId:      make(map[TransId]bool),
		treePathIds:    make(map[string]TransId),
		idToTransId:    make(map[FileId]TransId),
		limboFiles:     make(map[TransId]string),
		needsRename:    make(map[TransId]bool),
		nonPresentIds:  make(map[FileId]TransId),
		orphanPolicy:   OrphanConflict,
	}
	tt.treePathIds["/"] = rootTransId
	if tree != nil {
		tt.idToTransId[tree.RootId()] = rootTransId
	}
	return tt
}

// NewTransId allocates a fresh, never-before-used handle.
func (tt *TreeTransform) NewTransId() TransId {
	id := tt.nextId
	tt.nextId++
	return id
}

// TreePathTransId binds path to a TransId, canonicalizing by resolving the
// parent's real tree path and memoizing the result, per §4.6.1.
func (tt *TreeTransform) TreePathTransId(path string) TransId {
	path = filepath.ToSlash(path)
	if path == "" {
		path = "/"
	}
	if id, ok := tt.treePathIds[path]; ok {
		return id
	}
	id := tt.NewTransId()
	tt.treePathIds[path] = id
	if tt.tree != nil {
		if fid, ok := tt.tree.Path2Id(path); ok {
			tt.idToTransId[fid] = id
		}
	}
	return id
}

// TransIdForFileId returns the TransId already bound to an existing-tree
// file-id, allocating none if not found.
func (tt *TreeTransform) TransIdForFileId(id FileId) (TransId, bool) {
	t, ok := tt.idToTransId[id]
	return t, ok
}

// SetParent stages a reparent.
func (tt *TreeTransform) SetParent(t, parent TransId) {
	if t == rootTransId {
		return
	}
	tt.parents[t] = parent
}

// SetName stages a rename.
func (tt *TreeTransform) SetName(t TransId, name string) {
	tt.names[t] = name
}

// CreateFile stages file content.
func (tt *TreeTransform) CreateFile(t TransId, lines []string) {
	tt.contents[t] = Content{Kind: KindFile, Lines: lines}
}

// CreateDirectory stages a directory.
func (tt *TreeTransform) CreateDirectory(t TransId) {
	tt.contents[t] = Content{Kind: KindDirectory}
}

// CreateSymlink stages a symlink.
func (tt *TreeTransform) CreateSymlink(t TransId, target string) {
	tt.contents[t] = Content{Kind: KindSymlink, Target: target}
}

// CreateHardlink stages a hardlink to an existing path.
func (tt *TreeTransform) CreateHardlink(t TransId, src string) {
	tt.contents[t] = Content{Kind: KindFile, Target: src, Hardlink: true}
}

// CreateTreeReference stages a nested-tree reference.
func (tt *TreeTransform) CreateTreeReference(t TransId, rev RevId) {
	tt.contents[t] = Content{Kind: KindTreeReference, RefRev: rev}
}

// Version assigns a FileId to be versioned at t.
func (tt *TreeTransform) Version(t TransId, id FileId) {
	tt.newId[t] = id
	tt.idToTransId[id] = t
}

// SetExecutability stages the executable bit.
func (tt *TreeTransform) SetExecutability(t TransId, exec Executable) {
	tt.executability[t] = exec
}

// Delete marks t's existing content and versioning for removal.
func (tt *TreeTransform) Delete(t TransId) {
	tt.removedContent[t] = true
	tt.removedId[t] = true
}

// CantMoveRoot rejects an attempted reparent/rename of the tree root, per
// §4's CantMoveRootError.
func (tt *TreeTransform) CantMoveRoot(t TransId) error {
	if t == rootTransId {
		return &CantMoveRootError{}
	}
	return nil
}

// finalKind resolves t's kind after this transform: staged content wins,
// else the existing tree entry (unless scheduled for removal), else
// KindNone.
func (tt *TreeTransform) finalKind(t TransId) Kind {
	if c, ok := tt.contents[t]; ok {
		return c.Kind
	}
	if tt.removedContent[t] {
		return KindNone
	}
	if id := tt.reverseTreeId(t); id != "" && tt.tree != nil && tt.tree.HasId(id) {
		return tt.tree.KindOf(id)
	}
	return KindNone
}

func (tt *TreeTransform) reverseTreeId(t TransId) FileId {
	for id, tid := range tt.idToTransId {
		if tid == t {
			return id
		}
	}
	return ""
}

// FinalParent resolves t's parent TransId after staging: an explicitly
// staged parent wins, else a trans-id bound to an existing tree entry
// inherits that entry's tree parent, else t has no final parent at all
// (the "brand new, never parented" case FinalPath reports as
// *NoFinalPathError).
func (tt *TreeTransform) FinalParent(t TransId) (TransId, bool) {
	if p, ok := tt.parents[t]; ok {
		return p, true
	}
	if id := tt.reverseTreeId(t); id != "" && tt.tree != nil {
		if path, ok := tt.tree.Id2Path(id); ok && path != "/" {
			return tt.TreePathTransId(parentOfPath(path)), true
		}
	}
	return rootTransId, false
}

// parentOfPath returns the slash-separated parent of a tree path.
func parentOfPath(path string) string {
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

// FinalName resolves t's final path component.
func (tt *TreeTransform) FinalName(t TransId) (string, bool) {
	if n, ok := tt.names[t]; ok {
		return n, true
	}
	return "", false
}

// FinalPath reconstructs t's full path by walking parent links to the
// root; fails with *NoFinalPathError if t has neither a name nor a parent
// (per spec §4).
func (tt *TreeTransform) FinalPath(t TransId) (string, error) {
	if t == rootTransId {
		return "/", nil
	}
	name, hasName := tt.FinalName(t)
	parent, hasParent := tt.FinalParent(t)
	if !hasName && !hasParent {
		return "", &NoFinalPathError{Id: t}
	}
	parentPath, err := tt.FinalPath(parent)
	if err != nil {
		return "", err
	}
	if parentPath == "/" {
		return "/" + name, nil
	}
	return parentPath + "/" + name, nil
}

// AdjustPath re-targets an already-created TransId's name/parent,
// invalidating any direct-limbo placement computed under the old path —
// §4.6.2's "adjust_path invalidates this placement."
func (tt *TreeTransform) AdjustPath(name string, parent TransId, t TransId) {
	tt.SetName(t, name)
	tt.SetParent(t, parent)
	delete(tt.limboFiles, t)
}

// allTransIds returns every TransId this transform has touched, for
// iteration in FindConflicts/Apply.
func (tt *TreeTransform) allTransIds() []TransId {
	seen := make(map[TransId]bool)
	for t := range tt.names {
		seen[t] = true
	}
	for t := range tt.parents {
		seen[t] = true
	}
	for t := range tt.contents {
		seen[t] = true
	}
	for t := range tt.newId {
		seen[t] = true
	}
	for t := range tt.removedContent {
		seen[t] = true
	}
	for t := range tt.removedId {
		seen[t] = true
	}
	out := make([]TransId, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FindConflicts enumerates the violations of §4.6.3. Order is stable
// (ascending TransId) for deterministic conflict numbering, matching §5's
// ordering guarantee for file processing.
func (tt *TreeTransform) FindConflicts() []Conflict {
	var conflicts []Conflict
	ids := tt.allTransIds()

	// Duplicate names within a parent (case-folded when the tree is
	// case-insensitive).
	byParent := make(map[TransId]map[string][]TransId)
	for _, t := range ids {
		if t == rootTransId {
			continue
		}
		if tt.removedContent[t] && tt.finalKind(t) == KindNone {
			continue
		}
		name, hasName := tt.FinalName(t)
		if !hasName {
			continue
		}
		parent, _ := tt.FinalParent(t)
		key := name
		if tt.tree != nil && !tt.tree.CaseSensitive() {
			key = strings.ToLower(name)
		}
		if byParent[parent] == nil {
			byParent[parent] = make(map[string][]TransId)
		}
		byParent[parent][key] = append(byParent[parent][key], t)
	}
	parentKeys := make([]TransId, 0, len(byParent))
	for p := range byParent {
		parentKeys = append(parentKeys, p)
	}
	sort.Slice(parentKeys, func(i, j int) bool { return parentKeys[i] < parentKeys[j] })
	for _, p := range parentKeys {
		names := byParent[p]
		nameKeys := make([]string, 0, len(names))
		for name := range names {
			nameKeys = append(nameKeys, name)
		}
		sort.Strings(nameKeys)
		for _, name := range nameKeys {
			members := names[name]
			if len(members) > 1 {
				sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
				for i := 1; i < len(members); i++ {
					conflicts = append(conflicts, Conflict{
						Kind: ConflictDuplicate, TransId: members[0], TransIdB: members[i], Name: name,
					})
				}
			}
		}
	}

	// Duplicate file-ids: a new_id clashing with an already-active id.
	seenIds := make(map[FileId]TransId)
	for _, t := range ids {
		id, ok := tt.newId[t]
		if !ok {
			continue
		}
		if existing, ok := seenIds[id]; ok {
			conflicts = append(conflicts, Conflict{Kind: ConflictDuplicateId, TransId: existing, TransIdB: t})
		} else {
			seenIds[id] = t
		}
	}

	// Parent loops: walk upward from every reparented trans-id.
	for _, t := range ids {
		if _, reparented := tt.parents[t]; !reparented {
			continue
		}
		visited := map[TransId]bool{t: true}
		cur := t
		for {
			p, ok := tt.FinalParent(cur)
			if !ok || p == rootTransId {
				break
			}
			if visited[p] {
				conflicts = append(conflicts, Conflict{Kind: ConflictParentLoop, TransId: t})
				break
			}
			visited[p] = true
			cur = p
		}
	}

	// Parent kind must be a directory; unversioned parents with versioned
	// children; versioning without content or a non-versionable kind;
	// executability on non-files; overwrites of live content.
	for _, t := range ids {
		if t == rootTransId {
			continue
		}
		parent, hasParent := tt.FinalParent(t)
		if hasParent && parent != rootTransId {
			pk := tt.finalKind(parent)
			if pk == KindNone {
				conflicts = append(conflicts, Conflict{Kind: ConflictMissingParent, TransId: t})
			} else if pk != KindDirectory {
				conflicts = append(conflicts, Conflict{Kind: ConflictNonDirectoryParent, TransId: t})
			} else if _, versioned := tt.newId[parent]; !versioned && tt.reverseTreeId(parent) == "" {
				if _, childVersioned := tt.newId[t]; childVersioned {
					conflicts = append(conflicts, Conflict{Kind: ConflictUnversionedParent, TransId: t})
				}
			}
		}

		if _, versioned := tt.newId[t]; versioned {
			k := tt.finalKind(t)
			if k == KindNone {
				conflicts = append(conflicts, Conflict{Kind: ConflictVersioningNoContents, TransId: t})
			}
		}

		if ex, ok := tt.executability[t]; ok && ex != ExecUnset {
			if tt.finalKind(t) != KindFile {
				conflicts = append(conflicts, Conflict{Kind: ConflictVersioningNoContents, TransId: t})
			}
		}

		if _, creating := tt.contents[t]; creating {
			existingId := tt.reverseTreeId(t)
			if existingId != "" && tt.tree != nil && tt.tree.HasId(existingId) && !tt.removedContent[t] {
				conflicts = append(conflicts, Conflict{Kind: ConflictContents, Group: []TransId{t}})
			}
		}
	}

	return conflicts
}

// OrphanPolicy decides what happens to an unversioned child whose parent
// directory is being removed (§4.6.5).
type OrphanPolicy string

const (
	OrphanMove     OrphanPolicy = "move"
	OrphanConflict OrphanPolicy = "conflict"
)

// SetOrphanPolicy configures the policy; an unrecognized name falls back
// to OrphanConflict, reported through the attached logger.
func (tt *TreeTransform) SetOrphanPolicy(policy OrphanPolicy) {
	switch policy {
	case OrphanMove, OrphanConflict:
		tt.orphanPolicy = policy
	default:
		tt.log.Logf("unknown orphan policy %q, falling back to conflict", policy)
		tt.orphanPolicy = OrphanConflict
	}
}

// fileMover records every rename and pre-delete performed during Apply so
// a failure partway through can be rolled back, per §4.6.4's _FileMover.
type fileMover struct {
	pendingDir string
	renames    []renameRecord
	preDeletes []preDeleteRecord
	dead       bool
}

type renameRecord struct{ from, to string }
type preDeleteRecord struct {
	original string
	stashed  string
}

func newFileMover(pendingDir string) *fileMover {
	return &fileMover{pendingDir: pendingDir}
}

func (fm *fileMover) rename(from, to string) error {
	if fm.dead {
		return errors.New("file mover is dead after a prior rollback")
	}
	if err := renameWithFallback(from, to); err != nil {
		return err
	}
	fm.renames = append(fm.renames, renameRecord{from: from, to: to})
	return nil
}

func (fm *fileMover) preDelete(path string, stashName string) error {
	if fm.dead {
		return errors.New("file mover is dead after a prior rollback")
	}
	stashed := filepath.Join(fm.pendingDir, stashName)
	if err := renameWithFallback(path, stashed); err != nil {
		return err
	}
	fm.preDeletes = append(fm.preDeletes, preDeleteRecord{original: path, stashed: stashed})
	return nil
}

// applyDeletions unlinks everything stashed in the pending-deletion
// directory — step 3 of Apply, run only once every removal/insertion pass
// has fully succeeded.
func (fm *fileMover) applyDeletions() error {
	for _, pd := range fm.preDeletes {
		if err := os.RemoveAll(pd.stashed); err != nil {
			return errors.Wrapf(err, "removing staged deletion %s", pd.stashed)
		}
	}
	return nil
}

// rollback reverses every completed rename (and un-stashes every
// pre-delete) in reverse order, then marks the mover dead so it cannot be
// reused, per §4.6.4.
func (fm *fileMover) rollback() {
	for i := len(fm.renames) - 1; i >= 0; i-- {
		r := fm.renames[i]
		renameWithFallback(r.to, r.from)
	}
	for i := len(fm.preDeletes) - 1; i >= 0; i-- {
		pd := fm.preDeletes[i]
		renameWithFallback(pd.stashed, pd.original)
	}
	fm.dead = true
}

// Apply performs the staged mutation: removals deepest-first, insertions
// shallowest-first, then commits pending deletions — §4.6.4. A successful
// Apply then runs Finalize, releasing the tree-write lock and removing the
// staging directories. noConflicts
// skips FindConflicts (the caller has already resolved them); otherwise an
// unresolved conflict raises *MalformedTransformError.
func (tt *TreeTransform) Apply(noConflicts bool) ([]string, error) {
	if tt.preview {
		return nil, errors.New("cannot Apply a TransformPreview; use GetPreviewTree")
	}
	if !noConflicts {
		if conflicts := tt.FindConflicts(); len(conflicts) > 0 {
			return nil, &MalformedTransformError{Conflicts: conflicts}
		}
	}

	fm := newFileMover(tt.pending)
	var modified []string

	ids := tt.allTransIds()

	type pathed struct {
		t    TransId
		path string
	}
	var removalPaths, insertPaths []pathed
	for _, t := range ids {
		p, err := tt.FinalPath(t)
		if err != nil {
			continue
		}
		if tt.removedContent[t] || tt.needsReposition(t) {
			removalPaths = append(removalPaths, pathed{t, p})
		}
		if _, creating := tt.contents[t]; creating {
			insertPaths = append(insertPaths, pathed{t, p})
		}
	}

	sort.Slice(removalPaths, func(i, j int) bool { return removalPaths[i].path > removalPaths[j].path })
	sort.Slice(insertPaths, func(i, j int) bool { return insertPaths[i].path < insertPaths[j].path })

	for _, rp := range removalPaths {
		full := filepath.Join(tt.baseDir, rp.path)
		if tt.removedContent[rp.t] {
			if _, err := os.Lstat(full); err == nil {
				if err := fm.preDelete(full, fmt.Sprintf("del-%d", rp.t)); err != nil {
					fm.rollback()
					return nil, errors.Wrapf(err, "staging deletion of %s", rp.path)
				}
			}
		} else if tt.needsReposition(rp.t) {
			limboPath := tt.limboPathFor(rp.t)
			if _, err := os.Lstat(full); err == nil {
				if err := fm.rename(full, limboPath); err != nil {
					fm.rollback()
					return nil, errors.Wrapf(err, "moving %s into limbo", rp.path)
				}
				tt.limboFiles[rp.t] = limboPath
			}
		}
	}

	for _, ip := range insertPaths {
		full := filepath.Join(tt.baseDir, ip.path)
		if err := tt.materialize(ip.t, full); err != nil {
			fm.rollback()
			return nil, errors.Wrapf(err, "materializing %s", ip.path)
		}
		if ex, ok := tt.executability[ip.t]; ok && ex == ExecTrue {
			os.Chmod(full, 0755)
		}
		modified = append(modified, ip.path)
	}

	if err := fm.applyDeletions(); err != nil {
		return nil, err
	}
	if err := tt.Finalize(); err != nil {
		return nil, err
	}
	return modified, nil
}

func (tt *TreeTransform) needsReposition(t TransId) bool {
	return tt.needsRename[t]
}

func (tt *TreeTransform) limboPathFor(t TransId) string {
	if p, ok := tt.limboFiles[t]; ok {
		return p
	}
	p := filepath.Join(tt.limbo, strconv.Itoa(int(t)))
	tt.limboFiles[t] = p
	return p
}

// materialize writes t's staged content directly to dest, its final path.
// Created content is never staged in limbo first: Apply uses limbo only
// for existing paths moved aside during its removal pass.
func (tt *TreeTransform) materialize(t TransId, dest string) error {
	c, ok := tt.contents[t]
	if !ok {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	switch c.Kind {
	case KindDirectory:
		return os.MkdirAll(dest, 0755)
	case KindSymlink:
		os.Remove(dest)
		return os.Symlink(c.Target, dest)
	case KindFile:
		if c.Hardlink {
			os.Remove(dest)
			return os.Link(c.Target, dest)
		}
		data := []byte(strings.Join(c.Lines, ""))
		return ioutil.WriteFile(dest, data, 0644)
	case KindTreeReference:
		return os.MkdirAll(dest, 0755)
	default:
		return nil
	}
}

// Finalize releases the tree-write lock and purges the limbo and
// pending-deletion directories. Either Apply or Finalize must run exactly
// once per transform.
func (tt *TreeTransform) Finalize() error {
	if tt.preview {
		return nil
	}
	var limboErr error
	if err := os.RemoveAll(tt.limbo); err != nil {
		limboErr = &ImmortalLimboError{Path: tt.limbo, Err: err}
	}
	os.RemoveAll(tt.pending)
	if tt.lock != nil {
		tt.lock.Unlock()
	}
	return limboErr
}

// PreviewTree composes a transform's base tree with its staged mutations,
// per §4.6.6: a read-only Tree that answers path/id/kind queries without
// ever touching disk, used by callers (diff, status) that want to see the
// tree a transform would produce without applying it.
type PreviewTree struct {
	tt *TreeTransform
}

// GetPreviewTree returns the composed read-only tree for this transform.
// Works for both TransformPreview and a live, not-yet-applied
// TreeTransform.
func (tt *TreeTransform) GetPreviewTree() *PreviewTree {
	return &PreviewTree{tt: tt}
}

func (p *PreviewTree) RootId() FileId { return p.tt.tree.RootId() }

func (p *PreviewTree) Path2Id(path string) (FileId, bool) {
	t, ok := p.tt.treePathIds[filepath.ToSlash(path)]
	if !ok {
		return p.tt.tree.Path2Id(path)
	}
	id := p.tt.reverseTreeId(t)
	if id == "" {
		return "", false
	}
	if p.tt.removedId[t] {
		return "", false
	}
	return id, true
}

func (p *PreviewTree) Id2Path(id FileId) (string, bool) {
	t, ok := p.tt.TransIdForFileId(id)
	if !ok {
		return p.tt.tree.Id2Path(id)
	}
	if p.tt.removedId[t] {
		return "", false
	}
	path, err := p.tt.FinalPath(t)
	if err != nil {
		return "", false
	}
	return path, true
}

func (p *PreviewTree) HasId(id FileId) bool {
	path, ok := p.Id2Path(id)
	return ok && path != ""
}

func (p *PreviewTree) KindOf(id FileId) Kind {
	t, ok := p.tt.TransIdForFileId(id)
	if !ok {
		return p.tt.tree.KindOf(id)
	}
	return p.tt.finalKind(t)
}

func (p *PreviewTree) IsExecutable(id FileId) bool {
	t, ok := p.tt.TransIdForFileId(id)
	if !ok {
		return p.tt.tree.IsExecutable(id)
	}
	if ex, ok := p.tt.executability[t]; ok {
		return ex == ExecTrue
	}
	return p.tt.tree.IsExecutable(id)
}

func (p *PreviewTree) CaseSensitive() bool { return p.tt.tree.CaseSensitive() }

// applyOrphanPolicy relocates an orphaned path per the configured policy,
// returning whether it was relocated (true) or should fall through to the
// "deleting parent / Not deleting" conflict (false).
func (tt *TreeTransform) applyOrphanPolicy(path string) (bool, error) {
	switch tt.orphanPolicy {
	case OrphanMove:
		orphansDir := filepath.Join(tt.baseDir, "bzr-orphans")
		if err := os.MkdirAll(orphansDir, 0755); err != nil {
			return false, &OrphaningError{Path: path, Err: err}
		}
		dest := filepath.Join(orphansDir, filepath.Base(path)+".~orphan~")
		if err := shutil.CopyTree(path, dest, nil); err != nil {
			return false, &OrphaningError{Path: path, Err: err}
		}
		if err := os.RemoveAll(path); err != nil {
			return false, &OrphaningError{Path: path, Err: err}
		}
		tt.log.Logf("moved orphan %s to %s", path, dest)
		return true, nil
	default:
		return false, nil
	}
}

// renameWithFallback is grounded on the teacher's fs.go helper of the same
// name: os.Rename first, falling back to a copy-then-remove when the two
// paths are on different devices.
func renameWithFallback(src, dest string) error {
	fi, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	if fi.IsDir() {
		if err := shutil.CopyTree(src, dest, nil); err != nil {
			return err
		}
	} else {
		if _, err := shutil.Copy(src, dest, false); err != nil {
			return err
		}
	}
	return os.RemoveAll(src)
}

// walkTreeDirs lists immediate children of path in the physical tree,
// used by orphan-policy scans; grounded on godirwalk's callback-based
// walker rather than os.ReadDir, matching SPEC_FULL.md's domain-stack
// wiring for directory traversal.
func walkTreeDirs(root string) ([]string, error) {
	var out []string
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if osPathname != root {
				out = append(out, osPathname)
				if de.IsDir() {
					return filepath.SkipDir
				}
			}
			return nil
		},
		Unsorted: false,
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
