package core

import "fmt"

// ConflictKind enumerates the raw conflict shapes §4.5.3/§4.6.3 can emit
// into a transform, mirroring merge.py's TransformConflict subclasses and
// transform.py's find_conflicts taxonomy as one tagged variant (the same
// tagged-variant style Entry already uses for
// inventory entries, rather than one Go type per conflict kind).
type ConflictKind uint8

const (
	ConflictPath ConflictKind = iota
	ConflictContents
	ConflictText
	ConflictDuplicate
	ConflictDuplicateId
	ConflictParentLoop
	ConflictMissingParent
	ConflictUnversionedParent
	ConflictNonDirectoryParent
	ConflictDeletingParent
	ConflictVersioningNoContents
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictPath:
		return "path conflict"
	case ConflictContents:
		return "contents conflict"
	case ConflictText:
		return "text conflict"
	case ConflictDuplicate:
		return "duplicate"
	case ConflictDuplicateId:
		return "duplicate id"
	case ConflictParentLoop:
		return "parent loop"
	case ConflictMissingParent:
		return "missing parent"
	case ConflictUnversionedParent:
		return "unversioned parent"
	case ConflictNonDirectoryParent:
		return "non-directory parent"
	case ConflictDeletingParent:
		return "deleting parent"
	default:
		return "versioning no contents"
	}
}

// Conflict is one raw conflict recorded against a transform. Which fields
// are meaningful depends on Kind, following the per-kind field table of
// §4.5.3: a path conflict uses FileId/ThisParent/ThisName/OtherParent/
// OtherName; a contents conflict uses Group; a duplicate uses TransId/
// TransIdB/Name; a duplicate id uses TransId/TransIdB; everything else
// uses just TransId (plus Message for "deleting parent"'s "Not deleting").
type Conflict struct {
	Kind ConflictKind

	TransId  TransId
	TransIdB TransId
	Group    []TransId

	FileId      FileId
	ThisParent  FileId
	ThisName    string
	OtherParent FileId
	OtherName   string
	Name        string
	Message     string
}

func (c Conflict) String() string {
	switch c.Kind {
	case ConflictPath:
		return fmt.Sprintf("path conflict: %s renamed to %q/%q vs %q/%q",
			c.FileId, c.ThisParent, c.ThisName, c.OtherParent, c.OtherName)
	case ConflictContents:
		return fmt.Sprintf("contents conflict among %v", c.Group)
	case ConflictText:
		return fmt.Sprintf("text conflict: trans-id %d", c.TransId)
	case ConflictDuplicate:
		return fmt.Sprintf("duplicate: %d and %d both named %q", c.TransId, c.TransIdB, c.Name)
	case ConflictDuplicateId:
		return fmt.Sprintf("duplicate id: %d clashes with %d", c.TransId, c.TransIdB)
	case ConflictDeletingParent:
		return fmt.Sprintf("deleting parent %d: %s", c.TransId, c.Message)
	default:
		return fmt.Sprintf("%s: trans-id %d", c.Kind, c.TransId)
	}
}

// CookedConflict is a Conflict resolved to final, human-facing paths —
// the form surfaced to callers, per §4.5.3's "final form ... ordered by
// path."
type CookedConflict struct {
	Kind        ConflictKind
	Path        string
	ConflictPath string
	FileId      FileId
	Message     string
}

func (c CookedConflict) String() string {
	if c.ConflictPath != "" {
		return fmt.Sprintf("%s: %s / %s", c.Kind, c.Path, c.ConflictPath)
	}
	return fmt.Sprintf("%s: %s", c.Kind, c.Path)
}
