package revision

import "time"

type Direction rune

const (
	Down Direction = 'd'
	Up   Direction = 'u'
)

// ---

// ID is an opaque unique revision token assigned at authoring time.
type ID string

// Root is the Parent value of the first revision in a chain.
const Root ID = ""

type Revision struct {
	ID     ID
	Parent ID
	Name   string
	Up     []Op
	Down   []Op
}

// Ref identifies a revision without carrying its operations.
type Ref struct {
	ID   ID
	Name string
}

func (r Revision) Ref() Ref {
	return Ref{ID: r.ID, Name: r.Name}
}

// Undoable reports whether the revision declares a downgrade that is a
// structural inverse of its upgrade.
func (r Revision) Undoable() bool {
	return len(r.Down) > 0 && r.CheckUndo() == nil
}

// ---

type Status uint

const (
	Pending Status = iota
	Applied
	Missing
)

// ---

type Log struct {
	Ref
	Direction
	AppliedAt time.Time
}

// ---

type Description struct {
	Ref
	CanUndo bool
}

func (r Revision) Describe() Description {
	return Description{Ref: r.Ref(), CanUndo: r.Undoable()}
}

type State struct {
	Description
	Status    Status
	AppliedAt time.Time
}
