// Package policy implements the build-policy framework: the Policy
// contract, file filters, the registry of builtin policies, and the
// Runner that orders and executes a policy set over a build tree.
package policy

import (
	"context"
	"io/fs"
)

// Tree names the file tree a policy walks.
type Tree int

// Trees a policy may operate on.
const (
	// TreeNone marks policies that inspect run state rather than files.
	TreeNone Tree = iota
	// TreeDestdir walks the install image being packaged.
	TreeDestdir
	// TreeBuilddir walks the unpacked, built sources.
	TreeBuilddir
	// TreePackaged iterates the paths already assigned to components.
	TreePackaged
)

// ConstraintKind grades an ordering constraint between two policies.
type ConstraintKind int

// Ordering constraint kinds.
const (
	// RequiredPrior: the named policy must be present and run first.
	RequiredPrior ConstraintKind = iota
	// ConditionalPrior: the named policy runs first when present.
	ConditionalPrior
	// ConditionalSubsequent: the named policy runs afterwards when present.
	ConditionalSubsequent
)

// Constraint ties a policy to another by name.
type Constraint struct {
	Policy string
	Kind   ConstraintKind
}

// Policy is the minimal contract every build policy fulfils.
type Policy interface {
	Name() string
	Tree() Tree
	Requires() []Constraint
}

// File describes one tree entry handed to a FilePolicy.
type File struct {
	// Path is the tree-relative path with a leading slash.
	Path string
	// FullPath is the absolute on-disk location.
	FullPath string
	Info     fs.FileInfo
}

// FilePolicy is a policy invoked once per matching file.
type FilePolicy interface {
	Policy
	// Filter builds the file filter for this run; macros are already
	// known at this point.
	Filter(run *Run) (*Filter, error)
	DoFile(ctx context.Context, run *Run, f File) error
}

// WholePolicy is a policy invoked once per run.
type WholePolicy interface {
	Policy
	Do(ctx context.Context, run *Run) error
}

// Testable lets a policy opt out of a run cheaply, before any walking.
type Testable interface {
	Test(run *Run) bool
}

// Finisher receives a callback after all files have been dispatched.
type Finisher interface {
	Finish(ctx context.Context, run *Run) error
}
