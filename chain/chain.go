// Package chain assembles an unordered set of revisions into a single
// linear parent-linked chain and resolves upgrade/downgrade paths over it.
// Traversal is pure: it returns the ordered revisions to apply and never
// touches a database.
package chain

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/root-talis/rensa/revision"
)

var (
	ErrDuplicateRevision = errors.New("duplicate revision id")
	ErrBrokenChain       = errors.New("parent revision does not exist")
	ErrNoRoot            = errors.New("chain has no root revision")
	ErrMultipleRoots     = errors.New("chain has more than one root revision")
	ErrBranchingChain    = errors.New("revision has more than one direct descendant")
	ErrCyclicChain       = errors.New("chain contains a cycle")

	ErrUnknownRevision = errors.New("revision is not part of the chain")
	ErrNotAncestor     = errors.New("revision is not reachable by walking in the requested direction")
)

// ---

type Chain struct {
	order []revision.Revision
	pos   map[revision.ID]int
}

// New builds a chain from an unordered set of revisions. All integrity
// violations found (duplicate ids, dangling parents, multiple roots,
// branches, cycles) are reported at once, before any operation can execute.
func New(revs []revision.Revision) (*Chain, error) {
	var errs *multierror.Error

	byID := make(map[revision.ID]revision.Revision, len(revs))
	for _, rev := range revs {
		if _, exists := byID[rev.ID]; exists {
			errs = multierror.Append(errs, fmt.Errorf("%w: %s", ErrDuplicateRevision, rev.ID))
			continue
		}
		byID[rev.ID] = rev
	}

	children := make(map[revision.ID][]revision.ID, len(byID))
	var roots []revision.ID

	for _, rev := range byID {
		if rev.Parent == revision.Root {
			roots = append(roots, rev.ID)
			continue
		}

		if _, ok := byID[rev.Parent]; !ok {
			errs = multierror.Append(errs, fmt.Errorf(
				"%w: revision %s refers to parent %s", ErrBrokenChain, rev.ID, rev.Parent,
			))
			continue
		}

		children[rev.Parent] = append(children[rev.Parent], rev.ID)
	}

	switch {
	case len(byID) > 0 && len(roots) == 0:
		errs = multierror.Append(errs, ErrNoRoot)
	case len(roots) > 1:
		errs = multierror.Append(errs, fmt.Errorf("%w: %v", ErrMultipleRoots, roots))
	}

	for parent, kids := range children {
		if len(kids) > 1 {
			errs = multierror.Append(errs, fmt.Errorf(
				"%w: revision %s is followed by %v", ErrBranchingChain, parent, kids,
			))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	c := &Chain{
		order: make([]revision.Revision, 0, len(byID)),
		pos:   make(map[revision.ID]int, len(byID)),
	}

	if len(byID) == 0 {
		return c, nil
	}

	// follow the single-child links from the root; anything left over is
	// disconnected from the root, which a linear chain cannot have
	for id := roots[0]; ; {
		c.pos[id] = len(c.order)
		c.order = append(c.order, byID[id])

		next, ok := children[id]
		if !ok {
			break
		}
		id = next[0]
	}

	if len(c.order) != len(byID) {
		return nil, fmt.Errorf(
			"%w: %d of %d revisions are not reachable from root %s",
			ErrCyclicChain, len(byID)-len(c.order), len(byID), roots[0],
		)
	}

	return c, nil
}

// ---

func (c *Chain) Len() int {
	return len(c.order)
}

// Get returns the revision with the given id.
func (c *Chain) Get(id revision.ID) (revision.Revision, bool) {
	i, ok := c.pos[id]
	if !ok {
		return revision.Revision{}, false
	}
	return c.order[i], true
}

// Tail returns the newest revision of the chain.
func (c *Chain) Tail() (revision.Revision, bool) {
	if len(c.order) == 0 {
		return revision.Revision{}, false
	}
	return c.order[len(c.order)-1], true
}

// Ordered returns all revisions from root to tail.
func (c *Chain) Ordered() []revision.Revision {
	result := make([]revision.Revision, len(c.order))
	copy(result, c.order)
	return result
}

// ---

// PathUp returns the revisions to apply forward to move from "from"
// (exclusive; revision.Root means nothing is applied yet) to "to"
// (inclusive). An empty path means "to" is already at or behind "from".
func (c *Chain) PathUp(from, to revision.ID) ([]revision.Revision, error) {
	fromPos, err := c.resolve(from, "current")
	if err != nil {
		return nil, err
	}

	toPos, ok := c.pos[to]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRevision, to)
	}

	if toPos <= fromPos {
		return nil, nil
	}

	return c.order[fromPos+1 : toPos+1], nil
}

// PathDown returns the revisions to revert to move backward from "from"
// (inclusive) to "to" (exclusive; revision.Root reverts the whole chain).
// The result is ordered newest first. Reverting to a revision ahead of
// "from" fails with ErrNotAncestor.
func (c *Chain) PathDown(from, to revision.ID) ([]revision.Revision, error) {
	fromPos, err := c.resolve(from, "current")
	if err != nil {
		return nil, err
	}

	toPos := -1
	if to != revision.Root {
		pos, ok := c.pos[to]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRevision, to)
		}
		toPos = pos
	}

	if toPos > fromPos {
		return nil, fmt.Errorf("%w: %s is ahead of %s", ErrNotAncestor, to, from)
	}

	result := make([]revision.Revision, 0, fromPos-toPos)
	for i := fromPos; i > toPos; i-- {
		result = append(result, c.order[i])
	}

	return result, nil
}

// resolve maps a revision id to its position; revision.Root sits before
// the first element.
func (c *Chain) resolve(id revision.ID, role string) (int, error) {
	if id == revision.Root {
		return -1, nil
	}

	pos, ok := c.pos[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s revision %s", ErrUnknownRevision, role, id)
	}

	return pos, nil
}
