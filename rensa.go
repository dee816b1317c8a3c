// Package rensa maintains an ordered, linear chain of schema revisions and
// applies or reverts them against a live database in strict chain order.
// The currently applied revision lives in the target database itself; the
// engine keeps no state between calls beyond the in-memory chain.
package rensa

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/root-talis/rensa/chain"
	"github.com/root-talis/rensa/driver"
	"github.com/root-talis/rensa/revision"
	source2 "github.com/root-talis/rensa/source"
)

// ---

type Rensa interface {
	Validate(ctx context.Context) (*ValidationResult, error)
	Current(ctx context.Context) (revision.ID, error)
	History(ctx context.Context) (*[]revision.Log, error)

	// Upgrade applies every pending revision up to the chain tail.
	Upgrade(ctx context.Context) error
	// UpgradeTo walks forward from the current revision to target inclusive.
	// A target at or behind the current revision is a no-op.
	UpgradeTo(ctx context.Context, target revision.ID) error
	// DowngradeTo walks backward from the current revision, reverting every
	// revision after target. Refuses to walk through a revision that is not
	// undoable.
	DowngradeTo(ctx context.Context, target revision.ID) error
	// DowngradeAll reverts the whole chain, including the root.
	DowngradeAll(ctx context.Context) error
}

type ValidationResult struct {
	Revisions    []revision.State
	AppliedCount uint
	PendingCount uint
	MissingCount uint
}

// ErrNotUndoable is returned when a downgrade path crosses a revision with
// no usable downgrade operations.
var ErrNotUndoable = fmt.Errorf("revision cannot be undone")

// ---

type rensaImpl struct {
	source source2.Source
	driver driver.Driver
	logger hclog.Logger
}

type Option func(*rensaImpl)

func WithLogger(logger hclog.Logger) Option {
	return func(m *rensaImpl) {
		m.logger = logger
	}
}

// ---

func New(source source2.Source, driver driver.Driver, opts ...Option) Rensa {
	m := &rensaImpl{
		source: source,
		driver: driver,
		logger: hclog.NewNullLogger(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// ---

func (m *rensaImpl) Validate(ctx context.Context) (*ValidationResult, error) {
	ch, err := m.loadChain()
	if err != nil {
		return nil, err
	}

	appliedRevisions, err := m.loadAppliedFromDB(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get the list of applied revisions: %w", err)
	}

	available := ch.Ordered()
	result := ValidationResult{
		Revisions: make([]revision.State, 0, len(available)),
	}

	for _, availableRevision := range available {
		entry, ok := appliedRevisions[availableRevision.ID]

		var status revision.Status
		var appliedAt time.Time
		if ok {
			status = entry.Status
			appliedAt = entry.AppliedAt
		} else {
			status = revision.Pending
		}

		if status == revision.Pending {
			result.PendingCount++
		} else {
			result.AppliedCount++
		}

		result.Revisions = append(result.Revisions, revision.State{
			Description: availableRevision.Describe(),
			Status:      status,
			AppliedAt:   appliedAt,
		})
	}

	missing := make([]revision.State, 0)
	for id, applied := range appliedRevisions {
		if _, ok := ch.Get(id); ok {
			continue
		}

		applied.Description.CanUndo = false
		applied.Status = revision.Missing
		missing = append(missing, applied)
		result.MissingCount++
	}

	sort.Slice(missing, func(i, j int) bool {
		return missing[i].ID < missing[j].ID
	})
	result.Revisions = append(result.Revisions, missing...)

	return &result, nil
}

func (m *rensaImpl) Current(ctx context.Context) (revision.ID, error) {
	return m.driver.Current(ctx)
}

func (m *rensaImpl) History(ctx context.Context) (*[]revision.Log, error) {
	return m.driver.ListRevisionsLog(ctx)
}

// ---

func (m *rensaImpl) Upgrade(ctx context.Context) error {
	ch, err := m.loadChain()
	if err != nil {
		return err
	}

	tail, ok := ch.Tail()
	if !ok {
		return nil // nothing to apply
	}

	return m.upgradeTo(ctx, ch, tail.ID)
}

func (m *rensaImpl) UpgradeTo(ctx context.Context, target revision.ID) error {
	ch, err := m.loadChain()
	if err != nil {
		return err
	}

	return m.upgradeTo(ctx, ch, target)
}

func (m *rensaImpl) upgradeTo(ctx context.Context, ch *chain.Chain, target revision.ID) error {
	current, err := m.driver.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current revision: %w", err)
	}

	path, err := ch.PathUp(current, target)
	if err != nil {
		return err
	}

	if len(path) == 0 {
		m.logger.Info("nothing to upgrade", "current", string(current), "target", string(target))
		return nil
	}

	for _, rev := range path {
		m.logger.Info("upgrading", "revision", string(rev.ID), "name", rev.Name)

		if err = m.driver.Apply(ctx, rev, revision.Up); err != nil {
			return err
		}
	}

	return nil
}

func (m *rensaImpl) DowngradeTo(ctx context.Context, target revision.ID) error {
	ch, err := m.loadChain()
	if err != nil {
		return err
	}

	current, err := m.driver.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current revision: %w", err)
	}

	path, err := ch.PathDown(current, target)
	if err != nil {
		return err
	}

	for _, rev := range path {
		if !rev.Undoable() {
			return fmt.Errorf("%w: %s", ErrNotUndoable, rev.ID)
		}
	}

	for _, rev := range path {
		m.logger.Info("downgrading", "revision", string(rev.ID), "name", rev.Name)

		if err = m.driver.Apply(ctx, rev, revision.Down); err != nil {
			return err
		}
	}

	return nil
}

func (m *rensaImpl) DowngradeAll(ctx context.Context) error {
	return m.DowngradeTo(ctx, revision.Root)
}

// ---

func (m *rensaImpl) loadChain() (*chain.Chain, error) {
	availableRevisions, err := m.source.GetAvailableRevisions()
	if err != nil {
		return nil, fmt.Errorf("failed to get the list of available revisions: %w", err)
	}

	return chain.New(*availableRevisions)
}

// loadAppliedFromDB folds the revisions log into the latest state of every
// revision ever touched: the last direction wins.
func (m *rensaImpl) loadAppliedFromDB(ctx context.Context) (map[revision.ID]revision.State, error) {
	logEntries, err := m.driver.ListRevisionsLog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load revisions log from db: %w", err)
	}

	result := make(map[revision.ID]revision.State, len(*logEntries))
	for _, entry := range *logEntries {
		var status revision.Status
		var appliedAt time.Time

		switch entry.Direction {
		case revision.Up:
			status = revision.Applied
			appliedAt = entry.AppliedAt
		case revision.Down:
			status = revision.Pending
		}

		result[entry.ID] = revision.State{
			Description: revision.Description{
				Ref:     entry.Ref,
				CanUndo: false,
			},
			Status:    status,
			AppliedAt: appliedAt,
		}
	}

	return result, nil
}
