package collections

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/intentions/internal/entitlement"
	"go.uber.org/zap"
)

var (
	// ErrItemNotFound indicates that no item with the identifier is loaded.
	ErrItemNotFound = errors.New("collections: item not found")
	// ErrItemExists indicates that an item with the identifier is already loaded.
	ErrItemExists = errors.New("collections: item already exists")
	// ErrTierUnavailable indicates that the tier lookup failed, so no quota decision could be made.
	ErrTierUnavailable = errors.New("collections: tier unavailable")

	errMissingStore = errors.New("collections: store is required")
	noOpLogger      = zap.NewNop()
)

// Item is the shape shared by every time-bucketed entry.
type Item[T any] interface {
	ItemID() string
	OccursOn() time.Time
	IsCompleted() bool
	WithCompletion(completed bool) T
}

// Store is the remote collection backing a manager.
type Store[T any] interface {
	List(ctx context.Context) ([]T, error)
	Put(ctx context.Context, item T) error
	Delete(ctx context.Context, id string) error
}

// Options tune a manager to one feature.
type Options[T Item[T]] struct {
	Bucket Bucket
	// Quota gates Add. QuotaNone disables the gate.
	Quota entitlement.Quota
	// Tier is consulted on every Add.
	Tier entitlement.TierSource
	// Partitioned splits the view into active and completed lists.
	Partitioned bool
	// Less orders each list; the sort is stable so ties keep fetch order.
	Less func(left, right T) bool
	// CompletedLast pushes completed items to the end of an unpartitioned list.
	CompletedLast bool
	// Optimistic applies ToggleCompletion locally before the remote write and reverts on failure.
	Optimistic bool
	// QuotaAnchor picks the instant whose bucket is counted for a new item.
	// Defaults to the active bucket.
	QuotaAnchor func(item T) time.Time
	Validate    func(item T) error
	Location    *time.Location
	Clock       func() time.Time
	Logger      *zap.Logger
}

// View is the derived, displayable state of a manager.
type View[T any] struct {
	ActiveDate time.Time
	Active     []T
	Completed  []T
}

// Manager owns one feature's in-memory list for one user. In-memory state changes only
// after the store acknowledges the write, except for the optimistic toggle path.
type Manager[T Item[T]] struct {
	mu         sync.Mutex
	store      Store[T]
	options    Options[T]
	logger     *zap.Logger
	all        []T
	activeDate time.Time
	view       View[T]
}

// NewManager constructs a manager over store.
func NewManager[T Item[T]](store Store[T], options Options[T]) (*Manager[T], error) {
	if store == nil {
		return nil, errMissingStore
	}
	if options.Location == nil {
		options.Location = time.UTC
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}
	if options.Tier == nil {
		options.Tier = entitlement.StaticTier(entitlement.TierBasic)
	}
	logger := options.Logger
	if logger == nil {
		logger = noOpLogger
	}
	manager := &Manager[T]{
		store:      store,
		options:    options,
		logger:     logger,
		activeDate: options.Clock(),
	}
	manager.derive()
	return manager, nil
}

// Fetch replaces the in-memory list with the full remote collection and filters it to the
// bucket containing activeDate.
func (m *Manager[T]) Fetch(ctx context.Context, activeDate time.Time) (View[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items, err := m.store.List(ctx)
	if err != nil {
		m.logger.Warn("collection fetch failed", zap.Error(err))
		return m.snapshot(), err
	}
	m.all = items
	if !activeDate.IsZero() {
		m.activeDate = activeDate
	}
	m.derive()
	return m.snapshot(), nil
}

// SetActiveDate re-filters the loaded list without touching the store.
func (m *Manager[T]) SetActiveDate(activeDate time.Time) View[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeDate = activeDate
	m.derive()
	return m.snapshot()
}

// View returns the current derived state.
func (m *Manager[T]) View() View[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

// Add gates item against the tier quota, writes it, then appends it locally.
func (m *Manager[T]) Add(ctx context.Context, item T) (View[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.validate(item); err != nil {
		return m.snapshot(), err
	}
	if m.indexOf(item.ItemID()) >= 0 {
		return m.snapshot(), ErrItemExists
	}

	if m.options.Quota != entitlement.QuotaNone {
		tier, err := m.options.Tier.CurrentTier(ctx)
		if err != nil {
			m.logger.Warn("tier lookup failed", zap.Error(err))
			return m.snapshot(), fmt.Errorf("%w: %v", ErrTierUnavailable, err)
		}
		existing := m.countInBucket(m.quotaAnchor(item))
		if entitlement.CheckQuota(tier, m.options.Quota, existing) == entitlement.Deny {
			m.logger.Info("quota exceeded",
				zap.String("quota", string(m.options.Quota)),
				zap.String("tier", tier.String()),
				zap.Int("existing", existing))
			return m.snapshot(), entitlement.NewQuotaExceededError(tier, m.options.Quota)
		}
	}

	if err := m.store.Put(ctx, item); err != nil {
		m.logger.Warn("collection add failed", zap.String("item_id", item.ItemID()), zap.Error(err))
		return m.snapshot(), err
	}
	m.all = append(m.all, item)
	m.derive()
	return m.snapshot(), nil
}

// Update overwrites the stored item and replaces the loaded entry with the same identifier.
func (m *Manager[T]) Update(ctx context.Context, item T) (View[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.validate(item); err != nil {
		return m.snapshot(), err
	}
	if err := m.store.Put(ctx, item); err != nil {
		m.logger.Warn("collection update failed", zap.String("item_id", item.ItemID()), zap.Error(err))
		return m.snapshot(), err
	}
	m.replace(item)
	m.derive()
	return m.snapshot(), nil
}

// Delete removes the item remotely and then from every local list.
func (m *Manager[T]) Delete(ctx context.Context, id string) (View[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		m.logger.Warn("collection delete failed", zap.String("item_id", id), zap.Error(err))
		return m.snapshot(), err
	}
	kept := m.all[:0]
	for _, existing := range m.all {
		if existing.ItemID() != id {
			kept = append(kept, existing)
		}
	}
	m.all = kept
	m.derive()
	return m.snapshot(), nil
}

// ToggleCompletion flips the completion flag of the loaded item with id.
func (m *Manager[T]) ToggleCompletion(ctx context.Context, id string) (View[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := m.indexOf(id)
	if index < 0 {
		return m.snapshot(), fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	original := m.all[index]
	toggled := original.WithCompletion(!original.IsCompleted())

	if m.options.Optimistic {
		m.all[index] = toggled
		m.derive()
		if err := m.store.Put(ctx, toggled); err != nil {
			m.logger.Warn("optimistic toggle reverted", zap.String("item_id", id), zap.Error(err))
			m.replace(original)
			m.derive()
			return m.snapshot(), err
		}
		return m.snapshot(), nil
	}

	if err := m.store.Put(ctx, toggled); err != nil {
		m.logger.Warn("collection toggle failed", zap.String("item_id", id), zap.Error(err))
		return m.snapshot(), err
	}
	m.replace(toggled)
	m.derive()
	return m.snapshot(), nil
}

// Find returns the loaded item with id.
func (m *Manager[T]) Find(id string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	index := m.indexOf(id)
	if index < 0 {
		var zero T
		return zero, false
	}
	return m.all[index], true
}

func (m *Manager[T]) validate(item T) error {
	if m.options.Validate == nil {
		return nil
	}
	return m.options.Validate(item)
}

// anchor is the instant whose bucket is displayed. Year buckets always follow the clock.
func (m *Manager[T]) anchor() time.Time {
	if m.options.Bucket == BucketYear {
		return m.options.Clock()
	}
	return m.activeDate
}

func (m *Manager[T]) quotaAnchor(item T) time.Time {
	if m.options.QuotaAnchor != nil {
		return m.options.QuotaAnchor(item)
	}
	return m.anchor()
}

func (m *Manager[T]) countInBucket(anchor time.Time) int {
	count := 0
	for _, existing := range m.all {
		if m.options.Bucket.Contains(anchor, existing.OccursOn(), m.options.Location) {
			count++
		}
	}
	return count
}

func (m *Manager[T]) indexOf(id string) int {
	for index, existing := range m.all {
		if existing.ItemID() == id {
			return index
		}
	}
	return -1
}

func (m *Manager[T]) replace(item T) {
	if index := m.indexOf(item.ItemID()); index >= 0 {
		m.all[index] = item
		return
	}
	m.all = append(m.all, item)
}

func (m *Manager[T]) derive() {
	anchor := m.anchor()
	var active, completed []T
	for _, item := range m.all {
		if !m.options.Bucket.Contains(anchor, item.OccursOn(), m.options.Location) {
			continue
		}
		if m.options.Partitioned && item.IsCompleted() {
			completed = append(completed, item)
			continue
		}
		active = append(active, item)
	}
	if m.options.Less != nil {
		sort.SliceStable(active, func(i, j int) bool { return m.options.Less(active[i], active[j]) })
		sort.SliceStable(completed, func(i, j int) bool { return m.options.Less(completed[i], completed[j]) })
	}
	if m.options.CompletedLast {
		sort.SliceStable(active, func(i, j int) bool {
			return !active[i].IsCompleted() && active[j].IsCompleted()
		})
	}
	m.view = View[T]{ActiveDate: m.activeDate, Active: active, Completed: completed}
}

func (m *Manager[T]) snapshot() View[T] {
	return View[T]{
		ActiveDate: m.view.ActiveDate,
		Active:     append([]T(nil), m.view.Active...),
		Completed:  append([]T(nil), m.view.Completed...),
	}
}
