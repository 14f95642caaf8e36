package borrowing

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"neighborly/internal/catalog"
	"neighborly/internal/notify"
	"neighborly/internal/platform/apperr"
)

// memRepo is an in-memory Repository with the same version semantics as the
// postgres one.
type memRepo struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]BorrowRequest
	changes []Change

	// afterGet runs after Get reads a row, outside the lock.
	afterGet func()
	// beforeUpdate runs inside Update before the version check.
	beforeUpdate func(id uuid.UUID)
	failWith     error
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[uuid.UUID]BorrowRequest)}
}

func (m *memRepo) Get(_ context.Context, id uuid.UUID) (*BorrowRequest, error) {
	m.mu.Lock()
	row, ok := m.rows[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	if m.afterGet != nil {
		m.afterGet()
	}
	return &row, nil
}

// meet holds the first n callers until all of them have arrived. Later
// callers pass straight through.
func meet(n int) func() {
	var (
		mu      sync.Mutex
		arrived int
	)
	all := make(chan struct{})
	return func() {
		mu.Lock()
		arrived++
		if arrived == n {
			close(all)
		}
		late := arrived > n
		mu.Unlock()
		if !late {
			<-all
		}
	}
}

func (m *memRepo) Create(_ context.Context, req *BorrowRequest, change Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	req.Version = 1
	m.rows[req.ID] = *req
	m.changes = append(m.changes, change)
	return nil
}

func (m *memRepo) Update(_ context.Context, req *BorrowRequest, change Change) error {
	if m.beforeUpdate != nil {
		m.beforeUpdate(req.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	stored, ok := m.rows[req.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != req.Version {
		return ErrVersionConflict
	}
	req.Version++
	m.rows[req.ID] = *req
	m.changes = append(m.changes, change)
	return nil
}

// bump simulates a concurrent writer.
func (m *memRepo) bump(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[id]
	row.Version++
	m.rows[id] = row
}

func (m *memRepo) List(_ context.Context, f ListFilter) ([]BorrowRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	out := []BorrowRequest{}
	for _, r := range m.rows {
		if f.BorrowerID != uuid.Nil && r.BorrowerID != f.BorrowerID {
			continue
		}
		if f.LenderID != uuid.Nil && r.LenderID != f.LenderID {
			continue
		}
		if f.ItemID != uuid.Nil && r.ItemID != f.ItemID {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, r.Status) {
			continue
		}
		if !f.OverdueAsOf.IsZero() && !r.IsOverdue(f.OverdueAsOf) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []BorrowRequest{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memRepo) CountByStatus(_ context.Context, role Role, userID uuid.UUID) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[Status]int{}
	for _, r := range m.rows {
		if (role == RoleLender && r.LenderID == userID) || (role == RoleBorrower && r.BorrowerID == userID) {
			counts[r.Status]++
		}
	}
	return counts, nil
}

type fakeCatalog struct {
	mu    sync.Mutex
	items map[uuid.UUID]*catalog.Item
	// setCalls records the flips that took effect.
	setCalls []bool
	setErr   error

	// afterGet runs after GetItem returns its copy, outside the lock.
	afterGet func()
}

func newFakeCatalog(items ...*catalog.Item) *fakeCatalog {
	c := &fakeCatalog{items: make(map[uuid.UUID]*catalog.Item)}
	for _, it := range items {
		c.items[it.ID] = it
	}
	return c
}

func (c *fakeCatalog) GetItem(_ context.Context, id uuid.UUID) (*catalog.Item, error) {
	c.mu.Lock()
	it, ok := c.items[id]
	var cp catalog.Item
	if ok {
		cp = *it
	}
	c.mu.Unlock()
	if !ok {
		return nil, apperr.NotFound("item not found")
	}
	if c.afterGet != nil {
		c.afterGet()
	}
	return &cp, nil
}

func (c *fakeCatalog) SetAvailability(_ context.Context, id uuid.UUID, available bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	it, ok := c.items[id]
	if !ok {
		return apperr.NotFound("item not found")
	}
	if it.Available == available {
		return apperr.Conflict("item availability is already %v", available)
	}
	it.Available = available
	c.setCalls = append(c.setCalls, available)
	return nil
}

func (c *fakeCatalog) available(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[id].Available
}

type fakeMembers struct {
	members map[uuid.UUID]bool
	err     error
}

func (f fakeMembers) IsMember(_ context.Context, _ uuid.UUID, userID uuid.UUID) (bool, error) {
	return f.members[userID], f.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(ev notify.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return true
}

func (n *recordingNotifier) last() notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.events) == 0 {
		return notify.Event{}
	}
	return n.events[len(n.events)-1]
}

var errStoreDown = errors.New("connection refused")
