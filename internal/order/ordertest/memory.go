// Package ordertest provides an in-memory order.Store for tests.
package ordertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/order"
)

// MemoryStore is a concurrency-safe order.Store. MarkPaid has the same
// compare-and-set semantics as the SQL implementation.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*order.Order
	byRef  map[string]string
	Err    error
	Writes int
}

var _ order.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*order.Order),
		byRef: make(map[string]string),
	}
}

// Put seeds an order, replacing any with the same id.
func (m *MemoryStore) Put(o *order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.byID[o.ID] = &cp
	m.byRef[o.TransactionRef] = o.ID
}

// Create implements order.Store.
func (m *MemoryStore) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	cp := *o
	m.byID[o.ID] = &cp
	m.byRef[o.TransactionRef] = o.ID
	m.Writes++
	return nil
}

// GetByID implements order.Store.
func (m *MemoryStore) GetByID(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	o, ok := m.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// GetByTransactionRef implements order.Store.
func (m *MemoryStore) GetByTransactionRef(_ context.Context, ref string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	id, ok := m.byRef[ref]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

// GetPendingByTransactionRef implements order.Store.
func (m *MemoryStore) GetPendingByTransactionRef(ctx context.Context, ref string) (*order.Order, error) {
	o, err := m.GetByTransactionRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusPending {
		return nil, order.ErrNotFound
	}
	return o, nil
}

// MarkPaid implements order.Store.
func (m *MemoryStore) MarkPaid(_ context.Context, ref string, paidAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	id, ok := m.byRef[ref]
	if !ok {
		return false, nil
	}
	o := m.byID[id]
	if o.Status != order.StatusPending {
		return false, nil
	}
	if err := o.Transition(order.StatusPaid, paidAt); err != nil {
		return false, err
	}
	m.Writes++
	return true, nil
}

// List implements order.Store.
func (m *MemoryStore) List(_ context.Context, filter order.ListFilter) ([]*order.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, 0, m.Err
	}

	var all []*order.Order
	for _, o := range m.byID {
		if filter.Status == "" || o.Status == filter.Status {
			cp := *o
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	total := len(all)
	if filter.Offset >= total {
		return []*order.Order{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return all[filter.Offset:end], total, nil
}

// Status returns the stored status of the order with ref.
func (m *MemoryStore) Status(ref string) order.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byRef[ref]
	if !ok {
		return ""
	}
	return m.byID[id].Status
}
