package services

import (
	"slices"
	"strings"
	"sync"

	domain "github.com/yomnaalset/bookstore/internal/domain"
)

// OrderListener receives a private snapshot of an order after every change. removed is true when the
// order left the store.
type OrderListener func(order domain.Order, removed bool)

type orderSubscription struct {
	id uint64
	fn OrderListener
}

// OrderStore holds the latest known snapshot of each order and notifies subscribers on change.
// Updates replace an order wholesale; nothing is merged field by field.
type OrderStore struct {
	mu        sync.RWMutex
	orders    map[string]domain.Order
	listeners []orderSubscription
	nextID    uint64
}

// NewOrderStore returns an empty store.
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]domain.Order)}
}

// Get returns a copy of the stored order.
func (s *OrderStore) Get(orderID string) (domain.Order, bool) {
	s.mu.RLock()
	order, ok := s.orders[strings.TrimSpace(orderID)]
	s.mu.RUnlock()
	if !ok {
		return domain.Order{}, false
	}
	return order.Clone(), true
}

// List returns copies of every stored order sorted by id.
func (s *OrderStore) List() []domain.Order {
	s.mu.RLock()
	out := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		out = append(out, order.Clone())
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.Order) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Replace stores order as the current snapshot and notifies subscribers. Orders without an id are ignored.
func (s *OrderStore) Replace(order domain.Order) {
	if order.ID == "" {
		return
	}
	snapshot := order.Clone()
	s.mu.Lock()
	s.orders[order.ID] = snapshot
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()
	notify(listeners, snapshot, false)
}

// Remove drops the order and notifies subscribers when it was present.
func (s *OrderStore) Remove(orderID string) {
	s.mu.Lock()
	order, ok := s.orders[orderID]
	delete(s.orders, orderID)
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()
	if ok {
		notify(listeners, order, true)
	}
}

// Subscribe registers fn and returns a function that unregisters it.
func (s *OrderStore) Subscribe(fn OrderListener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, orderSubscription{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.listeners = slices.DeleteFunc(s.listeners, func(sub orderSubscription) bool { return sub.id == id })
			s.mu.Unlock()
		})
	}
}

func notify(listeners []orderSubscription, order domain.Order, removed bool) {
	for _, sub := range listeners {
		sub.fn(order.Clone(), removed)
	}
}
