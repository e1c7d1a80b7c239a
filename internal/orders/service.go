// Package orders is a small in-memory order book used by the demo server.
// It stands in for the persistence and business rules that the guard protects.
package orders

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("order not found")
	ErrNotOwner      = errors.New("order does not belong to buyer")
	ErrInvalidStatus = errors.New("order status does not allow this operation")
	ErrInvalidOrder  = errors.New("invalid order")
)

type Status string

const (
	StatusNew      Status = "new"
	StatusCanceled Status = "canceled"
)

// Order is one buyer order.
type Order struct {
	ID           string    `json:"orderId"`
	BuyerOpenid  string    `json:"buyerOpenid"`
	BuyerName    string    `json:"buyerName"`
	BuyerAddress string    `json:"buyerAddress,omitempty"`
	Amount       int64     `json:"orderAmount"`
	Status       Status    `json:"orderStatus"`
	CreatedAt    time.Time `json:"createTime"`
}

// Form is the input of Create.
type Form struct {
	Openid  string
	Name    string
	Address string
	Amount  int64
}

// Service is safe for concurrent use.
type Service struct {
	mu     sync.RWMutex
	orders map[string]*Order
	now    func() time.Time
}

// NewService creates an empty order book.
func NewService() *Service {
	return &Service{
		orders: make(map[string]*Order),
		now:    time.Now,
	}
}

// Create stores a new order.
func (s *Service) Create(ctx context.Context, f Form) (Order, error) {
	if f.Openid == "" || f.Name == "" || f.Amount <= 0 {
		return Order{}, ErrInvalidOrder
	}

	o := &Order{
		ID:           uuid.NewString(),
		BuyerOpenid:  f.Openid,
		BuyerName:    f.Name,
		BuyerAddress: f.Address,
		Amount:       f.Amount,
		Status:       StatusNew,
		CreatedAt:    s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	return *o, nil
}

// List returns one page of the buyer's orders, newest first.
func (s *Service) List(ctx context.Context, openid string, page, size int) []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []Order
	for _, o := range s.orders {
		if o.BuyerOpenid == openid {
			all = append(all, *o)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	start := page * size
	if page < 0 || size <= 0 || start >= len(all) {
		return []Order{}
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

// FindOne returns the buyer's order.
func (s *Service) FindOne(ctx context.Context, openid, orderID string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, err := s.owned(openid, orderID)
	if err != nil {
		return Order{}, err
	}
	return *o, nil
}

// Cancel marks the buyer's order canceled.
func (s *Service) Cancel(ctx context.Context, openid, orderID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.owned(openid, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.Status != StatusNew {
		return Order{}, ErrInvalidStatus
	}
	o.Status = StatusCanceled
	return *o, nil
}

// Count returns the number of stored orders.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// owned MUST be called with s.mu held.
func (s *Service) owned(openid, orderID string) (*Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	if o.BuyerOpenid != openid {
		return nil, ErrNotOwner
	}
	return o, nil
}
