package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore implements Store in process memory. A single mutex is held for the
// whole of WithinTx, so transactions are fully serialised; a failed transaction
// restores the snapshot taken when it began.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	nextID    int64
	profiles  map[int64]string
	carts     map[int64]domain.Cart
	cartLines map[int64]domain.CartLine
	orders    map[uuid.UUID]domain.Order
	methods   map[string]domain.PaymentMethod
	events    map[string]ProcessedEvent
	outbox    []OutboxEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		profiles:  make(map[int64]string),
		carts:     make(map[int64]domain.Cart),
		cartLines: make(map[int64]domain.CartLine),
		orders:    make(map[uuid.UUID]domain.Order),
		methods:   make(map[string]domain.PaymentMethod),
		events:    make(map[string]ProcessedEvent),
	}}
}

func (s *memState) clone() *memState {
	c := &memState{
		nextID:    s.nextID,
		profiles:  make(map[int64]string, len(s.profiles)),
		carts:     make(map[int64]domain.Cart, len(s.carts)),
		cartLines: make(map[int64]domain.CartLine, len(s.cartLines)),
		orders:    make(map[uuid.UUID]domain.Order, len(s.orders)),
		methods:   make(map[string]domain.PaymentMethod, len(s.methods)),
		events:    make(map[string]ProcessedEvent, len(s.events)),
		outbox:    append([]OutboxEvent(nil), s.outbox...),
	}
	for k, v := range s.profiles {
		c.profiles[k] = v
	}
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for k, v := range s.cartLines {
		c.cartLines[k] = v
	}
	for k, v := range s.orders {
		v.Lines = append([]domain.OrderLine(nil), v.Lines...)
		c.orders[k] = v
	}
	for k, v := range s.methods {
		c.methods[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	return c
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(q Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.state.clone()
	if err := fn(&memQueries{s: m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// do runs a single statement outside an explicit transaction.
func (m *MemoryStore) do(fn func(q *memQueries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memQueries{s: m.state})
}

func (m *MemoryStore) GetUnprocessedEvents(_ context.Context, limit int) ([]*OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []*OutboxEvent
	for i := range m.state.outbox {
		if len(events) == limit {
			break
		}
		if m.state.outbox[i].PublishedAt == nil {
			ev := m.state.outbox[i]
			events = append(events, &ev)
		}
	}
	return events, nil
}

func (m *MemoryStore) MarkEventAsPublished(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.state.outbox {
		if m.state.outbox[i].ID == id {
			now := time.Now().UTC()
			m.state.outbox[i].PublishedAt = &now
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) LockUser(ctx context.Context, userID int64) error {
	return m.do(func(q *memQueries) error { return q.LockUser(ctx, userID) })
}

func (m *MemoryStore) GetUserRegion(ctx context.Context, userID int64) (region string, err error) {
	err = m.do(func(q *memQueries) error {
		region, err = q.GetUserRegion(ctx, userID)
		return err
	})
	return region, err
}

func (m *MemoryStore) SetUserRegion(ctx context.Context, userID int64, region string) error {
	return m.do(func(q *memQueries) error { return q.SetUserRegion(ctx, userID, region) })
}

func (m *MemoryStore) GetCart(ctx context.Context, userID int64, status domain.CartStatus) (cart *domain.Cart, err error) {
	err = m.do(func(q *memQueries) error {
		cart, err = q.GetCart(ctx, userID, status)
		return err
	})
	return cart, err
}

func (m *MemoryStore) CreateCart(ctx context.Context, userID int64) (cart *domain.Cart, err error) {
	err = m.do(func(q *memQueries) error {
		cart, err = q.CreateCart(ctx, userID)
		return err
	})
	return cart, err
}

func (m *MemoryStore) DeleteCarts(ctx context.Context, userID int64, status domain.CartStatus) error {
	return m.do(func(q *memQueries) error { return q.DeleteCarts(ctx, userID, status) })
}

func (m *MemoryStore) SetCartStatus(ctx context.Context, cartID int64, status domain.CartStatus) error {
	return m.do(func(q *memQueries) error { return q.SetCartStatus(ctx, cartID, status) })
}

func (m *MemoryStore) ListCartLines(ctx context.Context, cartID int64) (lines []domain.CartLine, err error) {
	err = m.do(func(q *memQueries) error {
		lines, err = q.ListCartLines(ctx, cartID)
		return err
	})
	return lines, err
}

func (m *MemoryStore) UpsertCartLine(ctx context.Context, line domain.CartLine) (out *domain.CartLine, err error) {
	err = m.do(func(q *memQueries) error {
		out, err = q.UpsertCartLine(ctx, line)
		return err
	})
	return out, err
}

func (m *MemoryStore) DeleteCartLine(ctx context.Context, cartID, lineID int64) error {
	return m.do(func(q *memQueries) error { return q.DeleteCartLine(ctx, cartID, lineID) })
}

func (m *MemoryStore) CreateOrder(ctx context.Context, order *domain.Order) error {
	return m.do(func(q *memQueries) error { return q.CreateOrder(ctx, order) })
}

func (m *MemoryStore) GetOrder(ctx context.Context, orderID uuid.UUID) (order *domain.Order, err error) {
	err = m.do(func(q *memQueries) error {
		order, err = q.GetOrder(ctx, orderID)
		return err
	})
	return order, err
}

func (m *MemoryStore) GetOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return m.GetOrder(ctx, orderID)
}

func (m *MemoryStore) ListOrdersByUser(ctx context.Context, userID int64) (orders []*domain.Order, err error) {
	err = m.do(func(q *memQueries) error {
		orders, err = q.ListOrdersByUser(ctx, userID)
		return err
	})
	return orders, err
}

func (m *MemoryStore) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from, to domain.OrderStatus) error {
	return m.do(func(q *memQueries) error { return q.UpdateOrderStatus(ctx, orderID, from, to) })
}

func (m *MemoryStore) SetPaymentRef(ctx context.Context, orderID uuid.UUID, ref string) error {
	return m.do(func(q *memQueries) error { return q.SetPaymentRef(ctx, orderID, ref) })
}

func (m *MemoryStore) SetInvoiceRef(ctx context.Context, orderID uuid.UUID, ref string) error {
	return m.do(func(q *memQueries) error { return q.SetInvoiceRef(ctx, orderID, ref) })
}

func (m *MemoryStore) ListPaidOrdersWithoutInvoice(ctx context.Context, limit int) (orders []*domain.Order, err error) {
	err = m.do(func(q *memQueries) error {
		orders, err = q.ListPaidOrdersWithoutInvoice(ctx, limit)
		return err
	})
	return orders, err
}

func (m *MemoryStore) CreatePaymentMethod(ctx context.Context, pm *domain.PaymentMethod) error {
	return m.do(func(q *memQueries) error { return q.CreatePaymentMethod(ctx, pm) })
}

func (m *MemoryStore) GetPaymentMethod(ctx context.Context, userID int64, methodID string) (pm *domain.PaymentMethod, err error) {
	err = m.do(func(q *memQueries) error {
		pm, err = q.GetPaymentMethod(ctx, userID, methodID)
		return err
	})
	return pm, err
}

func (m *MemoryStore) ListPaymentMethods(ctx context.Context, userID int64) (methods []*domain.PaymentMethod, err error) {
	err = m.do(func(q *memQueries) error {
		methods, err = q.ListPaymentMethods(ctx, userID)
		return err
	})
	return methods, err
}

func (m *MemoryStore) DeletePaymentMethod(ctx context.Context, userID int64, methodID string) error {
	return m.do(func(q *memQueries) error { return q.DeletePaymentMethod(ctx, userID, methodID) })
}

func (m *MemoryStore) ClearDefaultPaymentMethod(ctx context.Context, userID int64) error {
	return m.do(func(q *memQueries) error { return q.ClearDefaultPaymentMethod(ctx, userID) })
}

func (m *MemoryStore) MarkEventProcessed(ctx context.Context, ev ProcessedEvent) (fresh bool, err error) {
	err = m.do(func(q *memQueries) error {
		fresh, err = q.MarkEventProcessed(ctx, ev)
		return err
	})
	return fresh, err
}

func (m *MemoryStore) InsertOutboxEvent(ctx context.Context, ev *OutboxEvent) error {
	return m.do(func(q *memQueries) error { return q.InsertOutboxEvent(ctx, ev) })
}

// memQueries operates on state the caller has already locked.
type memQueries struct {
	s *memState
}

func (q *memQueries) LockUser(context.Context, int64) error {
	return nil
}

func (q *memQueries) GetUserRegion(_ context.Context, userID int64) (string, error) {
	return q.s.profiles[userID], nil
}

func (q *memQueries) SetUserRegion(_ context.Context, userID int64, region string) error {
	q.s.profiles[userID] = region
	return nil
}

func (q *memQueries) GetCart(_ context.Context, userID int64, status domain.CartStatus) (*domain.Cart, error) {
	for _, c := range q.s.carts {
		if c.UserID == userID && c.Status == status {
			cart := c
			return &cart, nil
		}
	}
	return nil, ErrCartNotFound
}

func (q *memQueries) CreateCart(_ context.Context, userID int64) (*domain.Cart, error) {
	for _, c := range q.s.carts {
		if c.UserID == userID {
			return nil, ErrDuplicateCart
		}
	}
	now := time.Now().UTC()
	cart := domain.Cart{
		ID:        q.s.id(),
		UserID:    userID,
		Status:    domain.CartStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.s.carts[cart.ID] = cart
	return &cart, nil
}

func (q *memQueries) DeleteCarts(_ context.Context, userID int64, status domain.CartStatus) error {
	for id, c := range q.s.carts {
		if c.UserID != userID || c.Status != status {
			continue
		}
		delete(q.s.carts, id)
		for lineID, l := range q.s.cartLines {
			if l.CartID == id {
				delete(q.s.cartLines, lineID)
			}
		}
	}
	return nil
}

func (q *memQueries) SetCartStatus(_ context.Context, cartID int64, status domain.CartStatus) error {
	c, ok := q.s.carts[cartID]
	if !ok {
		return ErrCartNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	q.s.carts[cartID] = c
	return nil
}

func (q *memQueries) ListCartLines(_ context.Context, cartID int64) ([]domain.CartLine, error) {
	lines := make([]domain.CartLine, 0)
	for _, l := range q.s.cartLines {
		if l.CartID == cartID {
			lines = append(lines, l)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines, nil
}

func (q *memQueries) UpsertCartLine(_ context.Context, line domain.CartLine) (*domain.CartLine, error) {
	c, ok := q.s.carts[line.CartID]
	if !ok {
		return nil, ErrCartNotFound
	}

	for id, existing := range q.s.cartLines {
		if existing.CartID == line.CartID && existing.ProductRef == line.ProductRef {
			existing.Quantity += line.Quantity
			existing.UnitPrice = line.UnitPrice
			existing.ItemType = line.ItemType
			q.s.cartLines[id] = existing
			line = existing
			break
		}
	}
	if line.ID == 0 {
		line.ID = q.s.id()
		q.s.cartLines[line.ID] = line
	}

	c.UpdatedAt = time.Now().UTC()
	q.s.carts[c.ID] = c
	return &line, nil
}

func (q *memQueries) DeleteCartLine(_ context.Context, cartID, lineID int64) error {
	l, ok := q.s.cartLines[lineID]
	if !ok || l.CartID != cartID {
		return ErrCartLineNotFound
	}
	delete(q.s.cartLines, lineID)
	return nil
}

func (q *memQueries) CreateOrder(_ context.Context, order *domain.Order) error {
	if _, exists := q.s.orders[order.OrderID]; exists {
		return ErrDuplicateOrder
	}
	if !order.Balanced() {
		return ErrUnbalancedOrder
	}

	now := time.Now().UTC()
	order.ID = q.s.id()
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Lines {
		order.Lines[i].ID = q.s.id()
		order.Lines[i].OrderID = order.ID
	}

	stored := *order
	stored.Lines = append([]domain.OrderLine(nil), order.Lines...)
	q.s.orders[order.OrderID] = stored
	return nil
}

func (q *memQueries) GetOrder(_ context.Context, orderID uuid.UUID) (*domain.Order, error) {
	o, ok := q.s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (q *memQueries) GetOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return q.GetOrder(ctx, orderID)
}

func copyOrder(o domain.Order) *domain.Order {
	o.Lines = append([]domain.OrderLine{}, o.Lines...)
	return &o
}

func (q *memQueries) ListOrdersByUser(_ context.Context, userID int64) ([]*domain.Order, error) {
	orders := make([]*domain.Order, 0)
	for _, o := range q.s.orders {
		if o.UserID == userID {
			orders = append(orders, copyOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders, nil
}

func (q *memQueries) UpdateOrderStatus(_ context.Context, orderID uuid.UUID, from, to domain.OrderStatus) error {
	o, ok := q.s.orders[orderID]
	if !ok || o.Status != from {
		return ErrStaleStatus
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	q.s.orders[orderID] = o
	return nil
}

func (q *memQueries) SetPaymentRef(_ context.Context, orderID uuid.UUID, ref string) error {
	o, ok := q.s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	o.PaymentRef = ref
	o.UpdatedAt = time.Now().UTC()
	q.s.orders[orderID] = o
	return nil
}

func (q *memQueries) SetInvoiceRef(_ context.Context, orderID uuid.UUID, ref string) error {
	o, ok := q.s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	o.InvoiceRef = ref
	o.UpdatedAt = time.Now().UTC()
	q.s.orders[orderID] = o
	return nil
}

func (q *memQueries) ListPaidOrdersWithoutInvoice(_ context.Context, limit int) ([]*domain.Order, error) {
	orders := make([]*domain.Order, 0)
	for _, o := range q.s.orders {
		if o.Status == domain.OrderStatusPaid && o.InvoiceRef == "" {
			orders = append(orders, copyOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (q *memQueries) CreatePaymentMethod(_ context.Context, pm *domain.PaymentMethod) error {
	for _, existing := range q.s.methods {
		if existing.MethodID == pm.MethodID || existing.ProviderRef == pm.ProviderRef {
			return ErrDuplicatePaymentMethod
		}
		if pm.IsDefault && existing.IsDefault && existing.UserID == pm.UserID {
			return ErrDuplicatePaymentMethod
		}
	}
	pm.CreatedAt = time.Now().UTC()
	q.s.methods[pm.MethodID] = *pm
	return nil
}

func (q *memQueries) GetPaymentMethod(_ context.Context, userID int64, methodID string) (*domain.PaymentMethod, error) {
	pm, ok := q.s.methods[methodID]
	if !ok || pm.UserID != userID {
		return nil, ErrPaymentMethodNotFound
	}
	return &pm, nil
}

func (q *memQueries) ListPaymentMethods(_ context.Context, userID int64) ([]*domain.PaymentMethod, error) {
	methods := make([]*domain.PaymentMethod, 0)
	for _, pm := range q.s.methods {
		if pm.UserID == userID {
			pm := pm
			methods = append(methods, &pm)
		}
	}
	sort.Slice(methods, func(i, j int) bool {
		if methods[i].IsDefault != methods[j].IsDefault {
			return methods[i].IsDefault
		}
		if !methods[i].CreatedAt.Equal(methods[j].CreatedAt) {
			return methods[i].CreatedAt.After(methods[j].CreatedAt)
		}
		return methods[i].MethodID > methods[j].MethodID
	})
	return methods, nil
}

func (q *memQueries) DeletePaymentMethod(_ context.Context, userID int64, methodID string) error {
	pm, ok := q.s.methods[methodID]
	if !ok || pm.UserID != userID {
		return ErrPaymentMethodNotFound
	}
	delete(q.s.methods, methodID)
	return nil
}

func (q *memQueries) ClearDefaultPaymentMethod(_ context.Context, userID int64) error {
	for id, pm := range q.s.methods {
		if pm.UserID == userID && pm.IsDefault {
			pm.IsDefault = false
			q.s.methods[id] = pm
		}
	}
	return nil
}

func (q *memQueries) MarkEventProcessed(_ context.Context, ev ProcessedEvent) (bool, error) {
	if _, seen := q.s.events[ev.EventID]; seen {
		return false, nil
	}
	ev.ProcessedAt = time.Now().UTC()
	q.s.events[ev.EventID] = ev
	return true, nil
}

func (q *memQueries) InsertOutboxEvent(_ context.Context, ev *OutboxEvent) error {
	ev.ID = q.s.id()
	ev.CreatedAt = time.Now().UTC()
	q.s.outbox = append(q.s.outbox, *ev)
	return nil
}
