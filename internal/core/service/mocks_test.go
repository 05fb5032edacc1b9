package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/voucher-seckill/internal/core/domain"
)

type mockGate struct {
	mu     sync.Mutex
	stock  map[int64]int
	buyers map[int64]map[int64]bool
	admits []domain.StreamEntry
	err    error
}

func newMockGate() *mockGate {
	return &mockGate{stock: map[int64]int{}, buyers: map[int64]map[int64]bool{}}
}

func (m *mockGate) Admit(ctx context.Context, voucherID, userID, orderID int64) (domain.AdmissionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return 0, m.err
	}
	if m.stock[voucherID] <= 0 {
		return domain.AdmissionSoldOut, nil
	}
	if m.buyers[voucherID][userID] {
		return domain.AdmissionDuplicate, nil
	}
	m.stock[voucherID]--
	if m.buyers[voucherID] == nil {
		m.buyers[voucherID] = map[int64]bool{}
	}
	m.buyers[voucherID][userID] = true
	m.admits = append(m.admits, domain.StreamEntry{OrderID: orderID, UserID: userID, VoucherID: voucherID})
	return domain.AdmissionAccepted, nil
}

func (m *mockGate) SetStock(ctx context.Context, voucherID int64, stock int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[voucherID] = stock
	return nil
}

type mockIDs struct {
	mu   sync.Mutex
	next int64
	err  error
}

func (m *mockIDs) NextID(ctx context.Context, namespace string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.next++
	return m.next, nil
}

type mockVouchers struct {
	vouchers map[int64]domain.SeckillVoucher
}

func (m *mockVouchers) GetVoucher(ctx context.Context, voucherID int64) (*domain.SeckillVoucher, error) {
	v, ok := m.vouchers[voucherID]
	if !ok {
		return nil, domain.ErrVoucherNotFound
	}
	return &v, nil
}

// mockRepo is an in-memory VoucherOrderRepository; WithTx does not roll back.
type mockRepo struct {
	mu        sync.Mutex
	stock     map[int64]int
	orders    map[[2]int64]domain.Order
	vouchers  map[int64]domain.SeckillVoucher
	createErr error
	hasErr    error
	txCalls   int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		stock:    map[int64]int{},
		orders:   map[[2]int64]domain.Order{},
		vouchers: map[int64]domain.SeckillVoucher{},
	}
}

func (m *mockRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.txCalls++
	m.mu.Unlock()
	return fn(ctx)
}

func (m *mockRepo) HasOrder(ctx context.Context, userID, voucherID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasErr != nil {
		return false, m.hasErr
	}
	_, ok := m.orders[[2]int64{userID, voucherID}]
	return ok, nil
}

func (m *mockRepo) DecrementStock(ctx context.Context, voucherID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stock[voucherID] <= 0 {
		return false, nil
	}
	m.stock[voucherID]--
	return true, nil
}

func (m *mockRepo) CreateOrder(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	key := [2]int64{order.UserID, order.VoucherID}
	if _, ok := m.orders[key]; ok {
		return domain.ErrDuplicateOrder
	}
	m.orders[key] = order
	return nil
}

func (m *mockRepo) GetVoucher(ctx context.Context, voucherID int64) (*domain.SeckillVoucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[voucherID]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *mockRepo) CreateVoucher(ctx context.Context, v domain.SeckillVoucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vouchers[v.VoucherID] = v
	m.stock[v.VoucherID] = v.Stock
	return nil
}

func (m *mockRepo) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// mockStream mimics a consumer group with one consumer.
type mockStream struct {
	mu         sync.Mutex
	queue      []domain.StreamEntry
	pending    map[string]domain.StreamEntry
	deliveries map[string]int64
	acked      []string
	dead       []string
	pendingErr int
	seq        int
}

func newMockStream() *mockStream {
	return &mockStream{pending: map[string]domain.StreamEntry{}, deliveries: map[string]int64{}}
}

func (m *mockStream) push(e domain.StreamEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	e.EntryID = entryID(m.seq)
	m.queue = append(m.queue, e)
}

// deliverWithoutAck moves e straight to the pending list, as after a crash.
func (m *mockStream) deliverWithoutAck(e domain.StreamEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	e.EntryID = entryID(m.seq)
	m.pending[e.EntryID] = e
	m.deliveries[e.EntryID] = 1
}

func entryID(n int) string {
	return fmt.Sprintf("%06d-0", n)
}

func (m *mockStream) EnsureGroup(ctx context.Context) error { return nil }

func (m *mockStream) ReadNew(ctx context.Context) (*domain.StreamEntry, error) {
	m.mu.Lock()
	if len(m.queue) > 0 {
		e := m.queue[0]
		m.queue = m.queue[1:]
		m.pending[e.EntryID] = e
		m.deliveries[e.EntryID]++
		m.mu.Unlock()
		return &e, nil
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (m *mockStream) ReadPending(ctx context.Context) (*domain.StreamEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingErr > 0 {
		m.pendingErr--
		return nil, errors.New("redis unreachable")
	}
	if len(m.pending) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	e := m.pending[ids[0]]
	m.deliveries[e.EntryID]++
	return &e, nil
}

func (m *mockStream) Ack(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	m.acked = append(m.acked, id)
	return nil
}

func (m *mockStream) Deliveries(ctx context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deliveries[id], nil
}

func (m *mockStream) DeadLetter(ctx context.Context, e domain.StreamEntry, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, e.EntryID)
	m.dead = append(m.dead, e.EntryID)
	return nil
}

func (m *mockStream) snapshot() (pending, acked, dead int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending), len(m.acked), len(m.dead)
}
