package tests

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"duka/internal/domain"
	"duka/internal/mpesa"
	"duka/internal/redis"
	"duka/internal/repository"
	"duka/internal/service"
)

// ──────────────────────────────────────────────
// MOCK DATABASE
// ──────────────────────────────────────────────

// MockDB is an in-memory stand-in for the PostgreSQL schema. It implements the
// repository interfaces, repository.Store and repository.UnitOfWork.
//
// WithinTx runs one transaction at a time and restores a snapshot when fn fails,
// which gives the serialisation row locks provide in PostgreSQL.
type MockDB struct {
	mu   sync.Mutex
	txMu sync.Mutex

	orders  map[string]*domain.Order
	txns    map[string]*domain.PaymentTransaction
	catalog map[domain.ItemRef]*domain.CatalogItem
	promos  map[string]*domain.PromoCode
	tiers   map[string]*domain.DeliveryTier

	// Counters for verification
	CreateOrderCalls    int32
	DecrementStockCalls int32
	IncrementUsageCalls int32
	CheckoutLookupCalls int32

	// FailOrderCreates makes the next N order inserts report a duplicate order number.
	FailOrderCreates int32

	// BeforeCheckoutLookup runs at the start of every GetByCheckoutRequestID call.
	BeforeCheckoutLookup func(call int32)

	commitErr error
}

// NewMockDB creates an empty MockDB.
func NewMockDB() *MockDB {
	return &MockDB{
		orders:  make(map[string]*domain.Order),
		txns:    make(map[string]*domain.PaymentTransaction),
		catalog: make(map[domain.ItemRef]*domain.CatalogItem),
		promos:  make(map[string]*domain.PromoCode),
		tiers:   make(map[string]*domain.DeliveryTier),
	}
}

var (
	_ repository.UnitOfWork = (*MockDB)(nil)
	_ repository.Store      = (*MockDB)(nil)
)

func (db *MockDB) Orders() repository.OrderRepository { return &MockOrderRepository{db: db} }

func (db *MockDB) Transactions() repository.TransactionRepository {
	return &MockTransactionRepository{db: db}
}

func (db *MockDB) Catalog() repository.CatalogRepository { return &MockCatalogRepository{db: db} }

func (db *MockDB) Promos() repository.PromoRepository { return &MockPromoRepository{db: db} }

// Tiers returns the delivery tier repository.
func (db *MockDB) Tiers() repository.DeliveryTierRepository {
	return &MockDeliveryTierRepository{db: db}
}

func (db *MockDB) WithinTx(ctx context.Context, fn func(store repository.Store) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	snap := db.snapshot()
	if err := fn(db); err != nil {
		db.restore(snap)
		return err
	}

	db.mu.Lock()
	err := db.commitErr
	db.commitErr = nil
	db.mu.Unlock()
	if err != nil {
		db.restore(snap)
		return err
	}
	return nil
}

// FailNextCommit makes the next successful WithinTx roll back and return err.
func (db *MockDB) FailNextCommit(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.commitErr = err
}

type mockSnapshot struct {
	orders  map[string]*domain.Order
	txns    map[string]*domain.PaymentTransaction
	catalog map[domain.ItemRef]*domain.CatalogItem
	promos  map[string]*domain.PromoCode
}

func (db *MockDB) snapshot() mockSnapshot {
	db.mu.Lock()
	defer db.mu.Unlock()

	snap := mockSnapshot{
		orders:  make(map[string]*domain.Order, len(db.orders)),
		txns:    make(map[string]*domain.PaymentTransaction, len(db.txns)),
		catalog: make(map[domain.ItemRef]*domain.CatalogItem, len(db.catalog)),
		promos:  make(map[string]*domain.PromoCode, len(db.promos)),
	}
	for k, v := range db.orders {
		snap.orders[k] = cloneOrder(v)
	}
	for k, v := range db.txns {
		snap.txns[k] = cloneTxn(v)
	}
	for k, v := range db.catalog {
		c := *v
		snap.catalog[k] = &c
	}
	for k, v := range db.promos {
		c := *v
		snap.promos[k] = &c
	}
	return snap
}

func (db *MockDB) restore(snap mockSnapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.orders = snap.orders
	db.txns = snap.txns
	db.catalog = snap.catalog
	db.promos = snap.promos
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.LineItem(nil), o.Items...)
	return &c
}

func cloneTxn(t *domain.PaymentTransaction) *domain.PaymentTransaction {
	c := *t
	return &c
}

// ── seeding ──

// AddProduct adds a catalog entry.
func (db *MockDB) AddProduct(item *domain.CatalogItem) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c := *item
	db.catalog[item.Ref] = &c
}

// AddPromo adds a promo code.
func (db *MockDB) AddPromo(p *domain.PromoCode) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c := *p
	db.promos[p.Code] = &c
}

// AddTier adds a delivery location.
func (db *MockDB) AddTier(t *domain.DeliveryTier) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c := *t
	db.tiers[t.LocationID] = &c
}

// AddTransaction stores a transaction as is.
func (db *MockDB) AddTransaction(t *domain.PaymentTransaction) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.txns[t.ID] = cloneTxn(t)
}

// ── inspection ──

// Order returns a copy of the stored order.
func (db *MockDB) Order(id string) *domain.Order {
	db.mu.Lock()
	defer db.mu.Unlock()
	if o, ok := db.orders[id]; ok {
		return cloneOrder(o)
	}
	return nil
}

// Transaction returns a copy of the stored transaction.
func (db *MockDB) Transaction(id string) *domain.PaymentTransaction {
	db.mu.Lock()
	defer db.mu.Unlock()
	if t, ok := db.txns[id]; ok {
		return cloneTxn(t)
	}
	return nil
}

// TransactionsOf returns the order's transactions, oldest first.
func (db *MockDB) TransactionsOf(orderID string) []*domain.PaymentTransaction {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.transactionsOfLocked(orderID)
}

func (db *MockDB) transactionsOfLocked(orderID string) []*domain.PaymentTransaction {
	var out []*domain.PaymentTransaction
	for _, t := range db.txns {
		if t.OrderID == orderID {
			out = append(out, cloneTxn(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stock returns the units left for ref.
func (db *MockDB) Stock(ref domain.ItemRef) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	if c, ok := db.catalog[ref]; ok {
		return c.Stock
	}
	return -1
}

// PromoUsage returns the usage counter of a promo code.
func (db *MockDB) PromoUsage(code string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	if p, ok := db.promos[code]; ok {
		return p.UsageCount
	}
	return -1
}

// CountOrders returns the number of stored orders.
func (db *MockDB) CountOrders() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.orders)
}

// CountTransactions returns the number of stored transactions.
func (db *MockDB) CountTransactions() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.txns)
}

// ──────────────────────────────────────────────
// MOCK ORDER REPOSITORY
// ──────────────────────────────────────────────

// MockOrderRepository is a mock implementation of OrderRepository.
type MockOrderRepository struct {
	db *MockDB
}

func (m *MockOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	atomic.AddInt32(&m.db.CreateOrderCalls, 1)

	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	if m.db.FailOrderCreates > 0 {
		m.db.FailOrderCreates--
		return repository.ErrDuplicateOrderNumber
	}
	for _, o := range m.db.orders {
		if o.OrderNumber == order.OrderNumber {
			return repository.ErrDuplicateOrderNumber
		}
	}
	m.db.orders[order.ID] = cloneOrder(order)
	return nil
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if o := m.db.Order(id); o != nil {
		return o, nil
	}
	return nil, repository.ErrNotFound
}

func (m *MockOrderRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return m.GetByID(ctx, id)
}

func (m *MockOrderRepository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return m.find(func(o *domain.Order) bool { return o.OrderNumber == number })
}

func (m *MockOrderRepository) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*domain.Order, error) {
	return m.find(func(o *domain.Order) bool { return o.TrackingNumber != "" && o.TrackingNumber == trackingNumber })
}

func (m *MockOrderRepository) find(match func(*domain.Order) bool) (*domain.Order, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, o := range m.db.orders {
		if match(o) {
			return cloneOrder(o), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MockOrderRepository) UpdateState(ctx context.Context, order *domain.Order) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	stored, ok := m.db.orders[order.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.Status = order.Status
	stored.PaymentStatus = order.PaymentStatus
	stored.TrackingNumber = order.TrackingNumber
	stored.ReviewRequired = order.ReviewRequired
	stored.ReviewReason = order.ReviewReason
	stored.CancelReason = order.CancelReason
	stored.UpdatedAt = order.UpdatedAt
	stored.ConfirmedAt = order.ConfirmedAt
	stored.CancelledAt = order.CancelledAt
	return nil
}

func (m *MockOrderRepository) ListForReview(ctx context.Context, limit int) ([]*domain.Order, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	var out []*domain.Order
	for _, o := range m.db.orders {
		if o.ReviewRequired {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ──────────────────────────────────────────────
// MOCK TRANSACTION REPOSITORY
// ──────────────────────────────────────────────

// MockTransactionRepository is a mock implementation of TransactionRepository.
type MockTransactionRepository struct {
	db *MockDB
}

func (m *MockTransactionRepository) Create(ctx context.Context, txn *domain.PaymentTransaction) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.txns[txn.ID]; ok {
		return fmt.Errorf("transaction %s exists", txn.ID)
	}
	m.db.txns[txn.ID] = cloneTxn(txn)
	return nil
}

func (m *MockTransactionRepository) GetByID(ctx context.Context, id string) (*domain.PaymentTransaction, error) {
	if t := m.db.Transaction(id); t != nil {
		return t, nil
	}
	return nil, repository.ErrNotFound
}

func (m *MockTransactionRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.PaymentTransaction, error) {
	return m.GetByID(ctx, id)
}

func (m *MockTransactionRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.PaymentTransaction, error) {
	call := atomic.AddInt32(&m.db.CheckoutLookupCalls, 1)
	if hook := m.db.BeforeCheckoutLookup; hook != nil {
		hook(call)
	}

	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, t := range m.db.txns {
		if t.CheckoutRequestID != "" && t.CheckoutRequestID == checkoutRequestID {
			return cloneTxn(t), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MockTransactionRepository) ListByOrderID(ctx context.Context, orderID string) ([]*domain.PaymentTransaction, error) {
	return m.db.TransactionsOf(orderID), nil
}

func (m *MockTransactionRepository) HasCompleted(ctx context.Context, orderID string) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, t := range m.db.txns {
		if t.OrderID == orderID && t.Status == domain.TransactionCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockTransactionRepository) SetCorrelation(ctx context.Context, id, merchantRequestID, checkoutRequestID string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	t, ok := m.db.txns[id]
	if !ok || t.Status != domain.TransactionInitiated {
		return repository.ErrStaleState
	}
	t.MerchantRequestID = merchantRequestID
	t.CheckoutRequestID = checkoutRequestID
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MockTransactionRepository) Transition(ctx context.Context, txn *domain.PaymentTransaction, from domain.TransactionStatus) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	stored, ok := m.db.txns[txn.ID]
	if !ok || stored.Status != from {
		return repository.ErrStaleState
	}
	if txn.Status == domain.TransactionCompleted {
		for _, t := range m.db.txns {
			if t.OrderID == stored.OrderID && t.ID != stored.ID && t.Status == domain.TransactionCompleted {
				return repository.ErrAlreadyCompleted
			}
		}
	}

	stored.Status = txn.Status
	stored.ResultCode = txn.ResultCode
	stored.ResultDescription = txn.ResultDescription
	stored.ReceiptNumber = txn.ReceiptNumber
	stored.UpdatedAt = txn.UpdatedAt
	stored.CompletedAt = txn.CompletedAt
	return nil
}

func (m *MockTransactionRepository) ListStaleInitiated(ctx context.Context, before time.Time, limit int) ([]*domain.PaymentTransaction, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	var out []*domain.PaymentTransaction
	for _, t := range m.db.txns {
		if t.Status == domain.TransactionInitiated && t.CreatedAt.Before(before) {
			out = append(out, cloneTxn(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ──────────────────────────────────────────────
// MOCK CATALOG, PROMO AND DELIVERY REPOSITORIES
// ──────────────────────────────────────────────

// MockCatalogRepository is a mock implementation of CatalogRepository.
type MockCatalogRepository struct {
	db *MockDB
}

func (m *MockCatalogRepository) Lookup(ctx context.Context, refs []domain.ItemRef) (map[domain.ItemRef]*domain.CatalogItem, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	out := make(map[domain.ItemRef]*domain.CatalogItem, len(refs))
	for _, ref := range refs {
		if c, ok := m.db.catalog[ref]; ok {
			cp := *c
			out[ref] = &cp
		}
	}
	return out, nil
}

func (m *MockCatalogRepository) DecrementStock(ctx context.Context, ref domain.ItemRef, qty int) error {
	atomic.AddInt32(&m.db.DecrementStockCalls, 1)

	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	c, ok := m.db.catalog[ref]
	if !ok || c.Stock < qty {
		return repository.ErrInsufficientStock
	}
	c.Stock -= qty
	return nil
}

// MockPromoRepository is a mock implementation of PromoRepository.
type MockPromoRepository struct {
	db *MockDB
}

func (m *MockPromoRepository) GetByCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if p, ok := m.db.promos[code]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (m *MockPromoRepository) IncrementUsage(ctx context.Context, code string) (bool, error) {
	atomic.AddInt32(&m.db.IncrementUsageCalls, 1)

	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	p, ok := m.db.promos[code]
	if !ok {
		return false, nil
	}
	if p.UsageLimit > 0 && p.UsageCount >= p.UsageLimit {
		return false, nil
	}
	p.UsageCount++
	return true, nil
}

// MockDeliveryTierRepository is a mock implementation of DeliveryTierRepository.
type MockDeliveryTierRepository struct {
	db *MockDB
}

func (m *MockDeliveryTierRepository) GetByLocation(ctx context.Context, locationID string) (*domain.DeliveryTier, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if t, ok := m.db.tiers[locationID]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (m *MockDeliveryTierRepository) List(ctx context.Context) ([]*domain.DeliveryTier, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	out := make([]*domain.DeliveryTier, 0, len(m.db.tiers))
	for _, t := range m.db.tiers {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier == out[j].Tier {
			return out[i].Label < out[j].Label
		}
		return out[i].Tier < out[j].Tier
	})
	return out, nil
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is a mock implementation of LockStoreInterface.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[string]string

	AcquireCalls int32
	// AcquireError simulates Redis being unreachable.
	AcquireError error
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{locks: make(map[string]string)}
}

func (m *MockLockStore) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	atomic.AddInt32(&m.AcquireCalls, 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AcquireError != nil {
		return "", false, m.AcquireError
	}
	if _, held := m.locks[key]; held {
		return "", false, nil
	}
	token := uuid.New().String()
	m.locks[key] = token
	return token, true, nil
}

func (m *MockLockStore) Release(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locks[key] != token {
		return redis.ErrLockNotHeld
	}
	delete(m.locks, key)
	return nil
}

// Hold takes key on behalf of another process and returns its token.
func (m *MockLockStore) Hold(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := uuid.New().String()
	m.locks[key] = token
	return token
}

// IsHeld reports whether key is locked.
func (m *MockLockStore) IsHeld(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.locks[key]
	return held
}

// ──────────────────────────────────────────────
// MOCK CACHE STORE
// ──────────────────────────────────────────────

// MockCacheStore is a mock implementation of CacheStoreInterface. TTLs are ignored.
type MockCacheStore struct {
	mu    sync.Mutex
	items map[string][]byte

	InvalidateCalls int32
	// BeforeSet runs ahead of every SetJSON, outside the lock.
	BeforeSet func(key string)
}

// NewMockCacheStore creates a new mock cache store.
func NewMockCacheStore() *MockCacheStore {
	return &MockCacheStore{items: make(map[string][]byte)}
}

func (m *MockCacheStore) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	data, ok := m.items[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dst)
}

func (m *MockCacheStore) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if m.BeforeSet != nil {
		m.BeforeSet(key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = data
	return nil
}

func (m *MockCacheStore) SetJSONIfAbsent(ctx context.Context, key string, v any, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[key]; ok {
		return false, nil
	}
	m.items[key] = data
	return true, nil
}

func (m *MockCacheStore) Invalidate(ctx context.Context, keys ...string) error {
	atomic.AddInt32(&m.InvalidateCalls, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

// Has reports whether key is cached.
func (m *MockCacheStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[key]
	return ok
}

// ──────────────────────────────────────────────
// MOCK PAYMENT GATEWAY
// ──────────────────────────────────────────────

// MockGateway is a mock implementation of service.Gateway.
type MockGateway struct {
	mu      sync.Mutex
	seq     int
	pushes  []mpesa.STKPushParams
	results map[string]*mpesa.STKQueryResponse

	PushCalls  int32
	QueryCalls int32

	// PushError is returned by InitiateSTKPush when set.
	PushError error
	// PushResponseCode overrides the acknowledgement code; empty means accepted.
	PushResponseCode string
	// QueryError is returned by QuerySTKStatus when set.
	QueryError error
	// QueryDelay is slept before answering a status query.
	QueryDelay time.Duration
}

// NewMockGateway creates a new mock gateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{results: make(map[string]*mpesa.STKQueryResponse)}
}

var _ service.Gateway = (*MockGateway)(nil)

func (m *MockGateway) InitiateSTKPush(ctx context.Context, p mpesa.STKPushParams) (*mpesa.STKPushResponse, error) {
	atomic.AddInt32(&m.PushCalls, 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PushError != nil {
		return nil, m.PushError
	}
	m.seq++
	m.pushes = append(m.pushes, p)

	code := m.PushResponseCode
	if code == "" {
		code = mpesa.ResultSuccess
	}
	return &mpesa.STKPushResponse{
		MerchantRequestID:   fmt.Sprintf("mr-%d", m.seq),
		CheckoutRequestID:   fmt.Sprintf("ws_CO_TEST_%d", m.seq),
		ResponseCode:        mpesa.Code(code),
		ResponseDescription: "Success. Request accepted for processing",
	}, nil
}

func (m *MockGateway) QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*mpesa.STKQueryResponse, error) {
	atomic.AddInt32(&m.QueryCalls, 1)
	if m.QueryDelay > 0 {
		time.Sleep(m.QueryDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.QueryError != nil {
		return nil, m.QueryError
	}
	if r, ok := m.results[checkoutRequestID]; ok {
		cp := *r
		return &cp, nil
	}
	return &mpesa.STKQueryResponse{
		ResponseCode:      mpesa.ResultSuccess,
		CheckoutRequestID: checkoutRequestID,
		ResultCode:        mpesa.ResultProcessing,
		ResultDesc:        "The transaction is being processed",
	}, nil
}

// SetQueryResult fixes the status query answer for a checkout request.
func (m *MockGateway) SetQueryResult(checkoutRequestID, code, desc string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[checkoutRequestID] = &mpesa.STKQueryResponse{
		ResponseCode:      mpesa.ResultSuccess,
		CheckoutRequestID: checkoutRequestID,
		ResultCode:        mpesa.Code(code),
		ResultDesc:        desc,
	}
}

// Pushes returns the push requests received so far.
func (m *MockGateway) Pushes() []mpesa.STKPushParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mpesa.STKPushParams(nil), m.pushes...)
}

// ──────────────────────────────────────────────
// MOCK NOTIFIER
// ──────────────────────────────────────────────

// MockNotifier records notifications.
type MockNotifier struct {
	mu   sync.Mutex
	sent []service.Notification

	// Err is returned from Send when set.
	Err error
	// Panic makes Send panic.
	Panic bool
}

var _ service.Notifier = (*MockNotifier)(nil)

func (m *MockNotifier) Send(ctx context.Context, n service.Notification) error {
	m.mu.Lock()
	m.sent = append(m.sent, n)
	m.mu.Unlock()

	if m.Panic {
		panic("notifier exploded")
	}
	return m.Err
}

// Sent returns the notifications received so far.
func (m *MockNotifier) Sent() []service.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]service.Notification(nil), m.sent...)
}

// CountOf returns how many notifications of type t were received.
func (m *MockNotifier) CountOf(t service.NotificationType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.Type == t {
			n++
		}
	}
	return n
}
