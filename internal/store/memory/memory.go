package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"says/backend/internal/domain"
	"says/backend/internal/store"
	"says/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	vansBySales      map[string]*domain.VanInventory
	transactionsByID map[string]*domain.Transaction
	settlementsByID  map[string]domain.Settlement
	settlementByDay  map[string]string
	customersByID    map[string]domain.Customer
	auditsByID       map[string]domain.StockAudit
	payoutsByID      map[string]domain.CommissionPayout
	usersByUsername  map[string]domain.User
	auditLogs        []domain.AuditLog
}

// seedUsers builds the initial accounts for dev/demo mode. Credentials are
// read from SEED_ADMIN_PASSWORD and SEED_SALES_PASSWORD; hardcoded dev
// defaults are used with a warning when unset. Production deployments run
// against Postgres and never touch these.
func seedUsers() map[string]domain.User {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	salesPwd := envOr("SEED_SALES_PASSWORD", "sales123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SALES_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_SALES_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.User{}
	for _, u := range []struct {
		id       string
		username string
		password string
		name     string
		role     string
		branch   string
	}{
		{"user-admin", "admin", adminPwd, "Head Office", domain.RoleAdmin, ""},
		{"user-sales-1", "azlan", salesPwd, "Azlan Rahim", domain.RoleSales, "Sandakan"},
		{"user-sales-2", "mei", salesPwd, "Mei Ling", domain.RoleSales, "Kinabatangan"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.User{
			ID:        u.id,
			Username:  u.username,
			Password:  string(hash),
			Name:      u.name,
			Role:      u.role,
			Branch:    u.branch,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	products := []domain.Product{
		{ID: "prod-kicap-01", Name: "Kicap Manis 330ml", PriceCents: 450, Unit: "bottle", Stock: 500},
		{ID: "prod-kicap-02", Name: "Kicap Masin 330ml", PriceCents: 430, Unit: "bottle", Stock: 500},
		{ID: "prod-sos-01", Name: "Sos Cili 340g", PriceCents: 520, Unit: "bottle", Stock: 400},
		{ID: "prod-sos-02", Name: "Sos Tomato 340g", PriceCents: 520, Unit: "bottle", Stock: 400},
		{ID: "prod-cuka-01", Name: "Cuka Makan 630ml", PriceCents: 380, Unit: "bottle", Stock: 250},
		{ID: "prod-oyster-01", Name: "Sos Tiram 510g", PriceCents: 890, Unit: "bottle", Stock: 200},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}

	customers := []domain.Customer{
		{ID: "cust-kedai-01", Name: "Kedai Runcit Seri Wangi", Address: "Jalan Utara, Sandakan"},
		{ID: "cust-kedai-02", Name: "Pasar Mini Mewah", Address: "Batu 4, Labuk Road"},
	}
	customerMap := make(map[string]domain.Customer, len(customers))
	for _, c := range customers {
		customerMap[c.ID] = c
	}

	return &Store{
		products:         productMap,
		vansBySales:      make(map[string]*domain.VanInventory),
		transactionsByID: make(map[string]*domain.Transaction),
		settlementsByID:  make(map[string]domain.Settlement),
		settlementByDay:  make(map[string]string),
		customersByID:    customerMap,
		auditsByID:       make(map[string]domain.StockAudit),
		payoutsByID:      make(map[string]domain.CommissionPayout),
		usersByUsername:  seedUsers(),
		auditLogs:        make([]domain.AuditLog, 0, 128),
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.PriceCents < 1 || product.Stock < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrValidation
	}
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) RestockProduct(_ context.Context, productID string, qty int) (*domain.Product, error) {
	if qty < 1 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.Stock += qty
	s.products[productID] = product
	updated := product
	return &updated, nil
}

func (s *Store) LoadVanStock(_ context.Context, salesID string, items []domain.LoadItem) (*domain.VanInventory, error) {
	if strings.TrimSpace(salesID) == "" || len(items) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every line against central stock before touching anything.
	for _, item := range items {
		if item.Qty < 1 {
			return nil, store.ErrValidation
		}
		product, exists := s.products[item.ProductID]
		if !exists {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		if product.Stock < item.Qty {
			return nil, &store.InsufficientStockError{
				Pool:      store.PoolCentral,
				ProductID: item.ProductID,
				Available: product.Stock,
				Requested: item.Qty,
			}
		}
	}

	van := s.vansBySales[salesID]
	if van == nil {
		van = &domain.VanInventory{SalesID: salesID, Items: make(map[string]int)}
		s.vansBySales[salesID] = van
	}

	for _, item := range items {
		product := s.products[item.ProductID]
		product.Stock -= item.Qty
		s.products[item.ProductID] = product
		van.Items[item.ProductID] += item.Qty
	}
	van.Revision++
	van.LastUpdated = time.Now().UTC()

	snapshot := cloneVan(van)
	return snapshot, nil
}

func (s *Store) GetVanInventory(_ context.Context, salesID string) (*domain.VanInventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	van, ok := s.vansBySales[salesID]
	if !ok {
		return &domain.VanInventory{SalesID: salesID, Items: map[string]int{}}, nil
	}
	return cloneVan(van), nil
}

func (s *Store) CreateSale(_ context.Context, tx domain.Transaction) (*domain.Transaction, *domain.VanInventory, error) {
	if tx.SalesID == "" || len(tx.Items) == 0 {
		return nil, nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	van, ok := s.vansBySales[tx.SalesID]
	if !ok {
		return nil, nil, store.ErrNoVanInventory
	}

	// Combined demand: sold lines plus exchange lines draw from the same van.
	demand := make(map[string]int, len(tx.Items)+len(tx.ExchangeItems))
	for _, line := range tx.Items {
		if line.Qty < 1 {
			return nil, nil, store.ErrValidation
		}
		demand[line.ProductID] += line.Qty
	}
	for _, line := range tx.ExchangeItems {
		if line.Qty < 1 {
			return nil, nil, store.ErrValidation
		}
		demand[line.ProductID] += line.Qty
	}

	for productID, qty := range demand {
		available := van.Items[productID]
		if available < qty {
			return nil, nil, &store.InsufficientStockError{
				Pool:      store.PoolVan,
				ProductID: productID,
				Available: available,
				Requested: qty,
			}
		}
	}

	now := time.Now().UTC()
	for productID, qty := range demand {
		van.Items[productID] -= qty
	}
	van.Revision++
	van.LastUpdated = now

	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	if tx.Status == "" {
		tx.Status = domain.TxStatusCompleted
	}

	if tx.Payment.Method == domain.PaymentCredit && tx.Customer != nil {
		if customer, exists := s.customersByID[tx.Customer.ID]; exists {
			customer.OutstandingCents += tx.TotalCents
			s.customersByID[tx.Customer.ID] = customer
		}
	}

	txCopy := cloneTransaction(&tx)
	s.transactionsByID[tx.ID] = txCopy

	return cloneTransaction(txCopy), cloneVan(van), nil
}

func (s *Store) FindTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) ListTransactions(_ context.Context) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, len(s.transactionsByID))
	for _, tx := range s.transactionsByID {
		result = append(result, *cloneTransaction(tx))
	}
	sortTransactionsNewestFirst(result)
	return result, nil
}

func (s *Store) ListTransactionsBySales(_ context.Context, salesID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, 16)
	for _, tx := range s.transactionsByID {
		if tx.SalesID != salesID {
			continue
		}
		result = append(result, *cloneTransaction(tx))
	}
	sortTransactionsNewestFirst(result)
	return result, nil
}

func (s *Store) UpdateTransactionStatus(_ context.Context, id string, status string, assignedShopID *string, at time.Time) (*domain.Transaction, error) {
	if !domain.IsValidStatus(status) {
		return nil, store.ErrValidation
	}
	// A transaction never moves back to Pending.
	if status == domain.TxStatusPending {
		return nil, store.ErrInvalidTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if domain.IsTerminalStatus(tx.Status) {
		return nil, store.ErrInvalidTransition
	}

	tx.Status = status
	if assignedShopID != nil {
		tx.AssignedShopID = *assignedShopID
	}
	tx.UpdatedAt = at

	return cloneTransaction(tx), nil
}

func (s *Store) CreateSettlement(_ context.Context, salesID string, salesName string, date string, at time.Time) (*domain.Settlement, error) {
	if salesID == "" || date == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dayKey := settlementKey(salesID, date)
	if _, exists := s.settlementByDay[dayKey]; exists {
		return nil, store.ErrAlreadySettled
	}

	settlement := domain.Settlement{
		ID:        xid.New("stl"),
		SalesID:   salesID,
		SalesName: salesName,
		Date:      date,
		Status:    domain.SettlementPending,
		CreatedAt: at,
	}

	for _, tx := range s.transactionsByID {
		if tx.SalesID != salesID || tx.EffectiveDay() != date {
			continue
		}
		settlement.TotalSalesCents += tx.TotalCents
		switch tx.Payment.Method {
		case domain.PaymentCash:
			settlement.TotalCashCents += tx.TotalCents
		case domain.PaymentCredit, domain.PaymentTransfer:
			settlement.TotalCreditCents += tx.TotalCents
		}
	}

	if van, ok := s.vansBySales[salesID]; ok {
		lines := make([]domain.SettlementStockLine, 0, len(van.Items))
		for productID, qty := range van.Items {
			lines = append(lines, domain.SettlementStockLine{ProductID: productID, Qty: qty})
		}
		slices.SortFunc(lines, func(a, b domain.SettlementStockLine) int {
			return cmpString(a.ProductID, b.ProductID)
		})
		settlement.VanStock = lines
	}

	s.settlementsByID[settlement.ID] = settlement
	s.settlementByDay[dayKey] = settlement.ID

	created := cloneSettlement(settlement)
	return &created, nil
}

func (s *Store) VerifySettlement(_ context.Context, id string, verifiedBy string, at time.Time) (*domain.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settlement, ok := s.settlementsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if settlement.Status == domain.SettlementVerified {
		return nil, store.ErrAlreadyVerified
	}

	settlement.Status = domain.SettlementVerified
	settlement.VerifiedBy = verifiedBy
	settlement.VerifiedAt = &at
	s.settlementsByID[id] = settlement

	verified := cloneSettlement(settlement)
	return &verified, nil
}

func (s *Store) ListSettlements(_ context.Context, date string) ([]domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Settlement, 0, len(s.settlementsByID))
	for _, settlement := range s.settlementsByID {
		if date != "" && settlement.Date != date {
			continue
		}
		result = append(result, cloneSettlement(settlement))
	}
	slices.SortFunc(result, func(a, b domain.Settlement) int {
		if a.Date == b.Date {
			return cmpString(a.SalesName, b.SalesName)
		}
		return cmpString(b.Date, a.Date)
	})
	return result, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if _, exists := s.customersByID[customer.ID]; exists {
		return nil, store.ErrValidation
	}
	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := customer
	return &found, nil
}

func (s *Store) CreateStockAudit(_ context.Context, audit domain.StockAudit) (*domain.StockAudit, error) {
	if audit.CustomerID == "" || len(audit.Items) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if audit.ID == "" {
		audit.ID = xid.New("audit")
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}
	s.auditsByID[audit.ID] = cloneStockAudit(audit)
	created := cloneStockAudit(audit)
	return &created, nil
}

func (s *Store) ListStockAudits(_ context.Context) ([]domain.StockAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockAudit, 0, len(s.auditsByID))
	for _, audit := range s.auditsByID {
		result = append(result, cloneStockAudit(audit))
	}
	slices.SortFunc(result, func(a, b domain.StockAudit) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) CreatePayout(_ context.Context, payout domain.CommissionPayout) (*domain.CommissionPayout, error) {
	if payout.UserID == "" || payout.Cents < 1 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if payout.ID == "" {
		payout.ID = xid.New("payout")
	}
	if payout.PaidAt.IsZero() {
		payout.PaidAt = time.Now().UTC()
	}
	s.payoutsByID[payout.ID] = payout
	created := payout
	return &created, nil
}

func (s *Store) ListPayouts(_ context.Context) ([]domain.CommissionPayout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CommissionPayout, 0, len(s.payoutsByID))
	for _, payout := range s.payoutsByID {
		result = append(result, payout)
	}
	slices.SortFunc(result, func(a, b domain.CommissionPayout) int {
		if a.PaidAt.Equal(b.PaidAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.PaidAt.After(b.PaidAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := user
	return &found, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.User) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrValidation
	}
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) UpdateCommissionRate(_ context.Context, userID string, rate float64) (*domain.User, error) {
	if rate < 0 || rate > 1 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for username, user := range s.usersByUsername {
		if user.ID != userID {
			continue
		}
		user.CommissionRate = &rate
		s.usersByUsername[username] = user
		updated := user
		return &updated, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("log")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func settlementKey(salesID string, date string) string {
	return salesID + "|" + date
}

func sortTransactionsNewestFirst(txs []domain.Transaction) {
	slices.SortFunc(txs, func(a, b domain.Transaction) int {
		ta := effectiveTime(&a)
		tb := effectiveTime(&b)
		if ta.Equal(tb) {
			return cmpString(b.ID, a.ID)
		}
		if ta.After(tb) {
			return -1
		}
		return 1
	})
}

func effectiveTime(tx *domain.Transaction) time.Time {
	if !tx.CreatedAt.IsZero() {
		return tx.CreatedAt
	}
	if tx.CheckInTime != nil {
		return *tx.CheckInTime
	}
	return time.Time{}
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneVan(src *domain.VanInventory) *domain.VanInventory {
	if src == nil {
		return nil
	}
	dup := *src
	items := make(map[string]int, len(src.Items))
	for productID, qty := range src.Items {
		items[productID] = qty
	}
	dup.Items = items
	return &dup
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.SaleLine, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	exchanges := make([]domain.ExchangeItem, len(src.ExchangeItems))
	copy(exchanges, src.ExchangeItems)
	dup.ExchangeItems = exchanges
	if src.Customer != nil {
		customer := *src.Customer
		dup.Customer = &customer
	}
	return &dup
}

func cloneSettlement(src domain.Settlement) domain.Settlement {
	dup := src
	lines := make([]domain.SettlementStockLine, len(src.VanStock))
	copy(lines, src.VanStock)
	dup.VanStock = lines
	if src.VerifiedAt != nil {
		at := *src.VerifiedAt
		dup.VerifiedAt = &at
	}
	return dup
}

func cloneStockAudit(src domain.StockAudit) domain.StockAudit {
	dup := src
	items := make([]domain.StockAuditItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}
