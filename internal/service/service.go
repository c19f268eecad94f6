package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"says/backend/internal/commission"
	"says/backend/internal/domain"
	"says/backend/internal/store"
	"says/backend/internal/validate"
	"says/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo       store.Repository
	commission *commission.Engine
}

func New(repo store.Repository, engine *commission.Engine) *Service {
	if engine == nil {
		engine = commission.NewEngine(nil, 0)
	}

	return &Service{
		repo:       repo,
		commission: engine,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Unit = strings.TrimSpace(req.Unit)
	if err := validate.Struct(req); err != nil {
		return domain.Product{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	product := domain.Product{
		ID:         xid.New("prod"),
		Name:       req.Name,
		PriceCents: req.PriceCents,
		Unit:       req.Unit,
		Stock:      req.Stock,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%d,stock=%d", created.Name, created.PriceCents, created.Stock))
	return *created, nil
}

func (s *Service) RestockProduct(ctx context.Context, req domain.RestockRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}
	if err := validate.Struct(req); err != nil {
		return domain.Product{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	updated, err := s.repo.RestockProduct(ctx, req.ProductID, req.Qty)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_restock", "product", updated.ID, fmt.Sprintf("qty=%d,stock=%d", req.Qty, updated.Stock))
	return *updated, nil
}

// LoadStock moves central stock onto a salesperson's van. Admins may load any
// van; a salesperson may only load their own.
func (s *Service) LoadStock(ctx context.Context, req domain.LoadStockRequest) (domain.VanInventory, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.VanInventory{}, fmt.Errorf("authentication required")
	}

	req.SalesID = strings.TrimSpace(req.SalesID)
	if req.SalesID == "" {
		req.SalesID = actor.ID
	}
	if actor.Role != domain.RoleAdmin && req.SalesID != actor.ID {
		return domain.VanInventory{}, fmt.Errorf("cannot load another salesperson's van")
	}
	if err := validate.Struct(req); err != nil {
		return domain.VanInventory{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	van, err := s.repo.LoadVanStock(ctx, req.SalesID, req.Items)
	if err != nil {
		return domain.VanInventory{}, err
	}

	s.logAudit(ctx, "stock_load", "van", req.SalesID, fmt.Sprintf("lines=%d,revision=%d", len(req.Items), van.Revision))
	return *van, nil
}

func (s *Service) GetVanInventory(ctx context.Context, salesID string) (domain.VanInventory, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.VanInventory{}, fmt.Errorf("authentication required")
	}

	salesID = strings.TrimSpace(salesID)
	if salesID == "" {
		salesID = actor.ID
	}
	if actor.Role != domain.RoleAdmin && salesID != actor.ID {
		return domain.VanInventory{}, fmt.Errorf("cannot view another salesperson's van")
	}

	van, err := s.repo.GetVanInventory(ctx, salesID)
	if err != nil {
		return domain.VanInventory{}, err
	}
	return *van, nil
}

// SubmitSale records a field sale against the acting salesperson's van. Sold
// lines and exchange lines draw from the same van and are validated together
// before anything moves; a credit sale raises the customer's outstanding
// balance by the full total.
func (s *Service) SubmitSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SaleResponse{}, fmt.Errorf("authentication required")
	}
	if err := validate.Struct(req); err != nil {
		return domain.SaleResponse{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	productIDs := make([]string, 0, len(req.Items)+len(req.ExchangeItems))
	for _, line := range req.Items {
		productIDs = append(productIDs, line.ProductID)
	}
	for _, line := range req.ExchangeItems {
		productIDs = append(productIDs, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	subtotal := int64(0)
	items := make([]domain.SaleLine, 0, len(req.Items))
	for _, line := range req.Items {
		product, exists := products[line.ProductID]
		if !exists {
			return domain.SaleResponse{}, fmt.Errorf("%w: unknown product %s", store.ErrValidation, line.ProductID)
		}
		if line.UnitPriceCents == 0 {
			line.UnitPriceCents = product.PriceCents
		}
		if line.ProductName == "" {
			line.ProductName = product.Name
		}
		if line.Unit == "" {
			line.Unit = product.Unit
		}
		subtotal += int64(line.Qty) * line.UnitPriceCents
		items = append(items, line)
	}
	for _, line := range req.ExchangeItems {
		if _, exists := products[line.ProductID]; !exists {
			return domain.SaleResponse{}, fmt.Errorf("%w: unknown product %s", store.ErrValidation, line.ProductID)
		}
	}

	total := subtotal - req.Payment.ReturnCents - req.Payment.ExchangeCents - req.Payment.FOCCents
	if total < 0 {
		total = 0
	}

	now := time.Now().UTC()
	tx := domain.Transaction{
		SalesID:       actor.ID,
		SalesName:     actor.Name,
		Branch:        actor.Branch,
		Customer:      req.Customer,
		Items:         items,
		ExchangeItems: req.ExchangeItems,
		Payment:       req.Payment,
		SubtotalCents: subtotal,
		TotalCents:    total,
		Status:        domain.TxStatusCompleted,
		CheckInTime:   req.CheckInTime,
		CreatedAt:     now,
	}

	created, van, err := s.repo.CreateSale(ctx, tx)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.logAudit(ctx, "sale_submit", "transaction", created.ID, fmt.Sprintf("total=%d,method=%s,exchanges=%d", created.TotalCents, created.Payment.Method, len(created.ExchangeItems)))

	return domain.SaleResponse{
		ID:           created.ID,
		TotalCents:   created.TotalCents,
		Status:       created.Status,
		VanRemaining: van.Items,
	}, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	tx, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

// ListTransactions returns the admin view of every transaction, or the acting
// salesperson's own when called by a sales role.
func (s *Service) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	if actor.Role == domain.RoleAdmin {
		return s.repo.ListTransactions(ctx)
	}
	return s.repo.ListTransactionsBySales(ctx, actor.ID)
}

func (s *Service) UpdateTransactionStatus(ctx context.Context, id string, req domain.TransactionStatusUpdate) (domain.Transaction, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Transaction{}, fmt.Errorf("admin role required")
	}
	if err := validate.Struct(req); err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	updated, err := s.repo.UpdateTransactionStatus(ctx, id, req.Status, req.AssignedShopID, time.Now().UTC())
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "transaction_status", "transaction", updated.ID, fmt.Sprintf("status=%s", updated.Status))
	return *updated, nil
}

// CreateSettlement closes out a salesperson's day. One settlement per
// salesperson per date; the store enforces the uniqueness so two concurrent
// submissions cannot both land.
func (s *Service) CreateSettlement(ctx context.Context, req domain.SettlementRequest) (domain.Settlement, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Settlement{}, fmt.Errorf("authentication required")
	}

	salesID := strings.TrimSpace(req.SalesID)
	salesName := ""
	if salesID == "" || salesID == actor.ID {
		salesID = actor.ID
		salesName = actor.Name
	} else if actor.Role != domain.RoleAdmin {
		return domain.Settlement{}, fmt.Errorf("cannot settle another salesperson's day")
	}
	if salesName == "" {
		if user := s.findUserByID(ctx, salesID); user != nil {
			salesName = user.Name
		}
	}

	date := strings.TrimSpace(req.Date)
	if date == "" {
		date = domain.SettlementDate(time.Now().UTC())
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		return domain.Settlement{}, fmt.Errorf("%w: bad date %q", store.ErrValidation, req.Date)
	}

	settlement, err := s.repo.CreateSettlement(ctx, salesID, salesName, date, time.Now().UTC())
	if err != nil {
		return domain.Settlement{}, err
	}

	s.logAudit(ctx, "settlement_create", "settlement", settlement.ID, fmt.Sprintf("date=%s,total=%d", settlement.Date, settlement.TotalSalesCents))
	return *settlement, nil
}

func (s *Service) VerifySettlement(ctx context.Context, id string, req domain.VerifySettlementRequest) (domain.Settlement, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Settlement{}, fmt.Errorf("admin role required")
	}

	verifiedBy := strings.TrimSpace(req.VerifiedBy)
	if verifiedBy == "" {
		verifiedBy = actor.Name
	}

	settlement, err := s.repo.VerifySettlement(ctx, id, verifiedBy, time.Now().UTC())
	if err != nil {
		return domain.Settlement{}, err
	}

	s.logAudit(ctx, "settlement_verify", "settlement", settlement.ID, fmt.Sprintf("verified_by=%s", verifiedBy))
	return *settlement, nil
}

func (s *Service) ListSettlements(ctx context.Context, date string) ([]domain.Settlement, error) {
	date = strings.TrimSpace(date)
	if date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return nil, fmt.Errorf("%w: bad date %q", store.ErrValidation, date)
		}
	}
	return s.repo.ListSettlements(ctx, date)
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return domain.Customer{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	customer := domain.Customer{
		ID:              xid.New("cust"),
		Name:            req.Name,
		Address:         strings.TrimSpace(req.Address),
		AssignedSalesID: strings.TrimSpace(req.AssignedSalesID),
	}

	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

// RecordStockAudit stores a physical shelf count taken during a customer
// visit. Older clients still post the counts map; it is folded into the items
// shape here and nowhere else.
func (s *Service) RecordStockAudit(ctx context.Context, req domain.StockAuditRequest) (domain.StockAudit, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.StockAudit{}, fmt.Errorf("authentication required")
	}
	if err := validate.Struct(req); err != nil {
		return domain.StockAudit{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	items := req.Items
	if len(items) == 0 && len(req.Counts) > 0 {
		items = auditItemsFromCounts(ctx, s.repo, req.Counts)
	}
	if len(items) == 0 {
		return domain.StockAudit{}, fmt.Errorf("%w: no audit items", store.ErrValidation)
	}
	for _, item := range items {
		if item.ProductID == "" || item.PhysicalStock < 0 {
			return domain.StockAudit{}, fmt.Errorf("%w: bad audit item", store.ErrValidation)
		}
	}

	audit := domain.StockAudit{
		ID:         xid.New("audit"),
		CustomerID: req.CustomerID,
		SalesID:    actor.ID,
		Items:      items,
		CreatedAt:  time.Now().UTC(),
	}

	created, err := s.repo.CreateStockAudit(ctx, audit)
	if err != nil {
		return domain.StockAudit{}, err
	}

	s.logAudit(ctx, "stock_audit", "stock_audit", created.ID, fmt.Sprintf("customer=%s,items=%d", created.CustomerID, len(created.Items)))
	return *created, nil
}

func (s *Service) ListStockAudits(ctx context.Context) ([]domain.StockAudit, error) {
	return s.repo.ListStockAudits(ctx)
}

// auditItemsFromCounts adapts the legacy counts map, keyed by product id with
// bare quantities, into full audit items. Product names are resolved
// best-effort; an unknown id keeps an empty name rather than failing the
// audit.
func auditItemsFromCounts(ctx context.Context, repo store.Repository, counts map[string]int) []domain.StockAuditItem {
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	products, err := repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		products = map[string]domain.Product{}
	}

	items := make([]domain.StockAuditItem, 0, len(counts))
	for id, qty := range counts {
		item := domain.StockAuditItem{ProductID: id, PhysicalStock: qty}
		if product, exists := products[id]; exists {
			item.ProductName = product.Name
		}
		items = append(items, item)
	}
	return items
}

func (s *Service) CommissionSummaries(ctx context.Context) ([]domain.CommissionSummary, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	transactions, err := s.repo.ListTransactions(ctx)
	if err != nil {
		return nil, err
	}
	payouts, err := s.repo.ListPayouts(ctx)
	if err != nil {
		return nil, err
	}

	return s.commission.Summaries(ctx, users, transactions, payouts), nil
}

func (s *Service) RecordPayout(ctx context.Context, req domain.PayoutRequest) (domain.CommissionPayout, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.CommissionPayout{}, fmt.Errorf("admin role required")
	}
	if err := validate.Struct(req); err != nil {
		return domain.CommissionPayout{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	payout := domain.CommissionPayout{
		ID:     xid.New("payout"),
		UserID: req.UserID,
		Cents:  req.Cents,
		PaidAt: time.Now().UTC(),
		PaidBy: actor.Name,
	}
	if user := s.findUserByID(ctx, req.UserID); user != nil {
		payout.UserName = user.Name
	}

	created, err := s.repo.CreatePayout(ctx, payout)
	if err != nil {
		return domain.CommissionPayout{}, err
	}

	s.logAudit(ctx, "payout_record", "payout", created.ID, fmt.Sprintf("user=%s,cents=%d", created.UserID, created.Cents))
	return *created, nil
}

func (s *Service) ListPayouts(ctx context.Context) ([]domain.CommissionPayout, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}
	return s.repo.ListPayouts(ctx)
}

func (s *Service) UpdateCommissionRate(ctx context.Context, userID string, req domain.CommissionRateUpdate) (domain.User, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.User{}, fmt.Errorf("admin role required")
	}
	if err := validate.Struct(req); err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	updated, err := s.repo.UpdateCommissionRate(ctx, userID, req.Rate)
	if err != nil {
		return domain.User{}, err
	}

	s.logAudit(ctx, "commission_rate", "user", updated.ID, fmt.Sprintf("rate=%.4f", req.Rate))
	return *updated, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: bad date %q", store.ErrValidation, date)
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) findUserByID(ctx context.Context, userID string) *domain.User {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil
	}
	for i := range users {
		if users[i].ID == userID {
			return &users[i]
		}
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{ID: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("log"),
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

// IsStockShortage reports whether err is any stock-sufficiency rejection,
// central or van.
func IsStockShortage(err error) bool {
	return errors.Is(err, store.ErrInsufficientStock)
}
