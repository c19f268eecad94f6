package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"says/backend/internal/domain"
	"says/backend/internal/store"
	"says/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price_cents, unit, stock
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Unit, &p.Stock); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.PriceCents < 1 || product.Stock < 0 {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price_cents, unit, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now(),now())
	`, product.ID, product.Name, product.PriceCents, product.Unit, product.Stock)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if len(ids) == 0 {
		return map[string]domain.Product{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price_cents, unit, stock
		FROM products
		WHERE id = ANY($1)
	`, uniqueIDs(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Unit, &p.Stock); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) RestockProduct(ctx context.Context, productID string, qty int) (*domain.Product, error) {
	if qty < 1 {
		return nil, store.ErrValidation
	}

	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1
		RETURNING id, name, price_cents, unit, stock
	`, productID, qty).Scan(&product.ID, &product.Name, &product.PriceCents, &product.Unit, &product.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) LoadVanStock(ctx context.Context, salesID string, items []domain.LoadItem) (*domain.VanInventory, error) {
	if strings.TrimSpace(salesID) == "" || len(items) == 0 {
		return nil, store.ErrValidation
	}
	for _, item := range items {
		if item.Qty < 1 {
			return nil, store.ErrValidation
		}
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	// Lock every referenced product row, then validate before any decrement.
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	stockRows, err := pgTx.QueryContext(ctx, `
		SELECT id, stock
		FROM products
		WHERE id = ANY($1)
		FOR UPDATE
	`, uniqueIDs(ids))
	if err != nil {
		return nil, err
	}
	stockMap := make(map[string]int, len(ids))
	for stockRows.Next() {
		var id string
		var stock int
		if err := stockRows.Scan(&id, &stock); err != nil {
			_ = stockRows.Close()
			return nil, err
		}
		stockMap[id] = stock
	}
	if err := stockRows.Err(); err != nil {
		_ = stockRows.Close()
		return nil, err
	}
	_ = stockRows.Close()

	for _, item := range items {
		available, exists := stockMap[item.ProductID]
		if !exists {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		if available < item.Qty {
			return nil, &store.InsufficientStockError{
				Pool:      store.PoolCentral,
				ProductID: item.ProductID,
				Available: available,
				Requested: item.Qty,
			}
		}
	}

	van, err := lockVanForUpdate(ctx, pgTx, salesID, true)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $2, updated_at = now()
			WHERE id = $1
		`, item.ProductID, item.Qty); err != nil {
			return nil, err
		}
		van.Items[item.ProductID] += item.Qty
	}
	van.Revision++
	van.LastUpdated = time.Now().UTC()

	if err := saveVan(ctx, pgTx, van); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return van, nil
}

func (s *Store) GetVanInventory(ctx context.Context, salesID string) (*domain.VanInventory, error) {
	var van domain.VanInventory
	var itemsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT sales_id, items, revision, last_updated
		FROM van_inventories
		WHERE sales_id = $1
	`, salesID).Scan(&van.SalesID, &itemsJSON, &van.Revision, &van.LastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.VanInventory{SalesID: salesID, Items: map[string]int{}}, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &van.Items); err != nil {
		return nil, err
	}
	if van.Items == nil {
		van.Items = map[string]int{}
	}
	return &van, nil
}

func (s *Store) CreateSale(ctx context.Context, tx domain.Transaction) (*domain.Transaction, *domain.VanInventory, error) {
	if tx.SalesID == "" || len(tx.Items) == 0 {
		return nil, nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	van, err := lockVanForUpdate(ctx, pgTx, tx.SalesID, false)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, store.ErrNoVanInventory
		}
		return nil, nil, err
	}

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
	if err := saveVan(ctx, pgTx, van); err != nil {
		return nil, nil, err
	}

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

	itemsJSON, err := json.Marshal(tx.Items)
	if err != nil {
		return nil, nil, err
	}
	exchangesJSON, err := json.Marshal(tx.ExchangeItems)
	if err != nil {
		return nil, nil, err
	}
	paymentJSON, err := json.Marshal(tx.Payment)
	if err != nil {
		return nil, nil, err
	}
	var customerJSON any
	var customerID string
	if tx.Customer != nil {
		payload, err := json.Marshal(tx.Customer)
		if err != nil {
			return nil, nil, err
		}
		customerJSON = payload
		customerID = tx.Customer.ID
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, sales_id, sales_name, branch, customer, items, exchange_items, payment,
			subtotal_cents, total_cents, status, assigned_shop_id, check_in_time, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, tx.ID, tx.SalesID, tx.SalesName, nullIfEmpty(tx.Branch), customerJSON, itemsJSON, exchangesJSON, paymentJSON,
		tx.SubtotalCents, tx.TotalCents, tx.Status, nullIfEmpty(tx.AssignedShopID), nullTime(tx.CheckInTime), tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, store.ErrValidation
		}
		return nil, nil, err
	}

	if tx.Payment.Method == domain.PaymentCredit && customerID != "" {
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE customers
			SET outstanding_cents = outstanding_cents + $2, updated_at = now()
			WHERE id = $1
		`, customerID, tx.TotalCents); err != nil {
			return nil, nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}

	created := tx
	return &created, van, nil
}

func (s *Store) FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sales_id, sales_name, branch, customer, items, exchange_items, payment,
		       subtotal_cents, total_cents, status, assigned_shop_id, check_in_time, created_at, updated_at
		FROM transactions
		WHERE id = $1
	`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return s.listTransactions(ctx, `
		SELECT id, sales_id, sales_name, branch, customer, items, exchange_items, payment,
		       subtotal_cents, total_cents, status, assigned_shop_id, check_in_time, created_at, updated_at
		FROM transactions
		ORDER BY COALESCE(created_at, check_in_time) DESC, id DESC
	`)
}

func (s *Store) ListTransactionsBySales(ctx context.Context, salesID string) ([]domain.Transaction, error) {
	return s.listTransactions(ctx, `
		SELECT id, sales_id, sales_name, branch, customer, items, exchange_items, payment,
		       subtotal_cents, total_cents, status, assigned_shop_id, check_in_time, created_at, updated_at
		FROM transactions
		WHERE sales_id = $1
		ORDER BY COALESCE(created_at, check_in_time) DESC, id DESC
	`, salesID)
}

func (s *Store) listTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Transaction, 0, 64)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, id string, status string, assignedShopID *string, at time.Time) (*domain.Transaction, error) {
	if !domain.IsValidStatus(status) {
		return nil, store.ErrValidation
	}
	// A transaction never moves back to Pending.
	if status == domain.TxStatusPending {
		return nil, store.ErrInvalidTransition
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var current string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status FROM transactions WHERE id = $1 FOR UPDATE
	`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if domain.IsTerminalStatus(current) {
		return nil, store.ErrInvalidTransition
	}

	if assignedShopID != nil {
		_, err = pgTx.ExecContext(ctx, `
			UPDATE transactions
			SET status = $2, assigned_shop_id = $3, updated_at = $4
			WHERE id = $1
		`, id, status, nullIfEmpty(*assignedShopID), at)
	} else {
		_, err = pgTx.ExecContext(ctx, `
			UPDATE transactions
			SET status = $2, updated_at = $3
			WHERE id = $1
		`, id, status, at)
	}
	if err != nil {
		return nil, err
	}

	row := pgTx.QueryRowContext(ctx, `
		SELECT id, sales_id, sales_name, branch, customer, items, exchange_items, payment,
		       subtotal_cents, total_cents, status, assigned_shop_id, check_in_time, created_at, updated_at
		FROM transactions
		WHERE id = $1
	`, id)
	updated, err := scanTransaction(row)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) CreateSettlement(ctx context.Context, salesID string, salesName string, date string, at time.Time) (*domain.Settlement, error) {
	if salesID == "" || date == "" {
		return nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	settlement := domain.Settlement{
		ID:        xid.New("stl"),
		SalesID:   salesID,
		SalesName: salesName,
		Date:      date,
		Status:    domain.SettlementPending,
		CreatedAt: at,
	}

	rows, err := pgTx.QueryContext(ctx, `
		SELECT total_cents, payment
		FROM transactions
		WHERE sales_id = $1
		  AND to_char(COALESCE(created_at, check_in_time) AT TIME ZONE 'UTC', 'YYYY-MM-DD') = $2
	`, salesID, date)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var total int64
		var paymentJSON []byte
		if err := rows.Scan(&total, &paymentJSON); err != nil {
			_ = rows.Close()
			return nil, err
		}
		var payment domain.Payment
		if err := json.Unmarshal(paymentJSON, &payment); err != nil {
			_ = rows.Close()
			return nil, err
		}
		settlement.TotalSalesCents += total
		switch payment.Method {
		case domain.PaymentCash:
			settlement.TotalCashCents += total
		case domain.PaymentCredit, domain.PaymentTransfer:
			settlement.TotalCreditCents += total
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	van, err := lockVanForUpdate(ctx, pgTx, salesID, false)
	if err == nil {
		lines := make([]domain.SettlementStockLine, 0, len(van.Items))
		for productID, qty := range van.Items {
			lines = append(lines, domain.SettlementStockLine{ProductID: productID, Qty: qty})
		}
		sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
		settlement.VanStock = lines
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	vanStockJSON, err := json.Marshal(settlement.VanStock)
	if err != nil {
		return nil, err
	}

	// The unique index on (sales_id, date) makes duplicate submissions lose
	// the race at insert time rather than at a prior existence check.
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO settlements (
			id, sales_id, sales_name, date, total_cash_cents, total_credit_cents,
			total_sales_cents, van_stock, status, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, settlement.ID, settlement.SalesID, settlement.SalesName, settlement.Date,
		settlement.TotalCashCents, settlement.TotalCreditCents, settlement.TotalSalesCents,
		vanStockJSON, settlement.Status, settlement.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadySettled
		}
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &settlement, nil
}

func (s *Store) VerifySettlement(ctx context.Context, id string, verifiedBy string, at time.Time) (*domain.Settlement, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status FROM settlements WHERE id = $1 FOR UPDATE
	`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status == domain.SettlementVerified {
		return nil, store.ErrAlreadyVerified
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE settlements
		SET status = $2, verified_by = $3, verified_at = $4
		WHERE id = $1
	`, id, domain.SettlementVerified, verifiedBy, at)
	if err != nil {
		return nil, err
	}

	row := pgTx.QueryRowContext(ctx, `
		SELECT id, sales_id, sales_name, date, total_cash_cents, total_credit_cents,
		       total_sales_cents, van_stock, status, verified_by, verified_at, created_at
		FROM settlements
		WHERE id = $1
	`, id)
	settlement, err := scanSettlement(row)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return settlement, nil
}

func (s *Store) ListSettlements(ctx context.Context, date string) ([]domain.Settlement, error) {
	query := `
		SELECT id, sales_id, sales_name, date, total_cash_cents, total_credit_cents,
		       total_sales_cents, van_stock, status, verified_by, verified_at, created_at
		FROM settlements
	`
	args := []any{}
	if date != "" {
		query += ` WHERE date = $1`
		args = append(args, date)
	}
	query += ` ORDER BY date DESC, sales_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Settlement, 0, 32)
	for rows.Next() {
		settlement, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *settlement)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, outstanding_cents, COALESCE(assigned_sales_id, '')
		FROM customers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Address, &c.OutstandingCents, &c.AssignedSalesID); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, address, outstanding_cents, assigned_sales_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now(),now())
	`, customer.ID, customer.Name, customer.Address, customer.OutstandingCents, nullIfEmpty(customer.AssignedSalesID))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, outstanding_cents, COALESCE(assigned_sales_id, '')
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Address, &c.OutstandingCents, &c.AssignedSalesID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateStockAudit(ctx context.Context, audit domain.StockAudit) (*domain.StockAudit, error) {
	if audit.CustomerID == "" || len(audit.Items) == 0 {
		return nil, store.ErrValidation
	}
	if audit.ID == "" {
		audit.ID = xid.New("audit")
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}

	itemsJSON, err := json.Marshal(audit.Items)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stock_audits (id, customer_id, sales_id, items, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, audit.ID, audit.CustomerID, audit.SalesID, itemsJSON, audit.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := audit
	return &created, nil
}

func (s *Store) ListStockAudits(ctx context.Context) ([]domain.StockAudit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, sales_id, items, created_at
		FROM stock_audits
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.StockAudit, 0, 32)
	for rows.Next() {
		var audit domain.StockAudit
		var itemsJSON []byte
		if err := rows.Scan(&audit.ID, &audit.CustomerID, &audit.SalesID, &itemsJSON, &audit.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(itemsJSON, &audit.Items); err != nil {
			return nil, err
		}
		result = append(result, audit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreatePayout(ctx context.Context, payout domain.CommissionPayout) (*domain.CommissionPayout, error) {
	if payout.UserID == "" || payout.Cents < 1 {
		return nil, store.ErrValidation
	}
	if payout.ID == "" {
		payout.ID = xid.New("payout")
	}
	if payout.PaidAt.IsZero() {
		payout.PaidAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commission_payouts (id, user_id, user_name, cents, paid_at, paid_by)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, payout.ID, payout.UserID, payout.UserName, payout.Cents, payout.PaidAt, payout.PaidBy)
	if err != nil {
		return nil, err
	}

	created := payout
	return &created, nil
}

func (s *Store) ListPayouts(ctx context.Context) ([]domain.CommissionPayout, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, user_name, cents, paid_at, paid_by
		FROM commission_payouts
		ORDER BY paid_at DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.CommissionPayout, 0, 32)
	for rows.Next() {
		var p domain.CommissionPayout
		if err := rows.Scan(&p.ID, &p.UserID, &p.UserName, &p.Cents, &p.PaidAt, &p.PaidBy); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password, name, role, COALESCE(branch, ''), commission_rate, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		var u domain.User
		var rate sql.NullFloat64
		if err := rows.Scan(&u.ID, &u.Username, &u.Password, &u.Name, &u.Role, &u.Branch, &rate, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		if rate.Valid {
			r := rate.Float64
			u.CommissionRate = &r
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	var rate sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password, name, role, COALESCE(branch, ''), commission_rate, active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.Password, &u.Name, &u.Role, &u.Branch, &rate, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if rate.Valid {
		r := rate.Float64
		u.CommissionRate = &r
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password, name, role, branch, commission_rate, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, user.ID, user.Username, user.Password, user.Name, user.Role, nullIfEmpty(user.Branch), nullRate(user.CommissionRate), user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	return nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateCommissionRate(ctx context.Context, userID string, rate float64) (*domain.User, error) {
	if rate < 0 || rate > 1 {
		return nil, store.ErrValidation
	}

	var u domain.User
	var stored sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET commission_rate = $2
		WHERE id = $1
		RETURNING id, username, password, name, role, COALESCE(branch, ''), commission_rate, active, created_at
	`, userID, rate).Scan(&u.ID, &u.Username, &u.Password, &u.Name, &u.Role, &u.Branch, &stored, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if stored.Valid {
		r := stored.Float64
		u.CommissionRate = &r
	}
	return &u, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("log")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorID, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var branch, assignedShop sql.NullString
	var checkIn sql.NullTime
	var customerJSON, itemsJSON, exchangesJSON, paymentJSON []byte

	err := row.Scan(&tx.ID, &tx.SalesID, &tx.SalesName, &branch, &customerJSON, &itemsJSON, &exchangesJSON, &paymentJSON,
		&tx.SubtotalCents, &tx.TotalCents, &tx.Status, &assignedShop, &checkIn, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}

	tx.Branch = branch.String
	tx.AssignedShopID = assignedShop.String
	if checkIn.Valid {
		t := checkIn.Time.UTC()
		tx.CheckInTime = &t
	}
	if len(customerJSON) > 0 {
		var snapshot domain.CustomerSnapshot
		if err := json.Unmarshal(customerJSON, &snapshot); err != nil {
			return nil, err
		}
		tx.Customer = &snapshot
	}
	if err := json.Unmarshal(itemsJSON, &tx.Items); err != nil {
		return nil, err
	}
	if len(exchangesJSON) > 0 {
		if err := json.Unmarshal(exchangesJSON, &tx.ExchangeItems); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal(paymentJSON, &tx.Payment); err != nil {
		return nil, err
	}
	return &tx, nil
}

func scanSettlement(row rowScanner) (*domain.Settlement, error) {
	var settlement domain.Settlement
	var verifiedBy sql.NullString
	var verifiedAt sql.NullTime
	var vanStockJSON []byte

	err := row.Scan(&settlement.ID, &settlement.SalesID, &settlement.SalesName, &settlement.Date,
		&settlement.TotalCashCents, &settlement.TotalCreditCents, &settlement.TotalSalesCents,
		&vanStockJSON, &settlement.Status, &verifiedBy, &verifiedAt, &settlement.CreatedAt)
	if err != nil {
		return nil, err
	}

	settlement.VerifiedBy = verifiedBy.String
	if verifiedAt.Valid {
		t := verifiedAt.Time.UTC()
		settlement.VerifiedAt = &t
	}
	if len(vanStockJSON) > 0 {
		if err := json.Unmarshal(vanStockJSON, &settlement.VanStock); err != nil {
			return nil, err
		}
	}
	return &settlement, nil
}

// lockVanForUpdate reads the salesperson's van row under FOR UPDATE so the
// surrounding transaction owns it until commit. With create set, a missing
// row is inserted first; without it the caller sees store.ErrNotFound.
func lockVanForUpdate(ctx context.Context, pgTx *sql.Tx, salesID string, create bool) (*domain.VanInventory, error) {
	var van domain.VanInventory
	var itemsJSON []byte
	err := pgTx.QueryRowContext(ctx, `
		SELECT sales_id, items, revision, last_updated
		FROM van_inventories
		WHERE sales_id = $1
		FOR UPDATE
	`, salesID).Scan(&van.SalesID, &itemsJSON, &van.Revision, &van.LastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if !create {
				return nil, store.ErrNotFound
			}
			van = domain.VanInventory{SalesID: salesID, Items: map[string]int{}}
			if _, err := pgTx.ExecContext(ctx, `
				INSERT INTO van_inventories (sales_id, items, revision, last_updated)
				VALUES ($1, '{}'::jsonb, 0, now())
			`, salesID); err != nil {
				return nil, err
			}
			return &van, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &van.Items); err != nil {
		return nil, err
	}
	if van.Items == nil {
		van.Items = map[string]int{}
	}
	return &van, nil
}

func saveVan(ctx context.Context, pgTx *sql.Tx, van *domain.VanInventory) error {
	itemsJSON, err := json.Marshal(van.Items)
	if err != nil {
		return err
	}
	_, err = pgTx.ExecContext(ctx, `
		UPDATE van_inventories
		SET items = $2, revision = $3, last_updated = $4
		WHERE sales_id = $1
	`, van.SalesID, itemsJSON, van.Revision, van.LastUpdated)
	return err
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullRate(val *float64) any {
	if val == nil {
		return nil
	}
	return *val
}
