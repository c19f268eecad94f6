package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"says/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNoVanInventory    = errors.New("no van inventory")
	ErrAlreadySettled    = errors.New("already settled")
	ErrAlreadyVerified   = errors.New("already verified")
	ErrInvalidTransition = errors.New("invalid status transition")
)

const (
	PoolCentral = "central"
	PoolVan     = "van"
)

// InsufficientStockError names the product and quantities behind a stock
// rejection. It unwraps to ErrInsufficientStock so callers can match either
// the sentinel or the pool-specific detail.
type InsufficientStockError struct {
	Pool      string
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient %s stock for product %s: available %d, requested %d",
		e.Pool, e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	RestockProduct(ctx context.Context, productID string, qty int) (*domain.Product, error)

	// LoadVanStock moves central stock into a salesperson's van. Every item
	// is validated against central stock before any decrement; the whole call
	// is one atomic unit. The van record is created if absent.
	LoadVanStock(ctx context.Context, salesID string, items []domain.LoadItem) (*domain.VanInventory, error)
	GetVanInventory(ctx context.Context, salesID string) (*domain.VanInventory, error)

	// CreateSale validates the transaction's combined demand (sold plus
	// exchange lines) against the salesperson's van, deducts it, persists the
	// transaction and, for credit sales, raises the customer's outstanding
	// balance, all as one atomic unit. No partial state survives a failure.
	CreateSale(ctx context.Context, tx domain.Transaction) (*domain.Transaction, *domain.VanInventory, error)
	FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context) ([]domain.Transaction, error)
	ListTransactionsBySales(ctx context.Context, salesID string) ([]domain.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id string, status string, assignedShopID *string, at time.Time) (*domain.Transaction, error)

	// CreateSettlement aggregates the salesperson's transactions for the
	// settlement's date, snapshots the van, and inserts the record under a
	// (salesID, date) uniqueness guard that cannot race with itself.
	CreateSettlement(ctx context.Context, salesID string, salesName string, date string, at time.Time) (*domain.Settlement, error)
	VerifySettlement(ctx context.Context, id string, verifiedBy string, at time.Time) (*domain.Settlement, error)
	ListSettlements(ctx context.Context, date string) ([]domain.Settlement, error)

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)

	CreateStockAudit(ctx context.Context, audit domain.StockAudit) (*domain.StockAudit, error)
	ListStockAudits(ctx context.Context) ([]domain.StockAudit, error)

	CreatePayout(ctx context.Context, payout domain.CommissionPayout) (*domain.CommissionPayout, error)
	ListPayouts(ctx context.Context) ([]domain.CommissionPayout, error)

	ListUsers(ctx context.Context) ([]domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.User) error
	UpdateUserPassword(ctx context.Context, username string, password string) error
	UpdateCommissionRate(ctx context.Context, userID string, rate float64) (*domain.User, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
