package domain

import "time"

type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Unit       string `json:"unit"`
	Stock      int    `json:"stock"`
}

type ProductCreateRequest struct {
	Name       string `json:"name" validate:"required"`
	PriceCents int64  `json:"price_cents" validate:"gt=0"`
	Unit       string `json:"unit" validate:"required"`
	Stock      int    `json:"stock" validate:"gte=0"`
}

type RestockRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Qty       int    `json:"qty" validate:"gt=0"`
}

type Customer struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Address          string `json:"address"`
	OutstandingCents int64  `json:"outstanding_cents"`
	AssignedSalesID  string `json:"assigned_sales_id,omitempty"`
}

type CustomerCreateRequest struct {
	Name            string `json:"name" validate:"required"`
	Address         string `json:"address"`
	AssignedSalesID string `json:"assigned_sales_id"`
}

// VanInventory is a salesperson's mobile stock ledger. One per salesperson,
// created lazily on the first load and never deleted. Revision increments on
// every write and backs optimistic concurrency in stores that need it.
type VanInventory struct {
	SalesID     string         `json:"sales_id"`
	Items       map[string]int `json:"items"`
	Revision    int64          `json:"revision"`
	LastUpdated time.Time      `json:"last_updated"`
}

type LoadItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Qty       int    `json:"qty" validate:"gt=0"`
}

type LoadStockRequest struct {
	SalesID string     `json:"sales_id" validate:"required"`
	Items   []LoadItem `json:"items" validate:"required,min=1,dive"`
}

type SaleLine struct {
	ProductID      string `json:"product_id" validate:"required"`
	ProductName    string `json:"product_name"`
	Qty            int    `json:"qty" validate:"gt=0"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"gte=0"`
	Unit           string `json:"unit"`
}

type ExchangeItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Qty       int    `json:"qty" validate:"gt=0"`
	Reason    string `json:"reason" validate:"oneof=Expired Damaged Return"`
}

type Payment struct {
	Method        string `json:"method" validate:"oneof=cash transfer credit"`
	ReturnCents   int64  `json:"return_cents"`
	ExchangeCents int64  `json:"exchange_cents"`
	FOCCents      int64  `json:"foc_cents"`
}

// CustomerSnapshot is the customer as seen at sale time; the transaction keeps
// its own copy so later directory edits do not rewrite history.
type CustomerSnapshot struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

type SaleRequest struct {
	Customer      *CustomerSnapshot `json:"customer"`
	CheckInTime   *time.Time        `json:"check_in_time,omitempty"`
	Items         []SaleLine        `json:"items" validate:"required,min=1,dive"`
	ExchangeItems []ExchangeItem    `json:"exchange_items,omitempty" validate:"dive"`
	Payment       Payment           `json:"payment"`
}

type Transaction struct {
	ID             string            `json:"id"`
	SalesID        string            `json:"sales_id"`
	SalesName      string            `json:"sales_name"`
	Branch         string            `json:"branch,omitempty"`
	Customer       *CustomerSnapshot `json:"customer,omitempty"`
	Items          []SaleLine        `json:"items"`
	ExchangeItems  []ExchangeItem    `json:"exchange_items,omitempty"`
	Payment        Payment           `json:"payment"`
	SubtotalCents  int64             `json:"subtotal_cents"`
	TotalCents     int64             `json:"total_cents"`
	Status         string            `json:"status"`
	AssignedShopID string            `json:"assigned_shop_id,omitempty"`
	CheckInTime    *time.Time        `json:"check_in_time,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type SaleResponse struct {
	ID           string         `json:"id"`
	TotalCents   int64          `json:"total_cents"`
	Status       string         `json:"status"`
	VanRemaining map[string]int `json:"van_remaining"`
}

type TransactionStatusUpdate struct {
	Status         string  `json:"status" validate:"required"`
	AssignedShopID *string `json:"assigned_shop_id,omitempty"`
}

type StockAuditItem struct {
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	PhysicalStock int    `json:"physical_stock"`
}

type StockAudit struct {
	ID         string           `json:"id"`
	CustomerID string           `json:"customer_id"`
	SalesID    string           `json:"sales_id"`
	Items      []StockAuditItem `json:"items"`
	CreatedAt  time.Time        `json:"created_at"`
}

// StockAuditRequest accepts both the current items shape and the legacy
// counts map written by older clients. The service folds the legacy shape
// into Items once, at the boundary.
type StockAuditRequest struct {
	CustomerID string           `json:"customer_id" validate:"required"`
	Items      []StockAuditItem `json:"items,omitempty"`
	Counts     map[string]int   `json:"counts,omitempty"`
}

type SettlementStockLine struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type Settlement struct {
	ID               string                `json:"id"`
	SalesID          string                `json:"sales_id"`
	SalesName        string                `json:"sales_name"`
	Date             string                `json:"date"`
	TotalCashCents   int64                 `json:"total_cash_cents"`
	TotalCreditCents int64                 `json:"total_credit_cents"`
	TotalSalesCents  int64                 `json:"total_sales_cents"`
	VanStock         []SettlementStockLine `json:"van_stock"`
	Status           string                `json:"status"`
	VerifiedBy       string                `json:"verified_by,omitempty"`
	VerifiedAt       *time.Time            `json:"verified_at,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
}

type SettlementRequest struct {
	SalesID string `json:"sales_id"`
	Date    string `json:"date"`
}

type VerifySettlementRequest struct {
	VerifiedBy string `json:"verified_by"`
}

type CommissionPayout struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	UserName string    `json:"user_name"`
	Cents    int64     `json:"cents"`
	PaidAt   time.Time `json:"paid_at"`
	PaidBy   string    `json:"paid_by"`
}

type PayoutRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Cents  int64  `json:"cents" validate:"gt=0"`
}

type CommissionSummary struct {
	UserID       string  `json:"user_id"`
	UserName     string  `json:"user_name"`
	Rate         float64 `json:"rate"`
	EarnedCents  int64   `json:"earned_cents"`
	PaidCents    int64   `json:"paid_cents"`
	PendingCents int64   `json:"pending_cents"`
}

type CommissionRateUpdate struct {
	Rate float64 `json:"rate" validate:"gte=0,lte=1"`
}

// User doubles as the auth credential record and the salesperson directory
// entry. CommissionRate is nil until an admin sets one; the calculator then
// falls back to the default rate.
type User struct {
	ID             string   `json:"id"`
	Username       string   `json:"username"`
	Password       string   `json:"-"`
	Name           string   `json:"name"`
	Role           string   `json:"role"`
	Branch         string   `json:"branch,omitempty"`
	CommissionRate *float64 `json:"commission_rate,omitempty"`
	Active         bool     `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

type Actor struct {
	ID       string
	Username string
	Name     string
	Role     string
	Branch   string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	Name        string `json:"name"`
	ExpiresAt   string `json:"expires_at"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	TxStatusPending    = "Pending"
	TxStatusConfirmed  = "Confirmed"
	TxStatusProcessing = "Processing"
	TxStatusCompleted  = "Completed"
	TxStatusCancelled  = "Cancelled"
)

const (
	SettlementPending  = "Pending"
	SettlementVerified = "Verified"
)

const (
	PaymentCash     = "cash"
	PaymentTransfer = "transfer"
	PaymentCredit   = "credit"
)

const (
	ExchangeReasonExpired = "Expired"
	ExchangeReasonDamaged = "Damaged"
	ExchangeReasonReturn  = "Return"
)

const (
	RoleAdmin = "admin"
	RoleSales = "sales"
)

// SettlementDate formats a timestamp as the day-granularity key settlements
// are deduplicated on.
func SettlementDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// EffectiveDay is the day a transaction settles under: createdAt when set,
// otherwise the check-in time recorded by legacy clients.
func (t *Transaction) EffectiveDay() string {
	if !t.CreatedAt.IsZero() {
		return SettlementDate(t.CreatedAt)
	}
	if t.CheckInTime != nil {
		return SettlementDate(*t.CheckInTime)
	}
	return ""
}

// IsTerminalStatus reports whether a transaction status permits no further
// transitions.
func IsTerminalStatus(status string) bool {
	return status == TxStatusCompleted || status == TxStatusCancelled
}

func IsValidStatus(status string) bool {
	switch status {
	case TxStatusPending, TxStatusConfirmed, TxStatusProcessing, TxStatusCompleted, TxStatusCancelled:
		return true
	default:
		return false
	}
}
