package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"says/backend/internal/domain"
	"says/backend/internal/store"
)

func TestLoadVanStockRejectsWholeBatchOnShortage(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.LoadVanStock(ctx, "user-sales-1", []domain.LoadItem{
		{ProductID: "prod-kicap-01", Qty: 10},
		{ProductID: "prod-cuka-01", Qty: 100000},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected shortage, got %v", err)
	}

	// Central stock for the valid line must be untouched.
	products, err := s.GetProductsByIDs(ctx, []string{"prod-kicap-01"})
	if err != nil {
		t.Fatalf("get products failed: %v", err)
	}
	if products["prod-kicap-01"].Stock != 500 {
		t.Fatalf("expected central stock 500, got %d", products["prod-kicap-01"].Stock)
	}

	van, err := s.GetVanInventory(ctx, "user-sales-1")
	if err != nil {
		t.Fatalf("get van failed: %v", err)
	}
	if len(van.Items) != 0 {
		t.Fatalf("expected empty van, got %v", van.Items)
	}
}

func TestLoadVanStockAccumulatesAcrossLoads(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.LoadVanStock(ctx, "user-sales-1", []domain.LoadItem{
			{ProductID: "prod-kicap-01", Qty: 5},
		}); err != nil {
			t.Fatalf("load %d failed: %v", i, err)
		}
	}

	van, err := s.GetVanInventory(ctx, "user-sales-1")
	if err != nil {
		t.Fatalf("get van failed: %v", err)
	}
	if van.Items["prod-kicap-01"] != 10 {
		t.Fatalf("expected 10 on van, got %d", van.Items["prod-kicap-01"])
	}
	if van.Revision != 2 {
		t.Fatalf("expected revision 2, got %d", van.Revision)
	}

	products, _ := s.GetProductsByIDs(ctx, []string{"prod-kicap-01"})
	if products["prod-kicap-01"].Stock != 490 {
		t.Fatalf("expected central stock 490, got %d", products["prod-kicap-01"].Stock)
	}
}

func TestGetVanInventoryUnknownSalesReturnsEmpty(t *testing.T) {
	s := NewSeeded()

	van, err := s.GetVanInventory(context.Background(), "user-sales-9")
	if err != nil {
		t.Fatalf("expected empty van, got error %v", err)
	}
	if van.SalesID != "user-sales-9" || len(van.Items) != 0 || van.Revision != 0 {
		t.Fatalf("expected zero-value van, got %+v", van)
	}
}

func TestCreateSaleReturnsCopies(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, err := s.LoadVanStock(ctx, "user-sales-1", []domain.LoadItem{
		{ProductID: "prod-kicap-01", Qty: 10},
	}); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	tx, van, err := s.CreateSale(ctx, domain.Transaction{
		SalesID: "user-sales-1",
		Items:   []domain.SaleLine{{ProductID: "prod-kicap-01", Qty: 3, UnitPriceCents: 450}},
		Payment: domain.Payment{Method: domain.PaymentCash},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	// Mutating the returned snapshots must not leak into the store.
	van.Items["prod-kicap-01"] = 999
	tx.Items[0].Qty = 999

	fresh, _ := s.GetVanInventory(ctx, "user-sales-1")
	if fresh.Items["prod-kicap-01"] != 7 {
		t.Fatalf("expected 7 on van, got %d", fresh.Items["prod-kicap-01"])
	}
	stored, _ := s.FindTransactionByID(ctx, tx.ID)
	if stored.Items[0].Qty != 3 {
		t.Fatalf("expected stored qty 3, got %d", stored.Items[0].Qty)
	}
}

func TestCreateSettlementConcurrentDuplicates(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = s.CreateSettlement(ctx, "user-sales-1", "Azlan Rahim", "2026-08-30", time.Now().UTC())
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrAlreadySettled):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one settlement to land, got %d", succeeded)
	}
}

func TestVerifySettlementTransitions(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	created, err := s.CreateSettlement(ctx, "user-sales-1", "Azlan Rahim", "2026-08-30", time.Now().UTC())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	at := time.Now().UTC()
	verified, err := s.VerifySettlement(ctx, created.ID, "Head Office", at)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if verified.Status != domain.SettlementVerified || verified.VerifiedBy != "Head Office" {
		t.Fatalf("unexpected verified settlement: %+v", verified)
	}

	if _, err := s.VerifySettlement(ctx, created.ID, "Head Office", at); !errors.Is(err, store.ErrAlreadyVerified) {
		t.Fatalf("expected already-verified, got %v", err)
	}
	if _, err := s.VerifySettlement(ctx, "stl-missing", "Head Office", at); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateTransactionStatusUnknownID(t *testing.T) {
	s := NewSeeded()

	_, err := s.UpdateTransactionStatus(context.Background(), "tx-missing", domain.TxStatusConfirmed, nil, time.Now().UTC())
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateTransactionStatusNeverBackToPending(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, err := s.LoadVanStock(ctx, "user-sales-1", []domain.LoadItem{
		{ProductID: "prod-kicap-01", Qty: 2},
	}); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	tx, _, err := s.CreateSale(ctx, domain.Transaction{
		SalesID: "user-sales-1",
		Items:   []domain.SaleLine{{ProductID: "prod-kicap-01", Qty: 1, UnitPriceCents: 450}},
		Payment: domain.Payment{Method: domain.PaymentCash},
		Status:  domain.TxStatusConfirmed,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	if _, err := s.UpdateTransactionStatus(ctx, tx.ID, domain.TxStatusPending, nil, time.Now().UTC()); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected transition to Pending to be rejected, got %v", err)
	}
}

func TestListAuditLogsWindowAndLimit(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := s.CreateAuditLog(ctx, domain.AuditLog{
			ID:        "log-" + string(rune('a'+i)),
			ActorID:   "user-admin",
			Action:    "test",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("create log failed: %v", err)
		}
	}
	// Outside the queried day.
	if err := s.CreateAuditLog(ctx, domain.AuditLog{
		ID:        "log-z",
		ActorID:   "user-admin",
		Action:    "test",
		CreatedAt: base.Add(48 * time.Hour),
	}); err != nil {
		t.Fatalf("create log failed: %v", err)
	}

	from := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	logs, err := s.ListAuditLogs(ctx, from, from.Add(24*time.Hour), 3)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected limit of 3, got %d", len(logs))
	}
	if logs[0].ID != "log-e" {
		t.Fatalf("expected newest first, got %s", logs[0].ID)
	}
}
