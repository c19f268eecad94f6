package commission

import (
	"context"
	"testing"

	"says/backend/internal/domain"
)

func salesUser(id string, name string, rate *float64) domain.User {
	return domain.User{ID: id, Name: name, Role: domain.RoleSales, CommissionRate: rate, Active: true}
}

func completedTx(id string, salesID string, total int64) domain.Transaction {
	return domain.Transaction{ID: id, SalesID: salesID, Status: domain.TxStatusCompleted, TotalCents: total}
}

func TestSummariesDefaultRate(t *testing.T) {
	engine := NewEngine(nil, 0)

	summaries := engine.Summaries(context.Background(),
		[]domain.User{salesUser("u1", "Azlan", nil)},
		[]domain.Transaction{completedTx("t1", "u1", 10000), completedTx("t2", "u1", 20000)},
		nil,
	)

	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	s := summaries[0]
	if s.Rate != DefaultRate {
		t.Fatalf("expected default rate, got %.4f", s.Rate)
	}
	if s.EarnedCents != 1500 {
		t.Fatalf("expected earned 1500, got %d", s.EarnedCents)
	}
	if s.PendingCents != 1500 {
		t.Fatalf("expected pending 1500, got %d", s.PendingCents)
	}
}

func TestSummariesPerUserRateOverridesDefault(t *testing.T) {
	engine := NewEngine(nil, 0)
	rate := 0.10

	summaries := engine.Summaries(context.Background(),
		[]domain.User{salesUser("u1", "Azlan", &rate)},
		[]domain.Transaction{completedTx("t1", "u1", 10000)},
		nil,
	)

	if summaries[0].EarnedCents != 1000 {
		t.Fatalf("expected earned 1000 at 10%%, got %d", summaries[0].EarnedCents)
	}
}

func TestSummariesIgnoreNonCompletedAndNonSales(t *testing.T) {
	engine := NewEngine(nil, 0)

	summaries := engine.Summaries(context.Background(),
		[]domain.User{
			salesUser("u1", "Azlan", nil),
			{ID: "admin", Name: "Head Office", Role: domain.RoleAdmin},
		},
		[]domain.Transaction{
			completedTx("t1", "u1", 10000),
			{ID: "t2", SalesID: "u1", Status: domain.TxStatusPending, TotalCents: 50000},
			{ID: "t3", SalesID: "u1", Status: domain.TxStatusCancelled, TotalCents: 50000},
		},
		nil,
	)

	if len(summaries) != 1 {
		t.Fatalf("expected admin excluded, got %d summaries", len(summaries))
	}
	if summaries[0].EarnedCents != 500 {
		t.Fatalf("expected only the Completed total to earn, got %d", summaries[0].EarnedCents)
	}
}

func TestSummariesPendingGoesNegative(t *testing.T) {
	engine := NewEngine(nil, 0)

	summaries := engine.Summaries(context.Background(),
		[]domain.User{salesUser("u1", "Azlan", nil)},
		nil,
		[]domain.CommissionPayout{{ID: "p1", UserID: "u1", Cents: 700}},
	)

	if summaries[0].PendingCents != -700 {
		t.Fatalf("expected pending -700, got %d", summaries[0].PendingCents)
	}
}

func TestSummariesSortedByName(t *testing.T) {
	engine := NewEngine(nil, 0)

	summaries := engine.Summaries(context.Background(),
		[]domain.User{
			salesUser("u2", "Mei Ling", nil),
			salesUser("u1", "Azlan Rahim", nil),
		},
		nil, nil,
	)

	if summaries[0].UserName != "Azlan Rahim" || summaries[1].UserName != "Mei Ling" {
		t.Fatalf("expected name order, got %s then %s", summaries[0].UserName, summaries[1].UserName)
	}
}

func TestCacheKeyTracksEveryInput(t *testing.T) {
	users := []domain.User{salesUser("u1", "Azlan", nil)}
	txs := []domain.Transaction{completedTx("t1", "u1", 10000)}
	payouts := []domain.CommissionPayout{{ID: "p1", UserID: "u1", Cents: 500}}

	base := buildCacheKey(users, txs, payouts)

	rate := 0.10
	ratedUsers := []domain.User{salesUser("u1", "Azlan", &rate)}
	if buildCacheKey(ratedUsers, txs, payouts) == base {
		t.Fatalf("rate change must change the cache key")
	}

	moreTxs := append([]domain.Transaction{}, txs...)
	moreTxs = append(moreTxs, completedTx("t2", "u1", 5000))
	if buildCacheKey(users, moreTxs, payouts) == base {
		t.Fatalf("new transaction must change the cache key")
	}

	morePayouts := append([]domain.CommissionPayout{}, payouts...)
	morePayouts = append(morePayouts, domain.CommissionPayout{ID: "p2", UserID: "u1", Cents: 100})
	if buildCacheKey(users, txs, morePayouts) == base {
		t.Fatalf("new payout must change the cache key")
	}

	// Input order must not matter.
	reordered := []domain.Transaction{completedTx("t2", "u1", 5000), completedTx("t1", "u1", 10000)}
	forward := []domain.Transaction{completedTx("t1", "u1", 10000), completedTx("t2", "u1", 5000)}
	if buildCacheKey(users, reordered, payouts) != buildCacheKey(users, forward, payouts) {
		t.Fatalf("cache key must be order independent")
	}
}
