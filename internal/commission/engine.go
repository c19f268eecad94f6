package commission

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"says/backend/internal/cache"
	"says/backend/internal/domain"
)

// DefaultRate applies to salespeople without an explicit per-user rate.
const DefaultRate = 0.05

type Engine struct {
	cache    cache.CommissionCache
	cacheTTL time.Duration
}

func NewEngine(cacheStore cache.CommissionCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopCommissionCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Engine{
		cache:    cacheStore,
		cacheTTL: cacheTTL,
	}
}

// Summaries computes earned/paid/pending per salesperson. Earned is the sum
// of Completed-transaction totals times the user's current rate, so a rate
// change moves past earnings with it. Pending may go negative after an
// overpayment and is reported as-is.
func (e *Engine) Summaries(
	ctx context.Context,
	users []domain.User,
	transactions []domain.Transaction,
	payouts []domain.CommissionPayout,
) []domain.CommissionSummary {
	cacheKey := buildCacheKey(users, transactions, payouts)
	if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
		return cached
	}

	completedBySales := make(map[string]int64, len(users))
	for _, tx := range transactions {
		if tx.Status != domain.TxStatusCompleted {
			continue
		}
		completedBySales[tx.SalesID] += tx.TotalCents
	}

	paidByUser := make(map[string]int64, len(users))
	for _, payout := range payouts {
		paidByUser[payout.UserID] += payout.Cents
	}

	summaries := make([]domain.CommissionSummary, 0, len(users))
	for _, user := range users {
		if user.Role != domain.RoleSales {
			continue
		}

		rate := DefaultRate
		if user.CommissionRate != nil {
			rate = *user.CommissionRate
		}

		earned := int64(math.Round(float64(completedBySales[user.ID]) * rate))
		paid := paidByUser[user.ID]

		summaries = append(summaries, domain.CommissionSummary{
			UserID:       user.ID,
			UserName:     user.Name,
			Rate:         rate,
			EarnedCents:  earned,
			PaidCents:    paid,
			PendingCents: earned - paid,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UserName < summaries[j].UserName
	})

	_ = e.cache.Set(ctx, cacheKey, summaries, e.cacheTTL)
	return summaries
}

// buildCacheKey fingerprints every input that can change a summary. A stale
// entry is therefore impossible: any rate change, new transaction or payout
// produces a different key.
func buildCacheKey(
	users []domain.User,
	transactions []domain.Transaction,
	payouts []domain.CommissionPayout,
) string {
	parts := make([]string, 0, len(users)+len(transactions)+len(payouts))
	for _, user := range users {
		rate := DefaultRate
		if user.CommissionRate != nil {
			rate = *user.CommissionRate
		}
		parts = append(parts, fmt.Sprintf("u:%s:%.4f", user.ID, rate))
	}
	for _, tx := range transactions {
		parts = append(parts, fmt.Sprintf("t:%s:%s:%s:%d", tx.ID, tx.SalesID, tx.Status, tx.TotalCents))
	}
	for _, payout := range payouts {
		parts = append(parts, fmt.Sprintf("p:%s:%s:%d", payout.ID, payout.UserID, payout.Cents))
	}
	sort.Strings(parts)

	hash := sha1.Sum([]byte(strings.Join(parts, "|")))
	return "says:commission:" + hex.EncodeToString(hash[:])
}
