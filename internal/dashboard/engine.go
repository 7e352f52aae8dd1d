package dashboard

import (
	"context"
	"time"

	"bengkelku/backend/internal/cache"
	"bengkelku/backend/internal/domain"
)

// Engine assembles reseller dashboard summaries, caching them for a short
// TTL so repeated dashboard visits do not re-run the ledger aggregates.
type Engine struct {
	cache    cache.SummaryCache
	cacheTTL time.Duration
}

func NewEngine(cacheStore cache.SummaryCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopSummaryCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 20 * time.Second
	}

	return &Engine{
		cache:    cacheStore,
		cacheTTL: cacheTTL,
	}
}

// Summary returns the cached summary for the reseller when fresh, otherwise
// invokes load to compute stats and link and caches the result. Cache
// failures are treated as misses.
func (e *Engine) Summary(ctx context.Context, resellerID string, load func(context.Context) (domain.ResellerStats, string, error)) (domain.DashboardSummary, error) {
	startedAt := time.Now()
	key := cacheKey(resellerID)

	if cached, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		cached.LatencyMS = time.Since(startedAt).Milliseconds()
		return *cached, nil
	}

	stats, link, err := load(ctx)
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	summary := domain.DashboardSummary{
		TotalReferrals:         stats.TotalReferrals,
		ConvertedReferrals:     stats.ConvertedReferrals,
		PendingCommissionCents: stats.PendingCommissionCents,
		PaidCommissionCents:    stats.PaidCommissionCents,
		ReferralLink:           link,
	}
	_ = e.cache.Set(ctx, key, &summary, e.cacheTTL)

	summary.LatencyMS = time.Since(startedAt).Milliseconds()
	return summary, nil
}

// Invalidate drops the cached summary after a ledger mutation so admins and
// resellers do not see stale figures for a full TTL.
func (e *Engine) Invalidate(ctx context.Context, resellerID string) {
	_ = e.cache.Invalidate(ctx, cacheKey(resellerID))
}

func cacheKey(resellerID string) string {
	return "dashboard:" + resellerID
}
