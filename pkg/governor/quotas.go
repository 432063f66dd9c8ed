package governor

import (
	"fmt"
	"time"
)

// Tier is a user's entitlement class.
type Tier string

const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// UserQuotas are the per-user ceilings checked on llm_call admission.
type UserQuotas struct {
	Tier            Tier  `json:"tier" mapstructure:"tier"`
	LLMPerHour      int64 `json:"llm_per_hour" mapstructure:"llm_per_hour"`
	LLMPerDay       int64 `json:"llm_per_day" mapstructure:"llm_per_day"`
	ComputePerHour  int64 `json:"compute_per_hour" mapstructure:"compute_per_hour"`
	ComputePerDay   int64 `json:"compute_per_day" mapstructure:"compute_per_day"`
	MaxStorageBytes int64 `json:"max_storage_bytes" mapstructure:"max_storage_bytes"`
}

// DefaultTierQuotas returns the baseline quotas for a tier. Unknown tiers
// fall back to free.
func DefaultTierQuotas(tier Tier) UserQuotas {
	switch tier {
	case TierPremium:
		return UserQuotas{
			Tier:            TierPremium,
			LLMPerHour:      60,
			LLMPerDay:       500,
			ComputePerHour:  10000,
			ComputePerDay:   50000,
			MaxStorageBytes: 100 << 20,
		}
	case TierEnterprise:
		return UserQuotas{
			Tier:            TierEnterprise,
			LLMPerHour:      600,
			LLMPerDay:       5000,
			ComputePerHour:  100000,
			ComputePerDay:   500000,
			MaxStorageBytes: 1 << 30,
		}
	default:
		return UserQuotas{
			Tier:            TierFree,
			LLMPerHour:      10,
			LLMPerDay:       50,
			ComputePerHour:  1000,
			ComputePerDay:   5000,
			MaxStorageBytes: 10 << 20,
		}
	}
}

// QuotaViolation describes one exceeded limit. Callers receive the full list
// so denials can report specifics rather than a generic failure.
type QuotaViolation struct {
	Limit  string `json:"limit"`
	Window string `json:"window"`
	Used   int64  `json:"used"`
	Max    int64  `json:"max"`
}

func (v QuotaViolation) String() string {
	return fmt.Sprintf("%s (%s): %d/%d", v.Limit, v.Window, v.Used, v.Max)
}

// SetUserQuotas overrides a user's quotas.
func (g *Governor) SetUserQuotas(userID string, q UserQuotas) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.userQuotas[userID] = q
}

// SetUserTier assigns the tier baseline to a user.
func (g *Governor) SetUserTier(userID string, tier Tier) {
	g.SetUserQuotas(userID, g.tierBaseline(tier))
}

// SetTierQuotas replaces the baseline quotas for a tier. Applied by config
// load and hot-reload; existing per-user overrides are unaffected.
func (g *Governor) SetTierQuotas(tier Tier, q UserQuotas) {
	g.mu.Lock()
	defer g.mu.Unlock()
	q.Tier = tier
	g.tierQuotas[tier] = q
}

// tierBaseline returns the configured baseline for a tier, falling back to
// the built-in defaults.
func (g *Governor) tierBaseline(tier Tier) UserQuotas {
	g.mu.RLock()
	q, ok := g.tierQuotas[tier]
	g.mu.RUnlock()
	if ok {
		return q
	}
	return DefaultTierQuotas(tier)
}

// quotasFor returns the user's quotas, defaulting to the free-tier baseline
// on first access.
func (g *Governor) quotasFor(userID string) UserQuotas {
	base := g.tierBaseline(TierFree)

	g.mu.Lock()
	defer g.mu.Unlock()

	q, ok := g.userQuotas[userID]
	if !ok {
		q = base
		g.userQuotas[userID] = q
	}
	return q
}

// CheckUserQuotas aggregates the user's usage over the trailing 1-hour and
// 24-hour windows plus lifetime storage, and returns every violated limit.
func (g *Governor) CheckUserQuotas(userID string) []QuotaViolation {
	q := g.quotasFor(userID)
	now := g.clock.Now()

	hist := g.historyFor(userID)
	hourly := hist.aggregate(now, time.Hour)
	daily := hist.aggregate(now, 24*time.Hour)

	g.mu.Lock()
	storage := g.userStorage[userID]
	g.mu.Unlock()

	var violations []QuotaViolation
	if q.LLMPerHour > 0 && hourly.Calls > q.LLMPerHour {
		violations = append(violations, QuotaViolation{Limit: "llm_calls", Window: "1h", Used: hourly.Calls, Max: q.LLMPerHour})
	}
	if q.LLMPerDay > 0 && daily.Calls > q.LLMPerDay {
		violations = append(violations, QuotaViolation{Limit: "llm_calls", Window: "24h", Used: daily.Calls, Max: q.LLMPerDay})
	}
	if q.ComputePerHour > 0 && hourly.ComputeUnits > q.ComputePerHour {
		violations = append(violations, QuotaViolation{Limit: "compute_units", Window: "1h", Used: hourly.ComputeUnits, Max: q.ComputePerHour})
	}
	if q.ComputePerDay > 0 && daily.ComputeUnits > q.ComputePerDay {
		violations = append(violations, QuotaViolation{Limit: "compute_units", Window: "24h", Used: daily.ComputeUnits, Max: q.ComputePerDay})
	}
	if q.MaxStorageBytes > 0 && storage > q.MaxStorageBytes {
		violations = append(violations, QuotaViolation{Limit: "storage_bytes", Window: "total", Used: storage, Max: q.MaxStorageBytes})
	}
	return violations
}
