package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Tier is a user's entitlement level.
type Tier string

const (
	// TierBasic is the default, quota-limited tier.
	TierBasic Tier = "basic"
	// TierPremium lifts creation quotas and raises the debrief word ceiling.
	TierPremium Tier = "premium"
)

// Unlimited marks a limit that never denies.
const Unlimited = -1

// DefaultPremiumProductID is the purchase product that grants TierPremium.
const DefaultPremiumProductID = "premium_subscription"

const (
	basicDailyIntentions = 4
	basicYearlyGoals     = 4
	basicDailyExercise   = 0
	basicDailySleep      = 0
	basicDebriefWords    = 150
	premiumDebriefWords  = 300
)

// ErrQuotaExceeded matches every *QuotaExceededError.
var ErrQuotaExceeded = errors.New("entitlement: quota exceeded")

// ParseTier maps a stored subscription status onto a Tier. Anything unrecognised is basic.
func ParseTier(raw string) Tier {
	if strings.EqualFold(strings.TrimSpace(raw), string(TierPremium)) {
		return TierPremium
	}
	return TierBasic
}

// String returns the stored representation of the tier.
func (t Tier) String() string {
	return string(t)
}

// Limits are derived from a tier on every check and are never persisted.
type Limits struct {
	MaxDailyIntentions int `json:"max_daily_intentions"`
	MaxYearlyGoals     int `json:"max_yearly_goals"`
	MaxDailyExercise   int `json:"max_daily_exercise"`
	MaxDailySleep      int `json:"max_daily_sleep"`
	MaxDebriefWords    int `json:"max_debrief_words"`
}

// LimitsFor returns the limits granted by tier.
func LimitsFor(tier Tier) Limits {
	if tier == TierPremium {
		return Limits{
			MaxDailyIntentions: Unlimited,
			MaxYearlyGoals:     Unlimited,
			MaxDailyExercise:   Unlimited,
			MaxDailySleep:      Unlimited,
			MaxDebriefWords:    premiumDebriefWords,
		}
	}
	return Limits{
		MaxDailyIntentions: basicDailyIntentions,
		MaxYearlyGoals:     basicYearlyGoals,
		MaxDailyExercise:   basicDailyExercise,
		MaxDailySleep:      basicDailySleep,
		MaxDebriefWords:    basicDebriefWords,
	}
}

// Quota names a creation quota enforced per time bucket.
type Quota string

const (
	// QuotaNone disables the gate for a collection.
	QuotaNone Quota = ""
	// QuotaDailyIntentions caps intentions per calendar day.
	QuotaDailyIntentions Quota = "daily_intentions"
	// QuotaYearlyGoals caps goals per calendar year.
	QuotaYearlyGoals Quota = "yearly_goals"
	// QuotaDailyExercise caps exercise entries per day. Basic accounts get none.
	QuotaDailyExercise Quota = "daily_exercise"
	// QuotaDailySleep caps sleep entries per day. Basic accounts get none.
	QuotaDailySleep Quota = "daily_sleep"
	// QuotaDebriefWords caps the word count of a single debrief.
	QuotaDebriefWords Quota = "debrief_words"
)

// Limit returns the ceiling for quota under these limits.
func (l Limits) Limit(quota Quota) int {
	switch quota {
	case QuotaDailyIntentions:
		return l.MaxDailyIntentions
	case QuotaYearlyGoals:
		return l.MaxYearlyGoals
	case QuotaDailyExercise:
		return l.MaxDailyExercise
	case QuotaDailySleep:
		return l.MaxDailySleep
	case QuotaDebriefWords:
		return l.MaxDebriefWords
	default:
		return Unlimited
	}
}

// Decision is the outcome of a gate check.
type Decision int

const (
	// Allow permits the mutation.
	Allow Decision = iota
	// Deny rejects the mutation; the caller must not write and should offer an upgrade.
	Deny
)

func (d Decision) String() string {
	if d == Deny {
		return "deny"
	}
	return "allow"
}

// CheckQuota decides whether one more item may join a bucket already holding existingCount items.
// A count equal to the limit denies.
func CheckQuota(tier Tier, quota Quota, existingCount int) Decision {
	limit := LimitsFor(tier).Limit(quota)
	if limit == Unlimited {
		return Allow
	}
	if existingCount >= limit {
		return Deny
	}
	return Allow
}

// CheckWordLimit decides whether a draft of wordCount words is within the tier's ceiling.
func CheckWordLimit(wordCount int, tier Tier) Decision {
	limit := LimitsFor(tier).MaxDebriefWords
	if limit != Unlimited && wordCount > limit {
		return Deny
	}
	return Allow
}

// CountWords counts whitespace-separated words. Runs of whitespace count as one separator.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// QuotaExceededError reports a denied gate check.
type QuotaExceededError struct {
	Quota Quota
	Tier  Tier
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("entitlement: %s limit of %d reached for %s tier", e.Quota, e.Limit, e.Tier)
}

// Is lets errors.Is match ErrQuotaExceeded.
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// NewQuotaExceededError builds the error for a denied check against quota.
func NewQuotaExceededError(tier Tier, quota Quota) *QuotaExceededError {
	return &QuotaExceededError{
		Quota: quota,
		Tier:  tier,
		Limit: LimitsFor(tier).Limit(quota),
	}
}

// TierSource resolves the current tier for a bound user. Implementations must not cache
// the answer beyond a single lookup.
type TierSource interface {
	CurrentTier(ctx context.Context) (Tier, error)
}

// TierSourceFunc adapts a function to TierSource.
type TierSourceFunc func(ctx context.Context) (Tier, error)

// CurrentTier calls f.
func (f TierSourceFunc) CurrentTier(ctx context.Context) (Tier, error) {
	return f(ctx)
}

// StaticTier always reports the same tier.
func StaticTier(tier Tier) TierSource {
	return TierSourceFunc(func(context.Context) (Tier, error) {
		return tier, nil
	})
}

// TierForProducts maps the active product identifiers reported by the purchase channel to a tier.
func TierForProducts(productIDs []string, premiumProductID string) Tier {
	premium := strings.TrimSpace(premiumProductID)
	if premium == "" {
		premium = DefaultPremiumProductID
	}
	for _, productID := range productIDs {
		if strings.TrimSpace(productID) == premium {
			return TierPremium
		}
	}
	return TierBasic
}
