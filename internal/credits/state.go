// Package credits meters AI token usage against tier quotas.
//
// A Ledger owns one identity's CreditState for a session. Writes are
// local-first: the in-memory state and the local cache change immediately,
// the remote document is written through an Outbox, and other sessions of
// the same identity learn about the change through a Subject.
package credits

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/veltoai/founder-launch/internal/docstore"
	"github.com/veltoai/founder-launch/pkg/licensing"
)

const (
	// UsersCollection holds one credit record per identity.
	UsersCollection = "users"
	// CacheKeyPrefix prefixes the local cache key of every identity.
	CacheKeyPrefix = "ai_credits_v1_"
	// AnonymousIdentity is used when no authenticated identity is known.
	AnonymousIdentity = "anonymous"
)

var (
	// ErrNotLoaded is returned by operations invoked before Load completes.
	ErrNotLoaded = errors.New("credit state not loaded")
	// ErrRemoteUnavailable wraps document store failures. It is logged, never
	// returned from ledger operations.
	ErrRemoteUnavailable = errors.New("remote credit store unavailable")
	// ErrMalformedCache marks local cache content that does not decode.
	ErrMalformedCache = errors.New("malformed credit cache data")
	// ErrInvalidAmount is returned for negative token amounts.
	ErrInvalidAmount = errors.New("token amount must not be negative")
	// ErrUnknownTier is returned by SetTier for tiers outside the catalog.
	ErrUnknownTier = errors.New("unknown tier")
)

// CreditState is one identity's usage record for the current period.
//
// Usage is stored as its input/output split plus granted credits; the
// period total is always derived, so the parts cannot drift from the sum.
type CreditState struct {
	Tier                  licensing.Tier          `json:"tier"`
	InputTokensUsed       int                     `json:"inputTokensUsed"`
	OutputTokensUsed      int                     `json:"outputTokensUsed"`
	CreditsGranted        int                     `json:"creditsGranted"`
	PeriodKey             string                  `json:"periodKey"`
	SubscriptionStartedAt *time.Time              `json:"subscriptionStartedAt,omitempty"`
	LastPaymentAt         *time.Time              `json:"lastPaymentAt,omitempty"`
	PaymentStatus         licensing.PaymentStatus `json:"paymentStatus"`
}

// NewCreditState returns the state of a first-time identity.
func NewCreditState(now time.Time) CreditState {
	return CreditState{
		Tier:          licensing.TierFree,
		PeriodKey:     PeriodKey(now),
		PaymentStatus: licensing.PaymentActive,
	}
}

// QuotaUsedThisPeriod is input plus output usage, less granted credits,
// floored at zero. It may exceed the quota; overdraft is recorded.
func (s CreditState) QuotaUsedThisPeriod() int {
	used := s.InputTokensUsed + s.OutputTokensUsed - s.CreditsGranted
	if used < 0 {
		return 0
	}
	return used
}

// Quota is the token quota of the state's tier.
func (s CreditState) Quota() int {
	return licensing.QuotaFor(s.Tier)
}

// RemainingCredits is the quota left this period, floored at zero.
func (s CreditState) RemainingCredits() int {
	remaining := s.Quota() - s.QuotaUsedThisPeriod()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// UsagePercent is usage as a percentage of quota, clamped to [0, 100].
func (s CreditState) UsagePercent() float64 {
	quota := s.Quota()
	if quota <= 0 {
		return 100
	}
	pct := float64(s.QuotaUsedThisPeriod()) / float64(quota) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

func (s CreditState) normalized() CreditState {
	if !s.Tier.IsKnown() {
		s.Tier = licensing.TierFree
	}
	s.PaymentStatus = licensing.ParsePaymentStatus(string(s.PaymentStatus))
	if s.InputTokensUsed < 0 {
		s.InputTokensUsed = 0
	}
	if s.OutputTokensUsed < 0 {
		s.OutputTokensUsed = 0
	}
	if s.CreditsGranted < 0 {
		s.CreditsGranted = 0
	}
	return s
}

func (s CreditState) clearUsage(now time.Time) CreditState {
	s.InputTokensUsed = 0
	s.OutputTokensUsed = 0
	s.CreditsGranted = 0
	s.PeriodKey = PeriodKey(now)
	return s
}

// View is the JSON shape returned to API clients.
type View struct {
	CreditState
	Identity            string  `json:"identity"`
	TierDisplayName     string  `json:"tierDisplayName"`
	Quota               int     `json:"quota"`
	QuotaUsedThisPeriod int     `json:"quotaUsedThisPeriod"`
	RemainingCredits    int     `json:"remainingCredits"`
	UsagePercent        float64 `json:"usagePercent"`
}

// NewView derives the client view of s.
func NewView(identity string, s CreditState) View {
	return View{
		CreditState:         s,
		Identity:            identity,
		TierDisplayName:     licensing.GetTierDisplayName(s.Tier),
		Quota:               s.Quota(),
		QuotaUsedThisPeriod: s.QuotaUsedThisPeriod(),
		RemainingCredits:    s.RemainingCredits(),
		UsagePercent:        s.UsagePercent(),
	}
}

// ResolveIdentity trims id and substitutes the anonymous identity for blanks.
func ResolveIdentity(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return AnonymousIdentity
	}
	return id
}

// CacheKey is the local cache key for identity.
func CacheKey(identity string) string {
	return CacheKeyPrefix + ResolveIdentity(identity)
}

// IdentityFromCacheKey reverses CacheKey.
func IdentityFromCacheKey(key string) (string, bool) {
	if !strings.HasPrefix(key, CacheKeyPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, CacheKeyPrefix)
	return id, id != ""
}

// cacheEntry is the serialized cache value. Origin identifies the writing
// ledger so it can ignore its own notifications.
type cacheEntry struct {
	Origin string      `json:"origin"`
	State  CreditState `json:"state"`
}

func encodeCacheEntry(origin string, s CreditState) (string, error) {
	raw, err := json.Marshal(cacheEntry{Origin: origin, State: s})
	if err != nil {
		return "", fmt.Errorf("encode credit cache: %w", err)
	}
	return string(raw), nil
}

func decodeCacheEntry(raw string) (cacheEntry, error) {
	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return cacheEntry{}, fmt.Errorf("%w: %v", ErrMalformedCache, err)
	}
	if entry.State.Tier == "" || entry.State.PeriodKey == "" {
		return cacheEntry{}, fmt.Errorf("%w: missing tier or period", ErrMalformedCache)
	}
	entry.State = entry.State.normalized()
	return entry, nil
}

// toDocument renders s as the remote record. Derived totals are written
// alongside for queries and dashboards; they are ignored on read.
func toDocument(s CreditState, now time.Time) (docstore.Document, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var doc docstore.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	// Merge writes must be able to clear optional timestamps.
	if s.SubscriptionStartedAt == nil {
		doc["subscriptionStartedAt"] = nil
	}
	if s.LastPaymentAt == nil {
		doc["lastPaymentAt"] = nil
	}
	doc["quotaUsedThisPeriod"] = s.QuotaUsedThisPeriod()
	doc["remainingCredits"] = s.RemainingCredits()
	doc["updatedAt"] = now.UTC().Format(time.RFC3339Nano)
	return doc, nil
}

// fromDocument decodes a remote record. Records written before usage was
// split carry only a period total, which is attributed to input.
func fromDocument(doc docstore.Document, now time.Time) (CreditState, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return CreditState{}, err
	}
	var s CreditState
	if err := json.Unmarshal(raw, &s); err != nil {
		return CreditState{}, fmt.Errorf("decode credit record: %w", err)
	}
	if s.InputTokensUsed == 0 && s.OutputTokensUsed == 0 {
		if legacy, ok := doc["quotaUsedThisPeriod"].(float64); ok && legacy > 0 {
			s.InputTokensUsed = int(legacy) + s.CreditsGranted
		} else if legacy, ok := doc["usedThisMonth"].(float64); ok && legacy > 0 {
			s.InputTokensUsed = int(legacy) + s.CreditsGranted
		}
	}
	if s.PeriodKey == "" {
		s.PeriodKey = PeriodKey(now)
	}
	return s.normalized(), nil
}
