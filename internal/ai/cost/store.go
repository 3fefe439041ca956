// Package cost records completion usage and rolls it up into token and
// estimated-USD summaries.
package cost

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// UsageEvent is a single successful completion. It intentionally excludes
// prompt and response content.
type UsageEvent struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Identity      string    `json:"identity"`
	Tier          string    `json:"tier"`
	Task          string    `json:"task,omitempty"`
	Provider      string    `json:"provider"`
	RequestModel  string    `json:"request_model"`
	ResponseModel string    `json:"response_model,omitempty"`
	InputTokens   int       `json:"input_tokens,omitempty"`
	OutputTokens  int       `json:"output_tokens,omitempty"`
	Estimated     bool      `json:"estimated,omitempty"` // counts came from the local estimator
	FellBack      bool      `json:"fell_back,omitempty"` // served by the tier's fallback model
}

// Persistence defines the storage contract for usage history.
type Persistence interface {
	SaveUsageHistory(events []UsageEvent) error
	LoadUsageHistory() ([]UsageEvent, error)
}

// DefaultMaxDays is the default retention window for raw usage events.
const DefaultMaxDays = 90

// maxTopIdentities bounds the per-identity rollup in a summary.
const maxTopIdentities = 20

// Store provides thread-safe usage tracking with optional persistence.
type Store struct {
	mu          sync.RWMutex
	events      []UsageEvent
	maxDays     int
	persistence Persistence

	// Debounced persistence to avoid a store write per completion.
	saveTimer    *time.Timer
	savePending  bool
	saveDebounce time.Duration
}

// NewStore creates a new usage store.
func NewStore(maxDays int) *Store {
	if maxDays <= 0 {
		maxDays = DefaultMaxDays
	}
	return &Store{
		events:       make([]UsageEvent, 0),
		maxDays:      maxDays,
		saveDebounce: 5 * time.Second,
	}
}

// RetentionDays returns the retention window in days.
func (s *Store) RetentionDays() int {
	return s.maxDays
}

// SetPersistence sets persistence and loads any existing history.
func (s *Store) SetPersistence(p Persistence) error {
	s.mu.Lock()
	s.persistence = p
	s.mu.Unlock()

	if p == nil {
		return nil
	}

	events, err := p.LoadUsageHistory()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.events = append(events, s.events...)
	sort.SliceStable(s.events, func(i, j int) bool {
		return s.events[i].Timestamp.Before(s.events[j].Timestamp)
	})
	s.trimLocked(time.Now())
	s.mu.Unlock()
	return nil
}

// Record appends a usage event and schedules persistence. The event gets an
// id and timestamp when it has none.
func (s *Store) Record(event UsageEvent) UsageEvent {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}

	s.mu.Lock()
	s.events = append(s.events, event)
	s.trimLocked(time.Now())
	s.scheduleSaveLocked()
	s.mu.Unlock()
	return event
}

// Clear removes all retained usage events and persists the empty history.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.events = s.events[:0]
	s.scheduleSaveLocked()
	s.mu.Unlock()
	return s.Flush()
}

// ListEvents returns a copy of the events within the last N days. A non-empty
// identity restricts the result to that identity.
func (s *Store) ListEvents(identity string, days int) []UsageEvent {
	_, cutoff, _ := s.window(days)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterLocked(identity, cutoff)
}

// GetSummary returns a rollup of all usage over the last N days.
func (s *Store) GetSummary(days int) Summary {
	return s.summarize("", days)
}

// GetIdentitySummary returns a rollup of one identity's usage over the last N days.
func (s *Store) GetIdentitySummary(identity string, days int) Summary {
	return s.summarize(strings.TrimSpace(identity), days)
}

func (s *Store) window(days int) (effectiveDays int, cutoff time.Time, truncated bool) {
	if days <= 0 {
		days = 30
	}
	effectiveDays = days
	if s.maxDays > 0 && effectiveDays > s.maxDays {
		effectiveDays = s.maxDays
		truncated = true
	}
	return effectiveDays, time.Now().AddDate(0, 0, -effectiveDays), truncated
}

func (s *Store) filterLocked(identity string, cutoff time.Time) []UsageEvent {
	out := make([]UsageEvent, 0, len(s.events))
	for _, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		if identity != "" && e.Identity != identity {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (s *Store) summarize(identity string, days int) Summary {
	if days <= 0 {
		days = 30
	}
	effectiveDays, cutoff, truncated := s.window(days)

	s.mu.RLock()
	events := s.filterLocked(identity, cutoff)
	s.mu.RUnlock()

	type pmKey struct {
		provider string
		model    string
	}

	pmTotals := make(map[pmKey]*ProviderModelSummary)
	dailyTotals := make(map[string]*DailySummary)

	var totalInput, totalOutput, totalCalls, fallbacks int64

	for _, e := range events {
		provider, model := ResolveProviderAndModel(e.Provider, e.RequestModel, e.ResponseModel)

		k := pmKey{provider: provider, model: model}
		pm := pmTotals[k]
		if pm == nil {
			pm = &ProviderModelSummary{Provider: provider, Model: model}
			pmTotals[k] = pm
		}
		pm.Calls++
		pm.InputTokens += int64(e.InputTokens)
		pm.OutputTokens += int64(e.OutputTokens)

		totalCalls++
		totalInput += int64(e.InputTokens)
		totalOutput += int64(e.OutputTokens)
		if e.FellBack {
			fallbacks++
		}

		usd, known, _ := EstimateUSD(provider, model, int64(e.InputTokens), int64(e.OutputTokens))
		if known {
			pm.EstimatedUSD += usd
			pm.PricingKnown = true
		}

		date := e.Timestamp.UTC().Format("2006-01-02")
		ds := dailyTotals[date]
		if ds == nil {
			ds = &DailySummary{Date: date}
			dailyTotals[date] = ds
		}
		ds.Calls++
		ds.InputTokens += int64(e.InputTokens)
		ds.OutputTokens += int64(e.OutputTokens)
		if known {
			ds.EstimatedUSD += usd
		}
	}

	providerModels := make([]ProviderModelSummary, 0, len(pmTotals))
	for _, pm := range pmTotals {
		pm.TotalTokens = pm.InputTokens + pm.OutputTokens
		providerModels = append(providerModels, *pm)
	}
	sort.Slice(providerModels, func(i, j int) bool {
		if providerModels[i].Provider == providerModels[j].Provider {
			return providerModels[i].Model < providerModels[j].Model
		}
		return providerModels[i].Provider < providerModels[j].Provider
	})

	daily := make([]DailySummary, 0, len(dailyTotals))
	for _, ds := range dailyTotals {
		ds.TotalTokens = ds.InputTokens + ds.OutputTokens
		daily = append(daily, *ds)
	}
	sort.Slice(daily, func(i, j int) bool {
		return daily[i].Date < daily[j].Date
	})

	totals := ProviderModelSummary{
		Provider:     "all",
		Calls:        totalCalls,
		InputTokens:  totalInput,
		OutputTokens: totalOutput,
		TotalTokens:  totalInput + totalOutput,
	}
	for _, pm := range providerModels {
		if pm.PricingKnown {
			totals.EstimatedUSD += pm.EstimatedUSD
			totals.PricingKnown = true
		}
	}

	summary := Summary{
		Identity:       identity,
		Days:           days,
		RetentionDays:  s.maxDays,
		EffectiveDays:  effectiveDays,
		Truncated:      truncated,
		PricingAsOf:    PricingAsOf(),
		Fallbacks:      fallbacks,
		ProviderModels: providerModels,
		Tasks:          summarizeTasks(events),
		DailyTotals:    daily,
		Totals:         totals,
	}
	if identity == "" {
		summary.Identities = summarizeIdentities(events)
	}
	return summary
}

// Flush immediately writes any pending changes to persistence.
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.savePending = false
	events := make([]UsageEvent, len(s.events))
	copy(events, s.events)
	p := s.persistence
	s.mu.Unlock()

	if p != nil {
		return p.SaveUsageHistory(events)
	}
	return nil
}

func (s *Store) trimLocked(now time.Time) {
	if s.maxDays <= 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -s.maxDays)
	filtered := s.events[:0]
	for _, e := range s.events {
		if !e.Timestamp.Before(cutoff) {
			filtered = append(filtered, e)
		}
	}
	s.events = filtered
}

func (s *Store) scheduleSaveLocked() {
	if s.persistence == nil {
		return
	}

	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}

	s.savePending = true
	s.saveTimer = time.AfterFunc(s.saveDebounce, func() {
		s.mu.Lock()
		if !s.savePending {
			s.mu.Unlock()
			return
		}
		s.savePending = false
		events := make([]UsageEvent, len(s.events))
		copy(events, s.events)
		p := s.persistence
		s.mu.Unlock()

		if p != nil {
			if err := p.SaveUsageHistory(events); err != nil {
				log.Error().Err(err).Int("events", len(events)).Msg("Failed to save AI usage history")
			}
		}
	})
}

// ProviderModelSummary is a rollup for a provider/model pair.
type ProviderModelSummary struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Calls        int64   `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	EstimatedUSD float64 `json:"estimated_usd,omitempty"`
	PricingKnown bool    `json:"pricing_known"`
}

// DailySummary is a rollup for a single UTC day across all providers.
type DailySummary struct {
	Date         string  `json:"date"`
	Calls        int64   `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	EstimatedUSD float64 `json:"estimated_usd,omitempty"`
}

// TaskSummary is a rollup for a completion task (content, coaching, ...).
type TaskSummary struct {
	Task         string  `json:"task"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	EstimatedUSD float64 `json:"estimated_usd,omitempty"`
	PricingKnown bool    `json:"pricing_known"`
}

// IdentitySummary is a rollup for one account.
type IdentitySummary struct {
	Identity     string  `json:"identity"`
	Tier         string  `json:"tier"`
	Calls        int64   `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	EstimatedUSD float64 `json:"estimated_usd,omitempty"`
	PricingKnown bool    `json:"pricing_known"`
}

// Summary is returned by the usage summary API.
type Summary struct {
	Identity      string `json:"identity,omitempty"`
	Days          int    `json:"days"`
	RetentionDays int    `json:"retention_days"`
	EffectiveDays int    `json:"effective_days"`
	Truncated     bool   `json:"truncated"`

	PricingAsOf string `json:"pricing_as_of,omitempty"`
	Fallbacks   int64  `json:"fallbacks"`

	ProviderModels []ProviderModelSummary `json:"provider_models"`
	Tasks          []TaskSummary          `json:"tasks"`
	Identities     []IdentitySummary      `json:"identities,omitempty"`
	DailyTotals    []DailySummary         `json:"daily_totals"`
	Totals         ProviderModelSummary   `json:"totals"`
}

// taskOrder lists the routed tasks in display order; anything else sorts
// after them alphabetically.
var taskOrder = map[string]int{
	"content":  0,
	"coaching": 1,
	"research": 2,
	"qa":       3,
	"unknown":  4,
}

func summarizeTasks(events []UsageEvent) []TaskSummary {
	type totals struct {
		input  int64
		output int64
		usd    float64
		known  bool
	}

	perTask := make(map[string]*totals)
	for _, e := range events {
		task := strings.TrimSpace(strings.ToLower(e.Task))
		if task == "" {
			task = "unknown"
		}
		t := perTask[task]
		if t == nil {
			t = &totals{}
			perTask[task] = t
		}

		t.input += int64(e.InputTokens)
		t.output += int64(e.OutputTokens)

		provider, model := ResolveProviderAndModel(e.Provider, e.RequestModel, e.ResponseModel)
		usd, known, _ := EstimateUSD(provider, model, int64(e.InputTokens), int64(e.OutputTokens))
		if known {
			t.usd += usd
			t.known = true
		}
	}

	out := make([]TaskSummary, 0, len(perTask))
	for task, t := range perTask {
		out = append(out, TaskSummary{
			Task:         task,
			InputTokens:  t.input,
			OutputTokens: t.output,
			TotalTokens:  t.input + t.output,
			EstimatedUSD: t.usd,
			PricingKnown: t.known,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		oi, okI := taskOrder[out[i].Task]
		oj, okJ := taskOrder[out[j].Task]
		if okI && okJ && oi != oj {
			return oi < oj
		}
		if okI != okJ {
			return okI
		}
		return out[i].Task < out[j].Task
	})
	return out
}

func summarizeIdentities(events []UsageEvent) []IdentitySummary {
	type totals struct {
		tier   string
		last   time.Time
		calls  int64
		input  int64
		output int64
		usd    float64
		known  bool
	}

	perIdentity := make(map[string]*totals)
	for _, e := range events {
		identity := strings.TrimSpace(e.Identity)
		if identity == "" {
			continue
		}
		t := perIdentity[identity]
		if t == nil {
			t = &totals{}
			perIdentity[identity] = t
		}
		// Report the tier of the most recent call.
		if !e.Timestamp.Before(t.last) {
			t.last = e.Timestamp
			t.tier = e.Tier
		}
		t.calls++
		t.input += int64(e.InputTokens)
		t.output += int64(e.OutputTokens)

		provider, model := ResolveProviderAndModel(e.Provider, e.RequestModel, e.ResponseModel)
		usd, known, _ := EstimateUSD(provider, model, int64(e.InputTokens), int64(e.OutputTokens))
		if known {
			t.usd += usd
			t.known = true
		}
	}

	out := make([]IdentitySummary, 0, len(perIdentity))
	for identity, t := range perIdentity {
		out = append(out, IdentitySummary{
			Identity:     identity,
			Tier:         t.tier,
			Calls:        t.calls,
			InputTokens:  t.input,
			OutputTokens: t.output,
			TotalTokens:  t.input + t.output,
			EstimatedUSD: t.usd,
			PricingKnown: t.known,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].EstimatedUSD != out[j].EstimatedUSD {
			return out[i].EstimatedUSD > out[j].EstimatedUSD
		}
		if out[i].TotalTokens != out[j].TotalTokens {
			return out[i].TotalTokens > out[j].TotalTokens
		}
		return out[i].Identity < out[j].Identity
	})

	if len(out) > maxTopIdentities {
		out = out[:maxTopIdentities]
	}
	return out
}
