// Package gateway turns completion requests into accounted token usage: it
// picks the routed model for the caller's tier, refuses requests the quota
// cannot cover, calls the provider with a single fallback retry, and records
// the consumed tokens against the credit ledger exactly once.
package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/veltoai/founder-launch/internal/ai/cost"
	"github.com/veltoai/founder-launch/internal/ai/providers"
	"github.com/veltoai/founder-launch/internal/ai/tokens"
	"github.com/veltoai/founder-launch/internal/config"
	"github.com/veltoai/founder-launch/internal/credits"
	"github.com/veltoai/founder-launch/pkg/licensing"
)

// Ledger is the slice of *credits.Ledger the gateway needs.
type Ledger interface {
	Identity() string
	State() (credits.CreditState, error)
	Record(ctx context.Context, u credits.Usage) (credits.CreditState, error)
}

// UsageRecorder receives one event per successful completion.
type UsageRecorder interface {
	Record(event cost.UsageEvent) cost.UsageEvent
}

// Options configures a Gateway.
type Options struct {
	Providers *providers.Set
	Router    *Router         // defaults to NewRouter()
	Counter   *tokens.Counter // defaults to the character heuristic
	Usage     UsageRecorder   // optional
	AI        *config.AIConfig
}

// Gateway serves completions for ledgers.
type Gateway struct {
	providers   *providers.Set
	router      *Router
	counter     *tokens.Counter
	usage       UsageRecorder
	maxTokens   int
	temperature float64
	metrics     *Metrics
}

// New builds a Gateway.
func New(opts Options) (*Gateway, error) {
	if opts.Providers == nil {
		return nil, fmt.Errorf("gateway requires a provider set")
	}
	g := &Gateway{
		providers:   opts.Providers,
		router:      opts.Router,
		counter:     opts.Counter,
		usage:       opts.Usage,
		maxTokens:   opts.AI.GetMaxOutputTokens(),
		temperature: config.DefaultTemperature,
		metrics:     GetMetrics(),
	}
	if opts.AI != nil {
		g.temperature = opts.AI.Temperature
	}
	if g.router == nil {
		g.router = NewRouter()
	}
	if g.counter == nil {
		g.counter = tokens.NewCounter(nil)
	}
	return g, nil
}

// Router returns the routing table in use.
func (g *Gateway) Router() *Router {
	return g.router
}

// Request is a completion request.
type Request struct {
	Messages []providers.Message `json:"messages"`
	// Tier, when set, is used instead of the ledger's tier. It is never
	// read from a client payload.
	Tier          licensing.Tier `json:"-"`
	Task          string         `json:"task,omitempty"`
	ModelOverride string         `json:"model,omitempty"`
	Provider      string         `json:"provider,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
}

// Response is a successful completion and the ledger state after recording it.
type Response struct {
	Content   string              `json:"content"`
	Model     string              `json:"model"`
	Provider  string              `json:"provider"`
	Tier      licensing.Tier      `json:"tier"`
	Task      Task                `json:"task"`
	Usage     credits.Usage       `json:"usage"`
	Estimated bool                `json:"estimated"`
	FellBack  bool                `json:"fell_back"`
	State     credits.CreditState `json:"state"`
}

// Complete runs one completion for the ledger's identity. Provider failures
// are returned as-is and nothing is recorded for them.
func (g *Gateway) Complete(ctx context.Context, ledger Ledger, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, ErrNoMessages
	}

	state, err := ledger.State()
	if err != nil {
		return nil, err
	}

	tier := state.Tier
	if req.Tier != "" {
		explicit, ok := licensing.ParseTier(string(req.Tier))
		if !ok {
			explicit = licensing.TierFree
		}
		tier = explicit
	}

	task, err := ParseTask(req.Task)
	if err != nil {
		return nil, err
	}

	provider, err := g.providers.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	var route Route
	override := strings.TrimSpace(req.ModelOverride)
	if override != "" {
		// An explicit model has no fallback.
		route = Route{Model: override}
	} else {
		route, err = g.router.Resolve(provider.Name(), task, tier)
		if err != nil {
			return nil, err
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}
	promptTokens := g.counter.CountMessageSetTokens(req.Messages)
	requested := promptTokens + maxTokens
	used := state.QuotaUsedThisPeriod()
	quota := licensing.QuotaFor(tier)
	if used+requested > quota {
		g.metrics.RecordQuotaRejection(string(tier))
		g.metrics.RecordCompletion(provider.Name(), string(tier), "quota")
		remaining := quota - used
		if remaining < 0 {
			remaining = 0
		}
		return nil, &QuotaExceededError{Tier: licensing.GetTierDisplayName(tier), Remaining: remaining, Requested: requested}
	}

	temperature := g.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	chatReq := providers.ChatRequest{
		Messages:    req.Messages,
		Model:       route.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	resp, err := provider.Chat(ctx, chatReq)
	fellBack := false
	if err != nil && route.Fallback != "" {
		if apiErr, ok := providers.AsAPIError(err); ok && apiErr.ModelUnavailable() {
			log.Warn().
				Err(err).
				Str("identity", ledger.Identity()).
				Str("tier", string(tier)).
				Str("model", route.Model).
				Str("fallback", route.Fallback).
				Msg("Routed model rejected, retrying with fallback")
			g.metrics.RecordFallback(provider.Name(), route.Model)
			chatReq.Model = route.Fallback
			fellBack = true
			resp, err = provider.Chat(ctx, chatReq)
		}
	}
	if err != nil {
		g.metrics.RecordCompletion(provider.Name(), string(tier), "error")
		return nil, err
	}

	usage, estimated := g.accountUsage(promptTokens, resp)
	if estimated {
		g.metrics.RecordEstimatedUsage(provider.Name())
	}

	after, err := ledger.Record(ctx, usage)
	if err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}
	g.metrics.RecordCompletion(provider.Name(), string(tier), "ok")

	model := resp.Model
	if model == "" {
		model = chatReq.Model
	}
	if g.usage != nil {
		g.usage.Record(cost.UsageEvent{
			Identity:      ledger.Identity(),
			Tier:          string(tier),
			Task:          string(task),
			Provider:      provider.Name(),
			RequestModel:  chatReq.Model,
			ResponseModel: resp.Model,
			InputTokens:   usage.InputTokens,
			OutputTokens:  usage.OutputTokens,
			Estimated:     estimated,
			FellBack:      fellBack,
		})
	}

	log.Debug().
		Str("identity", ledger.Identity()).
		Str("tier", string(tier)).
		Str("task", string(task)).
		Str("model", model).
		Int("input_tokens", usage.InputTokens).
		Int("output_tokens", usage.OutputTokens).
		Bool("estimated", estimated).
		Msg("Completion recorded")

	return &Response{
		Content:   resp.Content,
		Model:     model,
		Provider:  provider.Name(),
		Tier:      tier,
		Task:      task,
		Usage:     usage,
		Estimated: estimated,
		FellBack:  fellBack,
		State:     after,
	}, nil
}

// accountUsage prefers provider-reported counts and estimates otherwise.
func (g *Gateway) accountUsage(promptTokens int, resp *providers.ChatResponse) (credits.Usage, bool) {
	if resp.Usage != nil {
		return credits.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		}, false
	}
	return credits.Usage{
		InputTokens:  promptTokens,
		OutputTokens: g.counter.CountTokens(resp.Content),
	}, true
}
